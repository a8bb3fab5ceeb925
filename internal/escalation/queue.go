package escalation

import (
	"context"
	"time"

	"github.com/bissquit/wastewatch/internal/domain"
)

// Item is one escalation awaiting delivery to one channel.
type Item struct {
	ID         string            `json:"id"`
	Channel    string            `json:"channel"`
	Escalation domain.Escalation `json:"escalation"`
	Attempts   int               `json:"attempts"`
	LastError  string            `json:"last_error,omitempty"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// QueueStats counts items by state.
type QueueStats struct {
	Ready   int64
	Delayed int64
	Failed  int64
}

// Queue stores items between publishing and delivery.
type Queue interface {
	Enqueue(ctx context.Context, item *Item) error
	// Dequeue waits up to wait for a ready item and returns nil when none arrives.
	Dequeue(ctx context.Context, wait time.Duration) (*Item, error)
	// Schedule makes item ready again at the given time.
	Schedule(ctx context.Context, item *Item, at time.Time) error
	// Bury moves item to the failed set.
	Bury(ctx context.Context, item *Item) error
	Stats(ctx context.Context) (QueueStats, error)
}
