package escalation

import (
	"context"
	"sync"
	"time"
)

type delayedItem struct {
	item *Item
	at   time.Time
}

// MemoryQueue is an in-process Queue. Items are lost on restart.
type MemoryQueue struct {
	mu      sync.Mutex
	ready   []*Item
	delayed []delayedItem
	failed  []*Item
	notify  chan struct{}
	now     func() time.Time
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		notify: make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Enqueue appends an item.
func (q *MemoryQueue) Enqueue(_ context.Context, item *Item) error {
	q.mu.Lock()
	cp := *item
	q.ready = append(q.ready, &cp)
	q.mu.Unlock()
	q.signal()
	return nil
}

// Dequeue pops the oldest ready item, waiting up to wait.
func (q *MemoryQueue) Dequeue(ctx context.Context, wait time.Duration) (*Item, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if item := q.pop(); item != nil {
			return item, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return q.pop(), nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) pop() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	kept := q.delayed[:0]
	for _, d := range q.delayed {
		if !d.at.After(now) {
			q.ready = append(q.ready, d.item)
		} else {
			kept = append(kept, d)
		}
	}
	q.delayed = kept

	if len(q.ready) == 0 {
		return nil
	}
	item := q.ready[0]
	q.ready[0] = nil
	q.ready = q.ready[1:]
	return item
}

// Schedule parks item until at.
func (q *MemoryQueue) Schedule(_ context.Context, item *Item, at time.Time) error {
	q.mu.Lock()
	cp := *item
	q.delayed = append(q.delayed, delayedItem{item: &cp, at: at})
	q.mu.Unlock()
	return nil
}

// Bury records item as failed.
func (q *MemoryQueue) Bury(_ context.Context, item *Item) error {
	q.mu.Lock()
	cp := *item
	q.failed = append(q.failed, &cp)
	q.mu.Unlock()
	return nil
}

// Stats returns current counts.
func (q *MemoryQueue) Stats(_ context.Context) (QueueStats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Ready:   int64(len(q.ready)),
		Delayed: int64(len(q.delayed)),
		Failed:  int64(len(q.failed)),
	}, nil
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
