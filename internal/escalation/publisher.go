// Package escalation queues escalation notices and delivers them to external channels.
package escalation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/pkg/ctxlog"
	"github.com/google/uuid"
)

// ErrNoChannels is returned when escalating with no delivery channels configured.
var ErrNoChannels = errors.New("no escalation channels configured")

// Publisher turns escalations into one queue item per channel.
type Publisher struct {
	queue    Queue
	channels []string
	now      func() time.Time
}

// NewPublisher creates a publisher for the given channel names.
func NewPublisher(queue Queue, channels ...string) *Publisher {
	return &Publisher{
		queue:    queue,
		channels: channels,
		now:      time.Now,
	}
}

// Escalate builds an escalation for the incident and enqueues it.
func (p *Publisher) Escalate(ctx context.Context, incident *domain.Incident, reasons []string) (*domain.Escalation, error) {
	if len(p.channels) == 0 {
		return nil, ErrNoChannels
	}

	now := p.now().UTC()
	e := domain.Escalation{
		ID:           uuid.NewString(),
		IncidentID:   incident.ID,
		IncidentType: incident.Type,
		ContractorID: incident.ContractorID,
		Severity:     incident.Severity,
		Reasons:      reasons,
		Location:     incident.Location,
		CreatedAt:    now,
	}

	for _, channel := range p.channels {
		item := &Item{
			ID:         uuid.NewString(),
			Channel:    channel,
			Escalation: e,
			EnqueuedAt: now,
		}
		if err := p.queue.Enqueue(ctx, item); err != nil {
			recordEnqueued(channel, "failed")
			return nil, fmt.Errorf("enqueue escalation for %s: %w", channel, err)
		}
		recordEnqueued(channel, "success")
	}

	ctxlog.FromContext(ctx).Info("incident escalated",
		"incident_id", incident.ID,
		"escalation_id", e.ID,
		"reasons", reasons,
	)
	return &e, nil
}
