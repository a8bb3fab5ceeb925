package escalation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// WorkerConfig contains worker configuration.
type WorkerConfig struct {
	NumWorkers        int
	PollInterval      time.Duration
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultWorkerConfig returns default worker configuration.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		NumWorkers:        2,
		PollInterval:      time.Second,
		MaxAttempts:       5,
		InitialBackoff:    time.Second,
		MaxBackoff:        5 * time.Minute,
		BackoffMultiplier: 2.0,
	}
}

// Worker delivers queued escalations.
type Worker struct {
	config  WorkerConfig
	queue   Queue
	senders map[string]Sender
	now     func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker creates a worker delivering through the given senders.
func NewWorker(config WorkerConfig, queue Queue, senders ...Sender) *Worker {
	defaults := DefaultWorkerConfig()
	if config.NumWorkers <= 0 {
		config.NumWorkers = defaults.NumWorkers
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}

	byChannel := make(map[string]Sender, len(senders))
	for _, s := range senders {
		byChannel[s.Channel()] = s
	}

	return &Worker{
		config:  config,
		queue:   queue,
		senders: byChannel,
		now:     time.Now,
	}
}

// Channels returns the names of the configured senders.
func (w *Worker) Channels() []string {
	channels := make([]string, 0, len(w.senders))
	for name := range w.senders {
		channels = append(channels, name)
	}
	return channels
}

// Start launches worker goroutines.
func (w *Worker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	slog.Info("starting escalation worker",
		"workers", w.config.NumWorkers,
		"poll_interval", w.config.PollInterval,
		"channels", w.Channels(),
	)

	for i := 0; i < w.config.NumWorkers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i)
	}
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	slog.Info("escalation worker stopped")
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()

	for {
		item, err := w.queue.Dequeue(ctx, w.config.PollInterval)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Error("failed to dequeue escalation", "worker", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.config.PollInterval):
			}
			continue
		}
		if item == nil {
			continue
		}

		w.processItem(ctx, item)
	}
}

// processItem delivers one item and reschedules or buries it on failure.
func (w *Worker) processItem(ctx context.Context, item *Item) {
	sender, ok := w.senders[item.Channel]
	if !ok {
		item.LastError = "no sender for channel"
		slog.Error("no sender for escalation channel", "item_id", item.ID, "channel", item.Channel)
		w.bury(ctx, item)
		recordSent(item.Channel, "failed")
		return
	}

	start := time.Now()
	err := sender.Send(ctx, Render(item.Escalation))
	if err == nil {
		recordSent(item.Channel, "success")
		recordSendDuration(item.Channel, time.Since(start))
		slog.Debug("escalation sent",
			"item_id", item.ID,
			"escalation_id", item.Escalation.ID,
			"channel", item.Channel,
		)
		return
	}

	w.handleSendError(ctx, item, err)
}

func (w *Worker) handleSendError(ctx context.Context, item *Item, err error) {
	item.Attempts++
	item.LastError = err.Error()

	slog.Warn("escalation send failed",
		"item_id", item.ID,
		"channel", item.Channel,
		"attempt", item.Attempts,
		"max_attempts", w.config.MaxAttempts,
		"error", err,
	)

	if !isRetryable(err) || item.Attempts >= w.config.MaxAttempts {
		w.bury(ctx, item)
		recordSent(item.Channel, "failed")
		return
	}

	next := w.calculateNextAttempt(item.Attempts)
	if schedErr := w.queue.Schedule(context.WithoutCancel(ctx), item, next); schedErr != nil {
		slog.Error("failed to schedule escalation retry", "item_id", item.ID, "error", schedErr)
	}
	recordSent(item.Channel, "retry")

	slog.Info("escalation scheduled for retry",
		"item_id", item.ID,
		"next_attempt", next,
	)
}

func (w *Worker) bury(ctx context.Context, item *Item) {
	if err := w.queue.Bury(context.WithoutCancel(ctx), item); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("failed to bury escalation", "item_id", item.ID, "error", err)
	}
}

// calculateNextAttempt schedules the given retry attempt (1-based) without jitter.
func (w *Worker) calculateNextAttempt(attempt int) time.Time {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.config.InitialBackoff
	b.MaxInterval = w.config.MaxBackoff
	b.Multiplier = w.config.BackoffMultiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	delay := b.InitialInterval
	for range attempt {
		delay = b.NextBackOff()
	}
	return w.now().Add(delay)
}
