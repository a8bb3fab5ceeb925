package coordination

import (
	"context"
	"errors"
	"time"

	"github.com/bissquit/wastewatch/internal/domain"
	"github.com/bissquit/wastewatch/internal/pkg/ctxlog"
	"github.com/cenkalti/backoff/v4"
)

// RetryConfig controls how storage steps are retried.
type RetryConfig struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultRetryConfig returns three attempts starting at 50ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2,
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.Multiplier < 1 {
		c.Multiplier = def.Multiplier
	}
	return c
}

func (c RetryConfig) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialBackoff
	b.MaxInterval = c.MaxBackoff
	b.Multiplier = c.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.MaxAttempts-1)), ctx)
}

// retry runs op until it succeeds, fails with a non-transient error,
// or the attempt budget is spent. Only domain.ErrStorageUnavailable is transient.
func retry[T any](ctx context.Context, config RetryConfig, step string, op func() (T, error)) (T, error) {
	var result T
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		var err error
		result, err = op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrStorageUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}, config.newBackOff(ctx), func(err error, wait time.Duration) {
		ctxlog.FromContext(ctx).Warn("storage step failed, retrying",
			"step", step,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
