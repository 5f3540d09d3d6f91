package loader

import (
	"context"
	"log/slog"
	"time"

	"github.com/clinsync/clinsync-go/internal/conf"
	"github.com/clinsync/clinsync-go/internal/errors"
)

// RetryPolicy retries transient failures with exponential backoff. The same
// policy covers source reads and target writes; fatal and row-level errors
// are never retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// NewRetryPolicy builds a policy from settings, applying sane floors so a
// zeroed config cannot spin-loop.
func NewRetryPolicy(settings conf.RetrySettings) RetryPolicy {
	policy := RetryPolicy{
		MaxAttempts:    settings.MaxAttempts,
		InitialBackoff: settings.InitialBackoff,
		MaxBackoff:     settings.MaxBackoff,
		Multiplier:     settings.Multiplier,
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = time.Second
	}
	if policy.MaxBackoff < policy.InitialBackoff {
		policy.MaxBackoff = policy.InitialBackoff
	}
	if policy.Multiplier < 1 {
		policy.Multiplier = 2
	}
	return policy
}

// Do runs fn, retrying while the returned error is retryable and attempts
// remain. Context cancellation stops the backoff wait immediately.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, operation string, fn func() error) error {
	backoff := p.InitialBackoff
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !errors.IsRetryable(err) || attempt == p.MaxAttempts {
			return err
		}

		if logger != nil {
			logger.Warn("retrying after transient failure",
				"operation", operation, "attempt", attempt, "backoff", backoff, "error", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff = time.Duration(float64(backoff) * p.Multiplier)
		if backoff > p.MaxBackoff {
			backoff = p.MaxBackoff
		}
	}
	return err
}
