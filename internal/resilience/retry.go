// Package resilience provides retry and circuit breaker primitives that
// protect the transcription pipeline from transient provider failures.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Retry defaults. Provider overload signals carry their own minimum wait so
// throttled calls back off longer than ordinary transient failures.
const (
	DefaultMaxAttempts   = 3
	DefaultBaseDelay     = 2 * time.Second
	DefaultOverloadDelay = 30 * time.Second
)

// RetryConfig holds tuning knobs for [Retrier].
type RetryConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3.
	MaxAttempts int

	// BaseDelay is the wait before the first retry. Each subsequent retry
	// doubles it. Default: 2s.
	BaseDelay time.Duration

	// OverloadDelay is the minimum wait applied when the failure is a
	// throttling signal, regardless of attempt count. Default: 30s.
	OverloadDelay time.Duration

	// Retryable decides whether err warrants another attempt. When nil every
	// error is retried.
	Retryable func(err error) bool

	// IsOverload reports whether err is a throttling signal that should wait
	// at least OverloadDelay. When nil no error is treated as overload.
	IsOverload func(err error) bool
}

// Retrier re-executes a function with exponential backoff. Delays are waited
// out in place, blocking the caller's sequential flow rather than spawning
// concurrent attempts.
type Retrier struct {
	cfg RetryConfig
}

// NewRetrier creates a [Retrier] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewRetrier(cfg RetryConfig) *Retrier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultBaseDelay
	}
	if cfg.OverloadDelay <= 0 {
		cfg.OverloadDelay = DefaultOverloadDelay
	}
	return &Retrier{cfg: cfg}
}

// Do runs fn until it succeeds, the retry budget is exhausted, a
// non-retryable error occurs, or ctx is cancelled. The error from the final
// attempt is returned.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if r.cfg.Retryable != nil && !r.cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.Delay(attempt, lastErr)
		slog.Warn("attempt failed, backing off",
			"name", r.cfg.Name,
			"attempt", attempt,
			"max_attempts", r.cfg.MaxAttempts,
			"delay", delay,
			"error", lastErr,
		)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("resilience: %s: %d attempts exhausted: %w", r.cfg.Name, r.cfg.MaxAttempts, lastErr)
}

// Delay computes the backoff before the retry that follows the given
// 1-based attempt. The delay doubles per attempt; throttling errors wait at
// least OverloadDelay.
func (r *Retrier) Delay(attempt int, err error) time.Duration {
	delay := r.cfg.BaseDelay << (attempt - 1)
	if r.cfg.IsOverload != nil && r.cfg.IsOverload(err) && delay < r.cfg.OverloadDelay {
		delay = r.cfg.OverloadDelay
	}
	return delay
}

// sleep waits for d or until ctx is cancelled, whichever comes first.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
