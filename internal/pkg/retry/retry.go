// Package retry provides a bounded retry wrapper with exponential
// backoff and jitter for transient substrate failures.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/ignite/mailflow/internal/errs"
	"github.com/ignite/mailflow/internal/pkg/logger"
)

// Config controls retry behavior.
type Config struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

// DefaultConfig returns the standard retry policy: 5 retries, 1s base,
// 5 minute cap, ±10% jitter.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   5,
		BaseDelay:    1 * time.Second,
		MaxDelay:     5 * time.Minute,
		JitterFactor: 0.1,
	}
}

// Do runs op until it succeeds, returns a non-retriable error, the retry
// budget is exhausted, or the context deadline expires. The deadline is
// checked before every backoff sleep; on expiry the last error is
// returned without further attempts.
func Do[T any](ctx context.Context, cfg Config, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if ctx.Err() != nil {
				return zero, fmt.Errorf("%s: deadline expired after %d attempts: %w", name, attempt, lastErr)
			}

			delay := backoff(cfg, attempt)
			logger.Warn("retrying operation",
				"operation", name,
				"attempt", attempt,
				"max_retries", cfg.MaxRetries,
				"delay", delay.String(),
				"error", lastErr.Error())

			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return zero, fmt.Errorf("%s: deadline expired after %d attempts: %w", name, attempt, lastErr)
			}
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errs.IsRetriable(err) {
			return zero, err
		}
	}

	return zero, fmt.Errorf("%s: exhausted %d retries: %w", name, cfg.MaxRetries, lastErr)
}

// backoff computes min(base · 2^(attempt-1), maxDelay) · (1 ± jitter).
func backoff(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	jitter := 1 + (rand.Float64()*2-1)*cfg.JitterFactor
	jittered := time.Duration(delay * jitter)

	if jittered < 10*time.Millisecond {
		jittered = 10 * time.Millisecond
	}
	return jittered
}
