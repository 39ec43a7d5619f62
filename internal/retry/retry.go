// Package retry provides bounded retry with exponential backoff for
// best-effort outbound calls.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/common-ad-network/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int           // Maximum number of attempts
	InitialDelay time.Duration // Delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultConfig returns a small default suitable for fire-and-forget
// analytics writes: 200ms, 400ms.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// Func is a function that can be retried
type Func func(ctx context.Context, attempt int) error

// WithExponentialBackoff executes fn until it succeeds, the attempt budget
// is exhausted, or the context is cancelled. Returns the last error.
func WithExponentialBackoff(ctx context.Context, cfg *Config, fn Func) error {
	logger := logging.FromContext(ctx)

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn(ctx, attempt)
		if lastErr == nil {
			return nil
		}

		if attempt >= cfg.MaxAttempts {
			break
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := calculateDelay(cfg, attempt)
		logger.WithFields(map[string]interface{}{
			"attempt": attempt,
			"delay":   delay.String(),
			"error":   lastErr.Error(),
		}).Warn("Operation failed, retrying")

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// calculateDelay computes the backoff delay for an attempt
func calculateDelay(cfg *Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
