// Package retry provides exponential backoff with jitter for transient
// remote failures. The caller decides what counts as transient via the
// Retryable predicate; anything else aborts immediately.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Config defines backoff behavior.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// Retryable classifies errors; nil means retry everything.
	Retryable func(error) bool
}

// DefaultConfig returns the settings used for partner API fetches.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// WithBackoff runs fn until it succeeds, returns a non-retryable error,
// exhausts MaxAttempts, or the context is cancelled.
func WithBackoff(ctx context.Context, cfg Config, logger *zap.Logger, operation string, fn func() error) error {
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		default:
		}

		lastErr = fn()
		if lastErr == nil {
			if attempt > 1 {
				logger.Info("operation succeeded after retries",
					zap.String("operation", operation),
					zap.Int("attempts", attempt))
			}
			return nil
		}

		if cfg.Retryable != nil && !cfg.Retryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			return fmt.Errorf("%s failed after %d attempts: %w", operation, cfg.MaxAttempts, lastErr)
		}

		delay := backoffDelay(cfg, attempt)

		logger.Warn("operation failed, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("retry_in", delay),
			zap.Error(lastErr))

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return lastErr
}

func backoffDelay(cfg Config, attempt int) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	// Jitter spreads simultaneous clients apart.
	if cfg.Jitter {
		delay += rand.Float64()*0.3*delay - 0.15*delay
	}

	return time.Duration(delay)
}
