// Package retry provides bounded retry with exponential backoff and jitter
// for storage-layer faults. Business validation failures must not be retried;
// callers pass only operations that are no-ops when they fail.
package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// Config bounds the retry loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig keeps retries short: storage blips either clear quickly or
// the request should fail fast back to the caller.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    500 * time.Millisecond,
	}
}

// Do runs fn up to cfg.MaxAttempts times, sleeping with exponential backoff
// and jitter between attempts. It returns nil on the first success, the
// context error if ctx ends first, and the last error otherwise.
func Do(ctx context.Context, cfg Config, name string, fn func() error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		delay := backoff(cfg, attempt)
		slog.Warn("retrying after storage fault",
			"op", name, "attempt", attempt, "delay", delay.String(), "err", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%s: %d attempts exhausted: %w", name, cfg.MaxAttempts, lastErr)
}

func backoff(cfg Config, attempt int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(2, float64(attempt-1))
	if max := float64(cfg.MaxDelay); d > max {
		d = max
	}
	// Jitter ±20% to spread out contending retriers.
	d *= 0.8 + 0.4*rand.Float64()
	return time.Duration(d)
}
