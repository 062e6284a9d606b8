package retry

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// Config controls exponential backoff. Zero values fall back to the
// defaults below.
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64

	// RetryIf filters which errors are worth another attempt. Nil retries
	// everything.
	RetryIf func(error) bool

	Logger *zap.Logger
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	if c.Jitter == 0 {
		c.Jitter = 0.1
	}
}

// Do runs the operation up to MaxAttempts times with exponential backoff
// between failures. The context is checked before each attempt and while
// sleeping, so cancellation cuts the wait short.
func Do(ctx context.Context, cfg Config, operation func() error) error {
	cfg.applyDefaults()

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 && cfg.Logger != nil {
				cfg.Logger.Info("Operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}

		if cfg.RetryIf != nil && !cfg.RetryIf(lastErr) {
			return lastErr
		}
		if attempt >= cfg.MaxAttempts {
			return lastErr
		}

		if cfg.Logger != nil {
			cfg.Logger.Warn("Operation failed, retrying",
				zap.Error(lastErr),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", cfg.MaxAttempts),
				zap.Duration("delay", delay),
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay, cfg.Jitter)):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}

// jittered spreads the delay by up to +/- fraction so concurrent callers
// do not retry in lockstep.
func jittered(d time.Duration, fraction float64) time.Duration {
	if fraction <= 0 {
		return d
	}
	spread := float64(d) * fraction
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
