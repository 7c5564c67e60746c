// Package poll repeats a readiness check at a fixed interval until it passes.
package poll

import (
	"context"
	"fmt"
	"time"
)

// DefaultInterval is the pause between two failed checks.
const DefaultInterval = 5 * time.Second

// SleepFunc pauses for d or until ctx is done, whichever comes first.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds polling configuration.
type Config struct {
	Interval time.Duration
	Sleep    SleepFunc
	OnRetry  func(attempt int, err error)
}

// Option is a functional option for polling configuration.
type Option func(*Config)

// Until calls check until it returns nil and reports how many times check was
// called. There is no attempt limit: the only other way out is cancellation of
// ctx, in which case the context error is returned wrapped.
func Until(ctx context.Context, check func(ctx context.Context) error, opts ...Option) (int, error) {
	cfg := &Config{
		Interval: DefaultInterval,
		Sleep:    SleepContext,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, fmt.Errorf("polling cancelled after %d attempts: %w", attempt-1, err)
		}

		err := check(ctx)
		if err == nil {
			return attempt, nil
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}

		if sleepErr := cfg.Sleep(ctx, cfg.Interval); sleepErr != nil {
			return attempt, fmt.Errorf("polling cancelled after %d attempts: %w", attempt, sleepErr)
		}
	}
}

// SleepContext is the default SleepFunc backed by a timer.
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// WithInterval sets the pause between failed checks.
func WithInterval(d time.Duration) Option {
	return func(c *Config) {
		c.Interval = d
	}
}

// WithSleep replaces the sleep implementation, mainly so tests can simulate
// elapsed time.
func WithSleep(fn SleepFunc) Option {
	return func(c *Config) {
		c.Sleep = fn
	}
}

// WithOnRetry registers a callback invoked after every failed check.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(c *Config) {
		c.OnRetry = fn
	}
}
