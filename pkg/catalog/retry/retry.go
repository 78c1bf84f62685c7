// Package retry runs idempotent operations with exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           // total attempts including the first; <= 0 means 1
	InitialDelay time.Duration // delay before the second attempt
	MaxDelay     time.Duration // cap on any single delay
	Multiplier   float64       // growth factor between delays
	Jitter       float64       // randomization factor in [0, 1]
}

// DefaultConfig returns the settings used for object store calls
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  4,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.25,
	}
}

// NonRetryable marks err so Do returns it without further attempts.
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsNonRetryable reports whether err was marked with NonRetryable
func IsNonRetryable(err error) bool {
	var pe *backoff.PermanentError
	return errors.As(err, &pe)
}

// Do executes fn until it succeeds, returns a NonRetryable error, the
// attempts are exhausted or ctx is done. notify, if non-nil, is called
// before each wait.
func Do(ctx context.Context, cfg Config, fn func() error, notify func(err error, wait time.Duration)) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	}, notify)
	return err
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error), notify func(err error, wait time.Duration)) (T, error) {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(cfg.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if notify != nil {
		opts = append(opts, backoff.WithNotify(notify))
	}
	return backoff.Retry(ctx, backoff.Operation[T](fn), opts...)
}

func (c Config) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if c.InitialDelay > 0 {
		b.InitialInterval = c.InitialDelay
	}
	if c.MaxDelay > 0 {
		b.MaxInterval = c.MaxDelay
	}
	if c.Multiplier >= 1 {
		b.Multiplier = c.Multiplier
	}
	if c.Jitter >= 0 && c.Jitter <= 1 {
		b.RandomizationFactor = c.Jitter
	}
	return b
}
