// Package retry runs operations with bounded exponential backoff and jitter.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff"
)

// Config controls the backoff policy.
type Config struct {
	// MaxRetries is the number of retries after the first attempt.
	// Zero disables retrying.
	// Default: 3
	MaxRetries uint64

	// InitialInterval is the wait before the first retry.
	// Default: 250ms
	InitialInterval time.Duration

	// MaxInterval caps the wait between retries.
	// Default: 10s
	MaxInterval time.Duration

	// RandomizationFactor spreads each wait over
	// [interval*(1-f), interval*(1+f)].
	// Default: 0.5
	RandomizationFactor float64
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:          3,
		InitialInterval:     250 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		RandomizationFactor: 0.5,
	}
}

// Notify is called before each retry with the failed attempt number
// (1-based) and the wait that follows.
type Notify func(err error, attempt int, wait time.Duration)

// Do calls op until it succeeds, the retry budget is spent, ctx is done,
// or retryable reports false for the returned error. A nil retryable
// retries every error. The last error is returned.
func Do(ctx context.Context, cfg Config, retryable func(error) bool, notify Notify, op func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	if cfg.RandomizationFactor >= 0 {
		b.RandomizationFactor = cfg.RandomizationFactor
	}
	// Bounded by MaxRetries rather than elapsed time.
	b.MaxElapsedTime = 0

	// WithMaxRetries treats zero as unlimited.
	var bounded backoff.BackOff = &backoff.StopBackOff{}
	if cfg.MaxRetries > 0 {
		bounded = backoff.WithMaxRetries(b, cfg.MaxRetries)
	}
	policy := backoff.WithContext(bounded, ctx)

	var permanent error
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		if err := ctx.Err(); err != nil {
			permanent = err
			return nil
		}
		err := op(ctx)
		if err != nil && retryable != nil && !retryable(err) {
			permanent = err
			return nil
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, attempt, wait)
		}
	})
	if permanent != nil {
		return permanent
	}
	return err
}
