// Package retry provides exponential backoff retry for backend dispatch,
// built on cenkalti/backoff.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default retry configuration values.
const (
	DefaultMaxRetries   = 3
	DefaultBaseInterval = 100 * time.Millisecond
	DefaultMultiplier   = 2.0
	DefaultMaxInterval  = 30 * time.Second
)

// Policy contains retry configuration parameters. The backoff before
// attempt n is BaseInterval * Multiplier^n, capped at MaxInterval.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries uint

	// BaseInterval is the backoff before the first retry.
	BaseInterval time.Duration

	// Multiplier is the exponential growth factor.
	Multiplier float64

	// MaxInterval caps the backoff between attempts.
	MaxInterval time.Duration
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   DefaultMaxRetries,
		BaseInterval: DefaultBaseInterval,
		Multiplier:   DefaultMultiplier,
		MaxInterval:  DefaultMaxInterval,
	}
}

// Normalize replaces zero values with defaults. A zero MaxRetries is kept,
// meaning a single attempt with no retries.
func (p Policy) Normalize() Policy {
	if p.BaseInterval <= 0 {
		p.BaseInterval = DefaultBaseInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultMultiplier
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = DefaultMaxInterval
	}
	return p
}

// ShouldRetryFunc reports whether an error is worth retrying.
type ShouldRetryFunc func(error) bool

// OnRetryFunc is called before each retry sleep with the 1-based attempt
// number that failed, the error, and the upcoming backoff.
type OnRetryFunc func(attempt int, err error, next time.Duration)

// Options contains optional retry behavior configuration.
type Options struct {
	// ShouldRetry classifies errors. When nil, every error is retried.
	ShouldRetry ShouldRetryFunc

	// OnRetry is invoked before each retry attempt.
	OnRetry OnRetryFunc
}

// Permanent marks an error as non-retryable regardless of the ShouldRetry
// classifier.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do executes fn with retry. Context cancellation aborts any pending
// backoff sleep and surfaces the context error.
func Do(ctx context.Context, policy Policy, fn func() error, opts *Options) error {
	policy = policy.Normalize()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.BaseInterval
	eb.Multiplier = policy.Multiplier
	eb.MaxInterval = policy.MaxInterval
	eb.MaxElapsedTime = 0
	eb.RandomizationFactor = 0
	eb.Reset()

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(policy.MaxRetries)), ctx)

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		if opts != nil && opts.ShouldRetry != nil && !opts.ShouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, next time.Duration) {
		if opts != nil && opts.OnRetry != nil {
			opts.OnRetry(attempt, err, next)
		}
	}

	// backoff unwraps Permanent errors and surfaces the context error when
	// the context ends during a sleep.
	return backoff.RetryNotify(operation, b, notify)
}
