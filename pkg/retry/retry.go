// Package retry runs an operation a bounded number of times with optional
// exponential backoff between attempts.
package retry

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 5

	// DefaultMultiplier grows the delay between consecutive attempts.
	DefaultMultiplier = 2.0
)

// Operation is a single attempt. attempt starts at 0.
type Operation func(ctx context.Context, attempt int) error

type options struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	onRetry      func(attempt int, err error)
}

// Option configures Do.
type Option func(*options)

// WithMaxRetries sets how many times a failed attempt is retried.
// The operation runs at most maxRetries+1 times.
func WithMaxRetries(maxRetries int) Option {
	return func(o *options) {
		if maxRetries >= 0 {
			o.maxRetries = maxRetries
		}
	}
}

// WithInitialDelay sets the wait before the first retry. Zero retries
// immediately.
func WithInitialDelay(d time.Duration) Option {
	return func(o *options) {
		o.initialDelay = d
	}
}

// WithMaxDelay caps the wait between attempts. Zero means uncapped.
func WithMaxDelay(d time.Duration) Option {
	return func(o *options) {
		o.maxDelay = d
	}
}

// WithMultiplier sets the backoff growth factor.
func WithMultiplier(m float64) Option {
	return func(o *options) {
		if m >= 1 {
			o.multiplier = m
		}
	}
}

// WithOnRetry registers a callback invoked after every failed attempt that
// will be retried.
func WithOnRetry(fn func(attempt int, err error)) Option {
	return func(o *options) {
		o.onRetry = fn
	}
}

// Do runs op until it succeeds, returns a Fatal error, the retry budget is
// spent or ctx is done. The last error is returned on failure.
func Do(ctx context.Context, op Operation, opts ...Option) error {
	o := &options{
		maxRetries: DefaultMaxRetries,
		multiplier: DefaultMultiplier,
	}

	for _, opt := range opts {
		opt(o)
	}

	delay := o.initialDelay

	for attempt := 0; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}

		if IsFatal(err) || attempt >= o.maxRetries {
			return err
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if o.onRetry != nil {
			o.onRetry(attempt, err)
		}

		if delay > 0 {
			timer := time.NewTimer(delay)

			select {
			case <-ctx.Done():
				timer.Stop()

				return ctx.Err()
			case <-timer.C:
			}

			delay = time.Duration(float64(delay) * o.multiplier)
			if o.maxDelay > 0 && delay > o.maxDelay {
				delay = o.maxDelay
			}
		}
	}
}

// fatalError marks an error that must not be retried.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

// Fatal wraps err so that Do stops retrying. Fatal(nil) is nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}

	return &fatalError{err: err}
}

// IsFatal reports whether err, or any error it wraps, was marked Fatal.
func IsFatal(err error) bool {
	var fe *fatalError

	return errors.As(err, &fe)
}
