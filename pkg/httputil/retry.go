package httputil

import (
	"context"
	"errors"
	"time"
)

// RetryableError wraps an error to indicate it should trigger a retry.
// Wrap transient failures (connection refused, DNS errors) with this type
// so that [Retry] knows to attempt the operation again.
type RetryableError struct{ Err error }

// Retryable wraps err as a RetryableError. Retryable(nil) returns nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable checks if an error is wrapped with RetryableError.
func IsRetryable(err error) bool {
	return errors.As(err, new(*RetryableError))
}

// Backoff returns the delay before retry number n (starting at 1).
type Backoff func(n int) time.Duration

// Constant waits d before every retry.
func Constant(d time.Duration) Backoff {
	return func(int) time.Duration { return d }
}

// Linear waits step*n before retry n.
func Linear(step time.Duration) Backoff {
	return func(n int) time.Duration { return step * time.Duration(n) }
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retry executes fn and retries it up to retries more times while it fails
// with a [RetryableError], waiting backoff(n) before retry n. Other errors
// are returned immediately. When retries are exhausted the last error is
// returned still wrapped, so callers can tell exhaustion apart.
// A nil sleep uses [Sleep].
func Retry(ctx context.Context, retries int, backoff Backoff, sleep Sleeper, fn func() error) error {
	if sleep == nil {
		sleep = Sleep
	}
	retries = max(retries, 0)

	for n := 0; ; n++ {
		err := fn()
		if err == nil || !IsRetryable(err) || n >= retries {
			return err
		}
		if err := sleep(ctx, backoff(n+1)); err != nil {
			return err
		}
	}
}
