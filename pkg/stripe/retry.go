package stripe

import (
	"context"
	"time"
)

// RetryPolicy bounds repeated processor calls: a maximum attempt count, a
// backoff schedule, and a predicate deciding which errors are retryable.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(error) bool
	sleep       func(time.Duration)
}

// DefaultRetryPolicy retries twice after the initial attempt with linear
// backoff (attempt * 1s), only on transient error classes.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(time.Second),
		Retryable:   IsTransient,
	}
}

// LinearBackoff returns attempt*unit waits (1x, 2x, ...).
func LinearBackoff(unit time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return time.Duration(attempt) * unit
	}
}

// Do runs fn until it succeeds, exhausts the attempt budget, or hits a
// non-retryable error. The last error is returned unchanged so callers can
// classify it.
func (p RetryPolicy) Do(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = fn(); err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}
		if p.Backoff != nil {
			sleep(p.Backoff(attempt))
		}
	}
	return err
}
