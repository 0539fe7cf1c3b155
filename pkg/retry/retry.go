package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) IsRetryable() bool {
	return true
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func NewRetryableError(err error) RetryableError {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

type FatalError interface {
	error
	IsFatal() bool
}

type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsedTime  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		MaxElapsedTime:  5 * time.Minute,
	}
}

// Retry runs fn under the policy, backing off between in-process attempts.
// Fatal errors abort immediately; unclassified errors are treated as
// retryable. This is the short-loop variant for side operations (ledger
// rechecks, dead-letter sink writes); message-level retries go through the
// requeue scheduler instead.
func Retry(ctx context.Context, policy Policy, fn func() error) error {
	return RetryWithCallback(ctx, policy, fn, nil)
}

func RetryWithCallback(ctx context.Context, policy Policy, fn func() error, onRetry func(attempt int, err error, nextDelay time.Duration)) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 3
	}

	var b backoff.BackOff
	if policy.MaxElapsedTime > 0 {
		b = ExponentialBackoffWithMaxElapsed(
			policy.InitialInterval,
			policy.MaxInterval,
			policy.MaxElapsedTime,
			policy.Multiplier,
		)
	} else {
		b = ExponentialBackoff(
			policy.InitialInterval,
			policy.MaxInterval,
			policy.Multiplier,
		)
	}

	b = backoff.WithContext(b, ctx)
	b = backoff.WithMaxRetries(b, uint64(policy.MaxAttempts-1))

	attempt := 0
	operation := func() error {
		attempt++
		err := fn()

		if err == nil {
			return nil
		}

		var fatalErr FatalError
		if errors.As(err, &fatalErr) && fatalErr.IsFatal() {
			return backoff.Permanent(err)
		}

		var retryableErr RetryableError
		if !errors.As(err, &retryableErr) {
			err = NewRetryableError(err)
		}

		if onRetry != nil && attempt < policy.MaxAttempts {
			nextDelay := BackoffDelay(attempt, policy.InitialInterval, policy.Multiplier, policy.MaxInterval)
			onRetry(attempt, err, nextDelay)
		}

		return err
	}

	return backoff.Retry(operation, b)
}
