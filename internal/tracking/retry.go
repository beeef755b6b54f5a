package tracking

import (
	"context"
	"errors"
	"time"
)

// RetryPolicy runs a call up to MaxAttempts times, sleeping Backoff<<attempt
// between tries. IsRetryable decides which errors are worth another attempt;
// a non-retryable error is returned immediately.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	IsRetryable func(error) bool
}

func NewRetryPolicy(maxAttempts int, backoff time.Duration) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		IsRetryable: DefaultRetryable,
	}
}

// DefaultRetryable treats transport faults and 5xx-class responses as
// retryable. 4xx-class responses are a malformed or rejected request;
// retrying those cannot succeed, so they fail fast. 429 is the exception:
// the collaborator asked us to come back later.
func DefaultRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		if se.Code == 429 {
			return true
		}
		return se.Code >= 500
	}
	// transport-level fault (timeout, refused connection, reset)
	return true
}

// Do executes fn under the policy. The returned error is the last attempt's
// error; nil means some attempt succeeded.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	retryable := p.IsRetryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	var last error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff << (attempt - 1)):
			}
		}

		last = fn(ctx)
		if last == nil {
			return nil
		}
		if !retryable(last) {
			return last
		}
	}

	return last
}
