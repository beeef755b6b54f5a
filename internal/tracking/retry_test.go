package tracking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy(maxAttempts int) RetryPolicy {
	p := NewRetryPolicy(maxAttempts, time.Millisecond)
	return p
}

func TestRetryPolicySucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	calls := 0
	err := testPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &StatusError{Code: 503}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls, "two failures then success means exactly three invocations")
}

func TestRetryPolicyExhaustion(t *testing.T) {
	t.Parallel()

	calls := 0
	err := testPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 500}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 500, se.Code)
}

func TestRetryPolicyFailsFastOnClientError(t *testing.T) {
	t.Parallel()

	calls := 0
	err := testPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 404}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls, "4xx is not retryable")
}

func TestRetryPolicyRetriesOn429(t *testing.T) {
	t.Parallel()

	calls := 0
	err := testPolicy(2).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &StatusError{Code: 429}
	})

	require.Error(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicyRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	boom := errors.New("connection refused")
	err := testPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return boom
	})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := testPolicy(10).Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return &StatusError{Code: 500}
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDefaultRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, DefaultRetryable(&StatusError{Code: 500}))
	assert.True(t, DefaultRetryable(&StatusError{Code: 503}))
	assert.True(t, DefaultRetryable(&StatusError{Code: 429}))
	assert.False(t, DefaultRetryable(&StatusError{Code: 400}))
	assert.False(t, DefaultRetryable(&StatusError{Code: 404}))
	assert.True(t, DefaultRetryable(errors.New("i/o timeout")))
}
