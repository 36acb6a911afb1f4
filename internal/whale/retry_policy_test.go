package whale

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDoSucceedsAfterTransientFailures(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return ErrTransient
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, attempts)
}

func TestRetryPolicyDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return ErrRateLimited
	})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrRateLimited)
	require.Equal(t, 3, attempts)
}

func TestRetryPolicyDoStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}
	attempts := 0
	err := p.Do(context.Background(), func(context.Context) error {
		attempts++
		return ErrFingerprintExhausted
	})
	require.ErrorIs(t, err, ErrFingerprintExhausted)
	require.Equal(t, 1, attempts)
}

func TestRetryPolicyDoRespectsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Hour}
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := p.Do(ctx, func(context.Context) error {
		attempts++
		return errors.New("boom")
	})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestRetryPolicyBackoffDoubles(t *testing.T) {
	t.Parallel()

	p := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 3 * time.Second}
	require.Equal(t, time.Second, p.Backoff(0))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 3*time.Second, p.Backoff(2)) // capped
}

func TestIsRetryableClassification(t *testing.T) {
	t.Parallel()

	require.True(t, IsRetryable(ErrRateLimited))
	require.True(t, IsRetryable(ErrTransient))
	require.True(t, IsRetryable(ErrMalformedOutput))
	require.True(t, IsRetryable(errors.New("schema validation failed")))
	require.False(t, IsRetryable(nil))
	require.False(t, IsRetryable(ErrPermanent))
	require.False(t, IsRetryable(context.Canceled))
	require.False(t, IsRetryable(context.DeadlineExceeded))
	require.False(t, IsRetryable(ErrFingerprintExhausted))
	require.False(t, IsRetryable(ErrDuplicateAlert))
}
