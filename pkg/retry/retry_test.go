package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "orderflow/pkg/errors"
)

func fastPolicy(attempts int) Policy {
	return Policy{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(3), func() error {
		calls++
		return errors.New("still broken")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_FatalErrorStopsImmediately(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), fastPolicy(5), func() error {
		calls++
		return apperrors.ErrSignatureInvalid
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, apperrors.IsSignatureInvalid(err))
}

func TestRetry_ContextCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, fastPolicy(5), func() error {
		return errors.New("transient")
	})
	require.Error(t, err)
}

func TestRetryWithCallback_ReportsAttempts(t *testing.T) {
	var attempts []int
	calls := 0
	err := RetryWithCallback(context.Background(), fastPolicy(4), func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		attempts = append(attempts, attempt)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, attempts)
}

func TestFullJitterBackoff_StaysWithinExponentialEnvelope(t *testing.T) {
	b := FullJitterBackoff(100*time.Millisecond, time.Second, 0, 2.0)

	limit := 100 * time.Millisecond
	for i := 0; i < 5; i++ {
		d := b.NextBackOff()
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, limit)
		limit *= 2
		if limit > time.Second {
			limit = time.Second
		}
	}
}

func TestCalculateBackoffDuration_CapsAtMax(t *testing.T) {
	d := CalculateBackoffDuration(10, 200*time.Millisecond, 2.0, 30*time.Second)
	assert.Equal(t, 30*time.Second, d)
}
