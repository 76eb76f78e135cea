package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"RFQHub/internal/domain/repository"
)

func collectSleeps(delays *[]time.Duration) Option {
	return WithSleep(func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func TestPermanentFailureNotRetried(t *testing.T) {
	p := New(Config{MaxAttempts: 5, BaseBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Second})

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return repository.NewGatewayError("lp-1", repository.KindRejected, "bad instrument", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts, "permanent failure consumes exactly one attempt")
}

func TestTransientFailureConsumesAllAttempts(t *testing.T) {
	var delays []time.Duration
	p := New(
		Config{MaxAttempts: 4, BaseBackoff: 100 * time.Millisecond, Multiplier: 2, MaxBackoff: 10 * time.Second},
		collectSleeps(&delays),
	)

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		return repository.NewGatewayError("lp-1", repository.KindTimeout, "deadline", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 4, attempts)
	require.Len(t, delays, 3, "no sleep after the final attempt")

	// base * multiplier^(n-1), within jitter tolerance (jitter disabled here)
	assert.Equal(t, 100*time.Millisecond, delays[0])
	assert.Equal(t, 200*time.Millisecond, delays[1])
	assert.Equal(t, 400*time.Millisecond, delays[2])
}

func TestBackoffCappedAtMax(t *testing.T) {
	var delays []time.Duration
	p := New(
		Config{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, Multiplier: 10, MaxBackoff: 300 * time.Millisecond},
		collectSleeps(&delays),
	)

	_ = p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return repository.NewGatewayError("lp-1", repository.KindConnection, "refused", nil)
	})

	require.Len(t, delays, 4)
	for _, d := range delays[1:] {
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestJitteredBackoffWithinTolerance(t *testing.T) {
	var delays []time.Duration
	p := New(
		Config{MaxAttempts: 3, BaseBackoff: 100 * time.Millisecond, Multiplier: 2, MaxBackoff: 10 * time.Second, Jitter: true},
		collectSleeps(&delays),
	)

	_ = p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		return repository.NewGatewayError("lp-1", repository.KindTimeout, "deadline", nil)
	})

	require.Len(t, delays, 2)
	assert.InDelta(t, float64(100*time.Millisecond), float64(delays[0]), float64(100*time.Millisecond)*0.2)
	assert.InDelta(t, float64(200*time.Millisecond), float64(delays[1]), float64(200*time.Millisecond)*0.2)
}

func TestSuccessStopsRetrying(t *testing.T) {
	p := New(Config{MaxAttempts: 5, BaseBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Second},
		WithSleep(func(ctx context.Context, d time.Duration) error { return nil }))

	attempts := 0
	err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
		attempts++
		if attempts < 3 {
			return repository.NewGatewayError("lp-1", repository.KindConnection, "refused", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestContextCancelStopsBetweenAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(Config{MaxAttempts: 10, BaseBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Second},
		WithSleep(func(ctx context.Context, d time.Duration) error { return context.Canceled }))

	attempts := 0
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts++
		cancel()
		return repository.NewGatewayError("lp-1", repository.KindTimeout, "deadline", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestTransientClassification(t *testing.T) {
	assert.True(t, Transient(repository.NewGatewayError("v", repository.KindTimeout, "", nil)))
	assert.True(t, Transient(repository.NewGatewayError("v", repository.KindConnection, "", nil)))
	assert.False(t, Transient(repository.NewGatewayError("v", repository.KindRejected, "", nil)))
	assert.False(t, Transient(repository.NewGatewayError("v", repository.KindMalformed, "", nil)))
	assert.True(t, Transient(errors.New("socket closed")))
}
