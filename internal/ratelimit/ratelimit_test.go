package ratelimit

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisLimiter_FixedWindow(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)
	limiter := NewRedisLimiter(client, 2, time.Minute)

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok, "keys are counted separately")

	assert.True(t, mr.TTL("courtbook:ratelimit:10.0.0.1") > 0)
	mr.FastForward(time.Minute + time.Second)

	ok, err = limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "window reset")
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	_, err := NewRedisLimiter(client, 2, time.Minute).Allow(context.Background(), "k")
	assert.Error(t, err)
}

func TestLocalLimiter(t *testing.T) {
	ctx := context.Background()
	limiter := NewLocalLimiter(3, time.Minute)
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		ok, _ := limiter.Allow(ctx, "a")
		assert.True(t, ok)
	}
	ok, _ := limiter.Allow(ctx, "a")
	assert.False(t, ok)

	ok, _ = limiter.Allow(ctx, "b")
	assert.True(t, ok)

	now = now.Add(20 * time.Second)
	ok, _ = limiter.Allow(ctx, "a")
	assert.True(t, ok, "one token refilled")

	now = now.Add(10 * time.Minute)
	_, _ = limiter.Allow(ctx, "c")
	assert.Len(t, limiter.entries, 1, "stale keys are evicted")
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) Allow(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func TestFailoverLimiter(t *testing.T) {
	primary := new(mockLimiter)
	fallback := new(mockLimiter)
	logger := zerolog.New(io.Discard)
	limiter := NewFailoverLimiter(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Allow", ctx, "k1").Return(false, nil).Once()

		ok, err := limiter.Allow(ctx, "k1")
		assert.NoError(t, err)
		assert.False(t, ok)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		primary.On("Allow", ctx, "k2").Return(false, errors.New("connection refused")).Once()
		fallback.On("Allow", ctx, "k2").Return(true, nil).Once()

		ok, err := limiter.Allow(ctx, "k2")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, limiter.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("Allow", ctx, "k3").Return(true, nil).Once()

		ok, err := limiter.Allow(ctx, "k3")
		assert.NoError(t, err)
		assert.True(t, ok)
		fallback.AssertExpectations(t)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		limiter.isDown.Store(true)
		limiter.lastCheck = time.Now().Add(-2 * time.Minute)
		primary.On("Allow", ctx, "k4").Return(true, nil).Once()

		ok, err := limiter.Allow(ctx, "k4")
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, limiter.isDown.Load())
		primary.AssertExpectations(t)
	})
}
