package ingestor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(t *testing.T, limit int, window time.Duration) (*miniredis.Miniredis, RateLimiter) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, &redisRateLimiter{client: client, limit: int64(limit), window: window}
}

func TestRateLimiter_AllowsUpToLimit(t *testing.T) {
	_, rl := testLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, err := rl.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "request %d should be allowed", i+1)
	}

	allowed, err := rl.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed, "request over the limit must be rejected")
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	_, rl := testLimiter(t, 1, time.Minute)
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	require.True(t, allowed)

	allowed, err = rl.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed, "one client's traffic must not throttle another")
}

func TestNoOpRateLimiter(t *testing.T) {
	rl := NoOpRateLimiter{}
	for i := 0; i < 10; i++ {
		allowed, err := rl.Allow(context.Background(), "anyone")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.NoError(t, rl.Close())
}

func TestNewRedisRateLimiter_RejectsBadURL(t *testing.T) {
	_, err := NewRedisRateLimiter("::bad::", 10, time.Minute)
	assert.Error(t, err)
}
