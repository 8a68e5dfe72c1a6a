package service

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	require.NoError(t, client.Ping(ctx).Err())
	require.NoError(t, client.FlushDB(ctx).Err())
	return client
}

func TestRateLimiter_CheckLimit(t *testing.T) {
	client := setupTestRedis(t)
	limiter := NewRateLimiter(client)
	ctx := context.Background()

	t.Run("allows requests within limit", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			res := limiter.CheckLimit(ctx, "test", "user1", 3, 10*time.Second)
			assert.True(t, res.Allowed, "request %d should be allowed", i+1)
			assert.Equal(t, 3-i-1, res.Remaining)
		}

		res := limiter.CheckLimit(ctx, "test", "user1", 3, 10*time.Second)
		assert.False(t, res.Allowed)
		assert.True(t, res.ResetAt.After(time.Now()))
	})

	t.Run("different subjects are independent", func(t *testing.T) {
		assert.True(t, limiter.CheckLimit(ctx, "test", "a", 1, 10*time.Second).Allowed)
		assert.False(t, limiter.CheckLimit(ctx, "test", "a", 1, 10*time.Second).Allowed)
		assert.True(t, limiter.CheckLimit(ctx, "test", "b", 1, 10*time.Second).Allowed)
	})

	t.Run("different scopes are independent", func(t *testing.T) {
		assert.True(t, limiter.CheckLimit(ctx, "http", "c", 1, 10*time.Second).Allowed)
		assert.True(t, limiter.CheckLimit(ctx, "offer", "c", 1, 10*time.Second).Allowed)
	})
}

func TestRateLimiter_RedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()
	ctx := context.Background()

	t.Run("fails open by default", func(t *testing.T) {
		res := NewRateLimiter(client).CheckLimit(ctx, "test", "x", 5, time.Minute)
		assert.True(t, res.Allowed)
		assert.True(t, res.Degraded)
		assert.Equal(t, 4, res.Remaining)
	})

	t.Run("strict limiter fails closed", func(t *testing.T) {
		res := NewStrictRateLimiter(client).CheckLimit(ctx, "test", "x", 5, time.Minute)
		assert.False(t, res.Allowed)
		assert.True(t, res.Degraded)
	})
}
