package adapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deliberation-platform/identity/internal/identity/adapter"
	redisclient "github.com/deliberation-platform/identity/internal/redis"
)

func newTestRedis(t *testing.T) (*redisclient.Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client, err := redisclient.NewClient(redisclient.Config{Addr: mr.Addr(), Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, client.Close())
	})
	return client, mr
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Run("allows exactly up to the limit", func(t *testing.T) {
		client, _ := newTestRedis(t)
		rl := adapter.NewRateLimiter(client.RDB, 3, 15*time.Minute)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			allowed, err := rl.Allow(ctx, "203.0.113.7")
			require.NoError(t, err)
			assert.True(t, allowed, "request %d should be allowed", i+1)
		}

		allowed, err := rl.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		assert.False(t, allowed, "request beyond limit should be rejected")
	})

	t.Run("keys are independent", func(t *testing.T) {
		client, _ := newTestRedis(t)
		rl := adapter.NewRateLimiter(client.RDB, 1, time.Minute)
		ctx := context.Background()

		allowed, err := rl.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, allowed)

		allowed, err = rl.Allow(ctx, "198.51.100.1")
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("sets TTL and resets after the window", func(t *testing.T) {
		client, mr := newTestRedis(t)
		rl := adapter.NewRateLimiter(client.RDB, 1, 15*time.Minute)
		ctx := context.Background()

		_, err := rl.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		assert.Equal(t, 15*time.Minute, mr.TTL("auth_req:ip:203.0.113.7"))

		mr.FastForward(16 * time.Minute)

		allowed, err := rl.Allow(ctx, "203.0.113.7")
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("redis failure returns error", func(t *testing.T) {
		client, mr := newTestRedis(t)
		rl := adapter.NewRateLimiter(client.RDB, 1, time.Minute)
		mr.Close()

		allowed, err := rl.Allow(context.Background(), "203.0.113.7")

		require.Error(t, err)
		assert.False(t, allowed)
	})
}
