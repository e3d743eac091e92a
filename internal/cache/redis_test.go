// SPDX-License-Identifier: MIT

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, NewRedisCacheFromClient(client, "test:cache", zerolog.Nop())
}

func TestRedisCache_SetAndGet(t *testing.T) {
	mr, c := setupMiniRedis(t)

	c.Set("getProducts", []byte(`[1,2]`), time.Minute)
	assert.True(t, mr.Exists("test:cache:getProducts"))

	val, ok := c.Get("getProducts")
	require.True(t, ok)
	assert.Equal(t, `[1,2]`, string(val))

	_, ok = c.Get("missing")
	assert.False(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, stats.CurrentSize)
}

func TestRedisCache_Expiration(t *testing.T) {
	mr, c := setupMiniRedis(t)

	c.Set("k", []byte("v"), 10*time.Second)
	mr.FastForward(11 * time.Second)

	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestRedisCache_SetIfAbsent(t *testing.T) {
	mr, c := setupMiniRedis(t)

	assert.True(t, c.SetIfAbsent("msg-1", nil, time.Minute))
	assert.False(t, c.SetIfAbsent("msg-1", nil, time.Minute))

	mr.FastForward(2 * time.Minute)
	assert.True(t, c.SetIfAbsent("msg-1", nil, time.Minute))
}

func TestRedisCache_ClearKeepsForeignKeys(t *testing.T) {
	mr, c := setupMiniRedis(t)

	require.NoError(t, mr.Set("session_state", "keep"))
	c.Set("a", []byte("1"), time.Minute)
	c.Set("b", []byte("2"), time.Minute)

	c.Clear()

	assert.False(t, mr.Exists("test:cache:a"))
	assert.False(t, mr.Exists("test:cache:b"))
	assert.True(t, mr.Exists("session_state"))
}

func TestRedisCache_Delete(t *testing.T) {
	mr, c := setupMiniRedis(t)

	c.Set("a", []byte("1"), time.Minute)
	c.Delete("a")
	assert.False(t, mr.Exists("test:cache:a"))
}

func TestRedisCache_HealthCheck(t *testing.T) {
	_, c := setupMiniRedis(t)

	require.NoError(t, c.HealthCheck(context.Background()))
	assert.NoError(t, c.Close(), "borrowed client is not closed")
}

func TestNewRedisCache_ConnectionFailure(t *testing.T) {
	_, err := NewRedisCache(RedisConfig{Addr: "127.0.0.1:1"}, zerolog.Nop())
	assert.Error(t, err)
}
