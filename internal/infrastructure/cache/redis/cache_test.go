package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rediscache "github.com/dramac/livechat-service/internal/infrastructure/cache/redis"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *rediscache.Cache) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)

	c, err := rediscache.NewCache(rediscache.Config{
		Host:       mr.Host(),
		Port:       mr.Port(),
		DefaultTTL: time.Hour,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		c.Close()
		mr.Close()
	})

	return mr, c
}

func TestNewCache_ConnectionRefused(t *testing.T) {
	c, err := rediscache.NewCache(rediscache.Config{
		Host: "127.0.0.1",
		Port: "1",
	})

	assert.Error(t, err)
	assert.Nil(t, c)
}

func TestNewCache_HostRequired(t *testing.T) {
	_, err := rediscache.NewCache(rediscache.Config{})

	assert.EqualError(t, err, "redis host is required")
}

func TestCache_SetAndGetUnderPrefix(t *testing.T) {
	mr, c := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "transcript:t1:c1", []byte("payload"), time.Minute))

	result, err := c.Get(ctx, "transcript:t1:c1")
	assert.NoError(t, err)
	assert.Equal(t, []byte("payload"), result)
	assert.Equal(t, []string{"livechat:transcript:t1:c1"}, mr.Keys())
}

func TestCache_GetNotFound(t *testing.T) {
	_, c := setupMiniredis(t)

	result, err := c.Get(context.Background(), "missing")

	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestCache_SetNX_OnlyFirstWriterWins(t *testing.T) {
	mr, c := setupMiniredis(t)
	ctx := context.Background()

	first, err := c.SetNX(ctx, "missed:conv-1", []byte("1"), time.Minute)
	require.NoError(t, err)
	second, err := c.SetNX(ctx, "missed:conv-1", []byte("2"), time.Minute)
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
	value, _ := mr.Get("livechat:missed:conv-1")
	assert.Equal(t, "1", value)
}

func TestCache_SetNX_UsesDefaultTTL(t *testing.T) {
	mr, c := setupMiniredis(t)

	ok, err := c.SetNX(context.Background(), "missed:conv-2", []byte("1"), 0)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, time.Hour, mr.TTL("livechat:missed:conv-2"))
}

func TestCache_Delete(t *testing.T) {
	_, c := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	deleted, err := c.Delete(ctx, "k")
	assert.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = c.Delete(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, deleted)
}

func TestCache_TTLExpiration(t *testing.T) {
	mr, c := setupMiniredis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "expiring", []byte("v"), time.Second))

	mr.FastForward(2 * time.Second)

	result, err := c.Get(ctx, "expiring")
	assert.NoError(t, err)
	assert.Nil(t, result)
}
