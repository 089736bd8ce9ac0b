package cache

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricemill/backoffice/internal/logger"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewFromClient(client, "test:", logger.New(&logger.Config{Output: io.Discard})), mr
}

func TestSetOnce(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	created, err := c.SetOnce(ctx, "a", "1", time.Minute)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = c.SetOnce(ctx, "a", "2", time.Minute)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := mr.Get("test:a")
	require.NoError(t, err)
	assert.Equal(t, "1", got)
	assert.Equal(t, time.Minute, mr.TTL("test:a"))
}

func TestExists_FollowsTTL(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	ok, err := c.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.SetOnce(ctx, "k", "v", time.Second)
	require.NoError(t, err)

	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(2 * time.Second)

	ok, err = c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExists_IgnoresValueType(t *testing.T) {
	c, mr := setupTestCache(t)
	ctx := context.Background()

	mr.HSet("test:h", "field", "value")
	require.NoError(t, mr.Set("test:empty", ""))

	ok, err := c.Exists(ctx, "h")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNew_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := New(ctx, "127.0.0.1:1", "", "", logger.New(&logger.Config{Output: io.Discard}))
	assert.Error(t, err)
}
