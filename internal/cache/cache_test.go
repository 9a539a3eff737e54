package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return client, mr
}

func TestCacheRoundTrip(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := New(client, nil)
	ctx := context.Background()

	_, found := c.Get(ctx, "missing")
	assert.False(t, found)

	require.True(t, c.SetMillis(ctx, "open_cvs:conv-1", "msg-1", 4*24*60*60*1000))
	val, found := c.Get(ctx, "open_cvs:conv-1")
	assert.True(t, found)
	assert.Equal(t, "msg-1", val)
	assert.Equal(t, 96*time.Hour, mr.TTL("open_cvs:conv-1"))

	c.Del(ctx, "open_cvs:conv-1")
	_, found = c.Get(ctx, "open_cvs:conv-1")
	assert.False(t, found)
}

func TestIncrWithinSetsTTLOnce(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := New(client, nil)
	ctx := context.Background()

	n, ok := c.IncrWithin(ctx, "counter", time.Minute)
	require.True(t, ok)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, time.Minute, mr.TTL("counter"))

	mr.FastForward(30 * time.Second)
	n, _ = c.IncrWithin(ctx, "counter", time.Minute)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 30*time.Second, mr.TTL("counter"))

	mr.FastForward(31 * time.Second)
	n, _ = c.IncrWithin(ctx, "counter", time.Minute)
	assert.Equal(t, int64(1), n)
}

func TestIncrWithinRestoresMissingTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	c := New(client, nil)
	ctx := context.Background()

	require.NoError(t, mr.Set("counter", "1000"))
	require.Equal(t, time.Duration(0), mr.TTL("counter"))

	n, ok := c.IncrWithin(ctx, "counter", time.Minute)
	require.True(t, ok)
	assert.Equal(t, int64(1001), n)
	assert.Equal(t, time.Minute, mr.TTL("counter"))

	mr.FastForward(61 * time.Second)
	n, _ = c.IncrWithin(ctx, "counter", time.Minute)
	assert.Equal(t, int64(1), n)
}

func TestNilClientIsNoop(t *testing.T) {
	c := New(nil, nil)
	ctx := context.Background()

	assert.False(t, c.Enabled())
	assert.False(t, c.Set(ctx, "k", "v", time.Second))
	_, found := c.Get(ctx, "k")
	assert.False(t, found)
	_, ok := c.Incr(ctx, "k")
	assert.False(t, ok)
	assert.False(t, c.Expire(ctx, "k", time.Second))
	c.Del(ctx, "k")

	var nilCache *Cache
	assert.False(t, nilCache.Enabled())
}

func TestUnavailableRedisDegrades(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	c := New(client, nil)
	mr.Close()

	_, found := c.Get(context.Background(), "k")
	assert.False(t, found)
	_, ok := c.Incr(context.Background(), "k")
	assert.False(t, ok)
}
