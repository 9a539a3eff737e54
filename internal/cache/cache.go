// Package cache is a best-effort Redis wrapper. A nil client or a Redis failure
// degrades to "not found" instead of failing the caller.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/schedule-notify/pkg/logging"
)

// Cache wraps a Redis client with soft-failure semantics.
type Cache struct {
	redis  *redis.Client
	logger *logging.Logger
}

// New returns a Cache. client may be nil, in which case every operation is a no-op.
func New(client *redis.Client, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{redis: client, logger: logger}
}

// Enabled reports whether a Redis client is configured.
func (c *Cache) Enabled() bool {
	return c != nil && c.redis != nil
}

// Get returns the value for key and whether it was found.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", "key", key, "error", err)
		}
		return "", false
	}
	return val, true
}

// Set stores value under key. A zero ttl keeps the key until deleted.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	if !c.Enabled() {
		return false
	}
	if err := c.redis.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", "key", key, "error", err)
		return false
	}
	return true
}

// SetMillis stores value with a millisecond TTL.
func (c *Cache) SetMillis(ctx context.Context, key, value string, ttlMillis int64) bool {
	return c.Set(ctx, key, value, time.Duration(ttlMillis)*time.Millisecond)
}

// Incr increments key and returns the new value. ok is false when the cache is
// unavailable.
func (c *Cache) Incr(ctx context.Context, key string) (int64, bool) {
	if !c.Enabled() {
		return 0, false
	}
	n, err := c.redis.Incr(ctx, key).Result()
	if err != nil {
		c.logger.Warn("cache incr failed", "key", key, "error", err)
		return 0, false
	}
	return n, true
}

// Expire sets a TTL on key.
func (c *Cache) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	if !c.Enabled() {
		return false
	}
	ok, err := c.redis.Expire(ctx, key, ttl).Result()
	if err != nil {
		c.logger.Warn("cache expire failed", "key", key, "error", err)
		return false
	}
	return ok
}

// Del removes keys.
func (c *Cache) Del(ctx context.Context, keys ...string) {
	if !c.Enabled() || len(keys) == 0 {
		return
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("cache del failed", "keys", keys, "error", err)
	}
}

// IncrWithin increments key and sets its TTL on the first hit of a window.
// A counter left without a TTL by a failed earlier Expire gets one on the
// next hit, so the window always rolls over.
func (c *Cache) IncrWithin(ctx context.Context, key string, window time.Duration) (int64, bool) {
	n, ok := c.Incr(ctx, key)
	if !ok {
		return 0, false
	}
	if n == 1 || c.missingTTL(ctx, key) {
		c.Expire(ctx, key, window)
	}
	return n, true
}

// missingTTL reports whether key exists without an expiry. Redis answers -1
// for that case and -2 for a missing key.
func (c *Cache) missingTTL(ctx context.Context, key string) bool {
	ttl, err := c.redis.TTL(ctx, key).Result()
	if err != nil {
		c.logger.Warn("cache ttl failed", "key", key, "error", err)
		return false
	}
	return ttl == -1
}
