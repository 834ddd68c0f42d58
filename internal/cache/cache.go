package cache

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Cache wraps a Store with degraded-mode semantics: if the store is nil or a
// call fails, reads behave as misses and writes as no-ops. The polling engine
// keeps working, it just re-fetches everything.
type Cache struct {
	store  Store
	logger *zap.Logger
}

// New creates a Cache over store. store may be nil.
func New(store Store, logger *zap.Logger) *Cache {
	return &Cache{store: store, logger: logger}
}

// Get returns the cached value for key, or (nil, false) on miss or store
// failure.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c.store == nil {
		return nil, false
	}
	val, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Warn("cache read failed, treating as miss", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	return val, true
}

// Set stores value under key for ttl. Store failures are logged and dropped.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if c.store == nil || ttl <= 0 {
		return
	}
	if err := c.store.Set(ctx, key, value, ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
