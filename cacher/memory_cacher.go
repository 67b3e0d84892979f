package cacher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"
)

// MemoryCacher keeps values in process memory. Concurrent misses for one key are
// collapsed into a single fetch.
type MemoryCacher[T any] struct {
	items *cache.Cache
	group singleflight.Group
}

// NewMemoryCacher creates an in-process cache.
//
// Parameters:
//   - defaultExpiration: TTL applied when GetOrFetch is called with ttl 0
//   - cleanupInterval: How often expired entries are purged
//
// Returns:
//   - A Cacher backed by go-cache
func NewMemoryCacher[T any](defaultExpiration, cleanupInterval time.Duration) Cacher[T] {
	return &MemoryCacher[T]{items: cache.New(defaultExpiration, cleanupInterval)}
}

func (c *MemoryCacher[T]) lookup(key string) (T, bool) {
	if v, ok := c.items.Get(key); ok {
		if typed, ok := v.(T); ok {
			return typed, true
		}
	}

	var zero T
	return zero, false
}

// GetOrFetch returns the cached value or loads it once for all concurrent callers.
func (c *MemoryCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		// A caller that just left the group may have filled the entry.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}

		v, err := fetchFn(ctx)
		if err != nil {
			return nil, err
		}

		if ttl == 0 {
			ttl = cache.DefaultExpiration
		}
		c.items.Set(key, v, ttl)
		return v, nil
	})

	var zero T
	if err != nil {
		return zero, err
	}

	typed, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("cached value for %q has type %T", key, res)
	}

	return typed, nil
}

// Delete removes key.
func (c *MemoryCacher[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.items.Delete(key)
	return nil
}

// Clear drops every entry.
func (c *MemoryCacher[T]) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.items.Flush()
	return nil
}

// ItemCount returns the number of entries, expired ones included until cleanup.
func (c *MemoryCacher[T]) ItemCount(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return c.items.ItemCount(), nil
}

// DeleteByPrefix removes every entry whose key starts with prefix.
func (c *MemoryCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	removed := 0
	for key := range c.items.Items() {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if strings.HasPrefix(key, prefix) {
			c.items.Delete(key)
			removed++
		}
	}

	return removed, nil
}
