// Package cacher provides fetch-on-miss caches used by the protocol handlers,
// for example to remember a user's working context between PWD calls.
package cacher

import (
	"context"
	"time"
)

// FetchFunc loads a value when the cache has none for a key.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher caches values of type T under string keys. Concurrent misses on one key
// must result in a single fetch.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key or loads it with fetchFn and
	// stores it for ttl. Fetch errors are returned and nothing is stored.
	//
	// Parameters:
	//   - ctx: Context for cancellation
	//   - key: The cache key
	//   - ttl: Lifetime of a freshly fetched value
	//   - fetchFn: Loader called on a miss
	//
	// Returns:
	//   - The cached or fetched value
	//   - An error if the lookup or the fetch failed
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Clear removes every key owned by this cache.
	Clear(ctx context.Context) error

	// ItemCount returns the number of keys owned by this cache.
	ItemCount(ctx context.Context) (int, error)

	// DeleteByPrefix removes every key starting with prefix and returns how
	// many were removed.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}
