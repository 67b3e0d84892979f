package cacher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

const (
	lockTTL     = 10 * time.Second
	waitTimeout = 5 * time.Second
	maxBackoff  = 250 * time.Millisecond
)

var (
	// ErrFetchAbandoned is returned when the lock holder went away without
	// storing a value.
	ErrFetchAbandoned = errors.New("cache fill abandoned by lock holder")

	lockSeq atomic.Uint64
	json    = jsoniter.ConfigCompatibleWithStandardLibrary
)

const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) end return 0`

// RedisCacher stores JSON-encoded values in Redis under a key namespace, so
// several server processes share one cache. A short-lived SETNX lock makes
// concurrent misses across processes fetch once.
type RedisCacher[T any] struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisCacher creates a Redis backed Cacher.
//
// Parameters:
//   - client: A connected go-redis client
//   - namespace: Prefix applied to every key; Clear and ItemCount only see this namespace
//
// Example:
//
//	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	contexts := cacher.NewRedisCacher[string](client, "netreactor:ctx:")
func NewRedisCacher[T any](client redis.UniversalClient, namespace string) Cacher[T] {
	return &RedisCacher[T]{client: client, namespace: namespace}
}

func (c *RedisCacher[T]) key(k string) string {
	return c.namespace + k
}

func (c *RedisCacher[T]) get(ctx context.Context, key string) (T, bool, error) {
	var out T

	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return out, false, nil
	}
	if err != nil {
		return out, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	if err := json.Unmarshal(raw, &out); err != nil {
		return out, false, fmt.Errorf("decode cached %s: %w", key, err)
	}

	return out, true, nil
}

// GetOrFetch returns the cached value or fetches it under a Redis lock. A caller
// that loses the lock race polls until the winner stores the value.
func (c *RedisCacher[T]) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error) {
	var zero T
	full := c.key(key)

	if v, ok, err := c.get(ctx, full); err != nil || ok {
		return v, err
	}

	lockKey := full + ":lock"
	token := strconv.Itoa(os.Getpid()) + "-" + strconv.FormatUint(lockSeq.Add(1), 10)

	won, err := c.client.SetNX(ctx, lockKey, token, lockTTL).Result()
	if err != nil {
		return zero, fmt.Errorf("redis lock %s: %w", lockKey, err)
	}
	if !won {
		return c.await(ctx, full, lockKey)
	}
	defer c.client.Eval(context.Background(), releaseScript, []string{lockKey}, token)

	v, err := fetchFn(ctx)
	if err != nil {
		return zero, err
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("encode %s: %w", full, err)
	}
	if err := c.client.Set(ctx, full, raw, ttl).Err(); err != nil {
		return zero, fmt.Errorf("redis set %s: %w", full, err)
	}

	return v, nil
}

func (c *RedisCacher[T]) await(ctx context.Context, key, lockKey string) (T, error) {
	var zero T

	backoff := 5 * time.Millisecond
	deadline := time.Now().Add(waitTimeout)

	for time.Now().Before(deadline) {
		if v, ok, err := c.get(ctx, key); err != nil || ok {
			return v, err
		}

		held, err := c.client.Exists(ctx, lockKey).Result()
		if err != nil {
			return zero, fmt.Errorf("redis exists %s: %w", lockKey, err)
		}
		if held == 0 {
			if v, ok, err := c.get(ctx, key); err != nil || ok {
				return v, err
			}
			return zero, ErrFetchAbandoned
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, maxBackoff)
	}

	return zero, fmt.Errorf("timed out waiting for %s", key)
}

// Delete removes key.
func (c *RedisCacher[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear removes every key in the namespace. Other data in the database is kept.
func (c *RedisCacher[T]) Clear(ctx context.Context) error {
	_, err := c.DeleteByPrefix(ctx, "")
	return err
}

// ItemCount counts the keys in the namespace.
func (c *RedisCacher[T]) ItemCount(ctx context.Context) (int, error) {
	n := 0
	iter := c.client.Scan(ctx, 0, c.namespace+"*", 100).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("redis scan: %w", err)
	}
	return n, nil
}

// DeleteByPrefix removes every namespaced key starting with prefix.
func (c *RedisCacher[T]) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	var keys []string

	iter := c.client.Scan(ctx, 0, c.key(prefix)+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis del: %w", err)
	}

	return int(n), nil
}
