package imaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/koios/openmatrix/internal/config"
	"github.com/redis/go-redis/v9"
)

// Cache stores encoded GIFs keyed by source digest and target size
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// MemoryCache is an in-process Cache with per-entry expiry
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryCache creates an empty in-memory cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get retrieves a value, dropping it if it has expired
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores a value; a zero ttl never expires
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := memoryEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// Len returns the number of stored entries, expired ones included
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RedisCache implements Cache using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache creates a new Redis cache instance
func NewRedisCache(cfg *config.RedisConfig) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return NewRedisCacheFromClient(rdb)
}

// NewRedisCacheFromClient creates a new Redis cache instance from an existing client
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "openmatrix:gif",
	}
}

// WithPrefix returns a cache sharing the connection but scoped to prefix
func (r *RedisCache) WithPrefix(prefix string) *RedisCache {
	return &RedisCache{client: r.client, prefix: prefix}
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping tests the Redis connection
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// buildKey creates a scoped cache key
func (r *RedisCache) buildKey(key string) string {
	cleanKey := strings.ReplaceAll(key, ":", "_")
	return fmt.Sprintf("%s:%s", r.prefix, cleanKey)
}

// Get retrieves a value from the Redis cache
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cacheKey := r.buildKey(key)

	result, err := r.client.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if err == redis.Nil {
			// Key doesn't exist
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get key %s from Redis: %w", cacheKey, err)
	}

	return result, true, nil
}

// Set stores a value in the Redis cache with the specified TTL
func (r *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	cacheKey := r.buildKey(key)

	if err := r.client.Set(ctx, cacheKey, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s in Redis: %w", cacheKey, err)
	}

	return nil
}

// Flush removes every entry under the cache prefix
func (r *RedisCache) Flush(ctx context.Context) error {
	keys, err := r.scan(ctx)
	if err != nil {
		return err
	}

	if len(keys) > 0 {
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys: %w", err)
		}
	}

	return nil
}

// Stats returns the number of entries under the cache prefix
func (r *RedisCache) Stats(ctx context.Context) (int64, error) {
	keys, err := r.scan(ctx)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

func (r *RedisCache) scan(ctx context.Context) ([]string, error) {
	pattern := r.prefix + ":*"

	iter := r.client.Scan(ctx, 0, pattern, 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}

	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan for keys with pattern %s: %w", pattern, err)
	}
	return keys, nil
}
