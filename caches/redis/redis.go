// Package redis stores cached API responses in Redis so several processes
// can share the responses fetched under one quota.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	ghcache "github.com/dgduncan/go-gh-cache"
	"github.com/dgduncan/go-gh-cache/caches"
)

const scanCount = 500

// Config defines the configuration options for the Redis store.
type Config struct {
	// KeyPrefix namespaces every key. Clear and Len only touch keys under it.
	KeyPrefix string

	// ItemExpiration is how long Redis keeps an entry after its TTL. This is
	// independent of the freshness decision made by the RequestCache.
	ItemExpiration time.Duration
}

// Cache implements ghcache.Cache using Redis.
type Cache struct {
	client *redis.Client

	prefix     string
	pattern    string // SCAN MATCH pattern for keys under prefix
	expiration time.Duration
}

type cacheItem struct {
	Data     json.RawMessage `json:"data"`
	StoredAt time.Time       `json:"stored_at"`
	TTLMs    int64           `json:"ttl_ms"`
}

func (c *Cache) Get(ctx context.Context, k string) (*ghcache.CacheItem, error) {
	val, err := c.client.Get(ctx, c.prefix+k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ghcache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get cache item: %w", err)
	}

	var item cacheItem
	if err := json.Unmarshal(val, &item); err != nil {
		return nil, fmt.Errorf("unmarshal cache item: %w", err)
	}

	return &ghcache.CacheItem{
		Data:     item.Data,
		StoredAt: item.StoredAt,
		TTL:      time.Duration(item.TTLMs) * time.Millisecond,
	}, nil
}

func (c *Cache) Set(ctx context.Context, k string, v *ghcache.CacheItem) error {
	b, err := json.Marshal(cacheItem{
		Data:     v.Data,
		StoredAt: v.StoredAt,
		TTLMs:    v.TTL.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("marshal cache item: %w", err)
	}

	return c.client.Set(ctx, c.prefix+k, b, v.TTL+c.expiration).Err()
}

// Clear deletes every key under the prefix.
func (c *Cache) Clear(ctx context.Context) error {
	return c.scan(ctx, func(keys []string) error {
		return c.client.Del(ctx, keys...).Err()
	})
}

// Len counts the keys under the prefix.
func (c *Cache) Len(ctx context.Context) (int, error) {
	n := 0
	err := c.scan(ctx, func(keys []string) error {
		n += len(keys)
		return nil
	})
	return n, err
}

func (c *Cache) scan(ctx context.Context, fn func(keys []string) error) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.pattern, scanCount).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// New creates a Redis-backed store. Returns an error if the client is nil.
func New(client *redis.Client, config *Config) (*Cache, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}

	c := &Cache{
		client:     client,
		prefix:     caches.DefaultKeyPrefix,
		expiration: caches.DefaultExpiredDuration,
	}
	if config != nil {
		if config.KeyPrefix != "" {
			c.prefix = config.KeyPrefix
		}
		if config.ItemExpiration != 0 {
			c.expiration = config.ItemExpiration
		}
	}
	c.pattern = matchPrefix(c.prefix)

	return c, nil
}

// matchPrefix returns a glob matching every key that starts with prefix,
// escaping the glob metacharacters prefix may contain.
func matchPrefix(prefix string) string {
	var b strings.Builder
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('*')
	return b.String()
}
