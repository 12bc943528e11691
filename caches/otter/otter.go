// Package otter is a bounded in-memory store backed by otter's W-TinyLFU
// cache, for long running processes where the unbounded local store would
// grow without limit.
package otter

import (
	"context"
	"fmt"
	"time"

	"github.com/maypok86/otter/v2"

	ghcache "github.com/dgduncan/go-gh-cache"
	"github.com/dgduncan/go-gh-cache/caches"
)

// DefaultMaximumSize is used when Config.MaximumSize is zero.
const DefaultMaximumSize = 10_000

// Config defines the configuration options for the otter store.
type Config struct {
	// MaximumSize bounds the number of entries; the least valuable are evicted first.
	MaximumSize int
}

// Cache implements ghcache.Cache on top of otter. Entries are dropped by
// otter once their own TTL has passed.
type Cache struct {
	cache *otter.Cache[string, *ghcache.CacheItem]
}

func (c *Cache) Get(_ context.Context, k string) (*ghcache.CacheItem, error) {
	item, ok := c.cache.GetIfPresent(k)
	if !ok {
		return nil, ghcache.ErrNotFound
	}
	return item, nil
}

func (c *Cache) Set(_ context.Context, k string, v *ghcache.CacheItem) error {
	c.cache.Set(k, v)
	return nil
}

func (c *Cache) Clear(_ context.Context) error {
	c.cache.InvalidateAll()
	return nil
}

func (c *Cache) Len(_ context.Context) (int, error) {
	return c.cache.EstimatedSize(), nil
}

// New creates an otter-backed store.
func New(config *Config) (*Cache, error) {
	size := DefaultMaximumSize
	if config != nil && config.MaximumSize != 0 {
		size = config.MaximumSize
	}
	if size < 0 {
		return nil, caches.ValidationError{
			Reason: "negative maximum size",
		}
	}

	c, err := otter.New(&otter.Options[string, *ghcache.CacheItem]{
		MaximumSize: size,
		ExpiryCalculator: otter.ExpiryWritingFunc(func(e otter.Entry[string, *ghcache.CacheItem]) time.Duration {
			return e.Value.TTL
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("create otter cache: %w", err)
	}

	return &Cache{cache: c}, nil
}
