// Package local is the default store: an unbounded map that lives as long as
// the process. Nothing is evicted; stale entries are simply skipped on read.
package local

import (
	"context"
	"sync"

	ghcache "github.com/dgduncan/go-gh-cache"
)

type BasicCache struct {
	cache map[string]*ghcache.CacheItem

	lock sync.RWMutex
}

func (bc *BasicCache) Get(_ context.Context, key string) (*ghcache.CacheItem, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	val, found := bc.cache[key]
	if !found {
		return nil, ghcache.ErrNotFound
	}

	return val, nil
}

func (bc *BasicCache) Set(_ context.Context, key string, item *ghcache.CacheItem) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	bc.cache[key] = item

	return nil
}

func (bc *BasicCache) Clear(_ context.Context) error {
	bc.lock.Lock()
	defer bc.lock.Unlock()

	clear(bc.cache)

	return nil
}

func (bc *BasicCache) Len(_ context.Context) (int, error) {
	bc.lock.RLock()
	defer bc.lock.RUnlock()

	return len(bc.cache), nil
}

func NewBasicCache() *BasicCache {
	return &BasicCache{
		cache: make(map[string]*ghcache.CacheItem),
	}
}
