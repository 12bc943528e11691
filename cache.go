package ghcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("cache item not found")
)

// CacheItem is a stored API response. Freshness is decided by the RequestCache
// clock, never by the backend.
type CacheItem struct {
	Data     json.RawMessage
	StoredAt time.Time
	TTL      time.Duration
}

// Fresh reports whether the item may still be served at now.
func (i *CacheItem) Fresh(now time.Time) bool {
	return now.Sub(i.StoredAt) <= i.TTL
}

// Cache is the storage behind a RequestCache. Get returns ErrNotFound when no
// item is stored under k.
type Cache interface {
	Get(ctx context.Context, k string) (*CacheItem, error)
	Set(ctx context.Context, k string, v *CacheItem) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}
