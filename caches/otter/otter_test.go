//go:build !integration

package otter

import (
	"context"
	"errors"
	"testing"
	"time"

	ghcache "github.com/dgduncan/go-gh-cache"
	"github.com/dgduncan/go-gh-cache/caches"
)

var _ ghcache.Cache = (*Cache)(nil)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		config      *Config
		expectedErr error
	}{
		{name: "nil config uses default size"},
		{name: "custom size", config: &Config{MaximumSize: 10}},
		{name: "negative size rejected", config: &Config{MaximumSize: -1}, expectedErr: caches.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c, err := New(tt.config)
			if !errors.Is(err, tt.expectedErr) {
				t.Fatalf("expected error %v, got %v", tt.expectedErr, err)
			}
			if tt.expectedErr == nil && c == nil {
				t.Fatal("expected cache")
			}
		})
	}
}

func TestCache_GetSetClear(t *testing.T) {
	t.Parallel()

	c, err := New(&Config{MaximumSize: 100})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := c.Get(ctx, "missing"); !errors.Is(err, ghcache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := c.Set(ctx, "k1", &ghcache.CacheItem{Data: []byte(`"v1"`), StoredAt: time.Now(), TTL: time.Minute}); err != nil {
		t.Fatal(err)
	}
	// otter may apply writes asynchronously; wait briefly.
	time.Sleep(50 * time.Millisecond)

	item, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatal("should find k1")
	}
	if string(item.Data) != `"v1"` {
		t.Errorf("value = %s, want %s", item.Data, `"v1"`)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx, "k1"); err == nil {
		t.Error("clear should remove all keys")
	}
}

func TestCache_ExpiresWithItemTTL(t *testing.T) {
	t.Parallel()

	c, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_ = c.Set(ctx, "expiring", &ghcache.CacheItem{Data: []byte(`1`), StoredAt: time.Now(), TTL: 50 * time.Millisecond})
	time.Sleep(120 * time.Millisecond)

	if _, err := c.Get(ctx, "expiring"); err == nil {
		t.Error("entry should be expired")
	}
}
