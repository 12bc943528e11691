//go:build !integration

package local

import (
	"context"
	"errors"
	"testing"
	"time"

	ghcache "github.com/dgduncan/go-gh-cache"
)

var _ ghcache.Cache = (*BasicCache)(nil)

func TestBasicCache(t *testing.T) {
	ctx := context.Background()
	bc := NewBasicCache()

	if _, err := bc.Get(ctx, "missing"); !errors.Is(err, ghcache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	first := &ghcache.CacheItem{Data: []byte(`{"v":1}`), StoredAt: time.Now(), TTL: time.Minute}
	second := &ghcache.CacheItem{Data: []byte(`{"v":2}`), StoredAt: time.Now(), TTL: time.Minute}

	if err := bc.Set(ctx, "k", first); err != nil {
		t.Fatal(err)
	}
	if err := bc.Set(ctx, "k", second); err != nil {
		t.Fatal(err)
	}

	got, err := bc.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != `{"v":2}` {
		t.Errorf("expected last write to win, got %s", got.Data)
	}

	n, _ := bc.Len(ctx)
	if n != 1 {
		t.Errorf("expected 1 entry, got %d", n)
	}

	if err := bc.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	n, _ = bc.Len(ctx)
	if n != 0 {
		t.Errorf("expected empty cache after clear, got %d", n)
	}
}
