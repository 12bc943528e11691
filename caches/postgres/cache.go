package postgres

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/gob"
	"errors"
	"io"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	ghcache "github.com/dgduncan/go-gh-cache"
	"github.com/dgduncan/go-gh-cache/caches"
)

var (
	// ErrPingFailed is returned if the initial ping to the database returns an error
	ErrPingFailed = errors.New("ping returned error")
)

var (
	//go:embed create_table.sql
	queryCreateTable string
	//go:embed delete_expired.sql
	queryDeleteExpired string
	//go:embed delete_all.sql
	queryDeleteAll string
	//go:embed count_items.sql
	queryCountItems string
	//go:embed fetch_by_id.sql
	queryFetchByID string
	//go:embed insert_item.sql
	queryInsertItem string
)

// Config defines the configuration options for the PostgreSQL cache implementation.
type Config struct {
	// DeleteExpiredItems enables automatic cleanup of expired cache entries
	// through a background task.
	DeleteExpiredItems bool

	// ExpiredTaskTimer defines the interval at which the cleanup task runs.
	// Shorter durations may impact database performance.
	ExpiredTaskTimer time.Duration

	// ItemExpiration defines how long rows are kept after their TTL.
	// This is separate from the freshness decision made by the RequestCache.
	ItemExpiration time.Duration

	// Logger receives cleanup task errors. Nil discards them.
	Logger *slog.Logger
}

// Cache implements the ghcache.Cache interface using PostgreSQL as the storage backend.
// It lets several processes share cached GitHub responses.
type Cache struct {
	db *sql.DB

	expiration time.Duration
	now        func() time.Time
}

// Get retrieves a cache item from PostgreSQL by its key.
// Returns ghcache.ErrNotFound if the item doesn't exist.
func (p *Cache) Get(ctx context.Context, k string) (*ghcache.CacheItem, error) {
	stmt, err := p.db.PrepareContext(ctx, queryFetchByID)
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	var key string
	var response []byte
	if err := stmt.QueryRowContext(ctx, k, p.now().UTC()).Scan(&key, &response); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ghcache.ErrNotFound
		}
		return nil, err
	}

	return decodeItem(response)
}

// Set stores a cache item under k, replacing any existing row.
// It handles the serialization of the cache item using gob encoding.
func (p *Cache) Set(ctx context.Context, k string, v *ghcache.CacheItem) error {
	stmt, err := p.db.PrepareContext(ctx, queryInsertItem)
	if err != nil {
		return err
	}
	defer stmt.Close()

	b, err := encodeItem(v)
	if err != nil {
		return err
	}

	now := p.now().UTC()
	_, err = stmt.ExecContext(ctx, k, b, v.StoredAt.UTC().Add(v.TTL+p.expiration), now)
	return err
}

// Clear removes every row.
func (p *Cache) Clear(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, queryDeleteAll)
	return err
}

// Len counts rows that have not yet passed their retention time.
func (p *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, queryCountItems, p.now().UTC()).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func encodeItem(v *ghcache.CacheItem) ([]byte, error) {
	var buff bytes.Buffer
	if err := gob.NewEncoder(&buff).Encode(v); err != nil {
		return nil, err
	}
	return buff.Bytes(), nil
}

func decodeItem(b []byte) (*ghcache.CacheItem, error) {
	var item ghcache.CacheItem
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&item); err != nil {
		return nil, err
	}
	return &item, nil
}

func createTable(ctx context.Context, db *sql.DB) error {
	stmt, err := db.PrepareContext(ctx, queryCreateTable)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx)
	return err
}

func deleteExpiredItems(ctx context.Context, db *sql.DB) error {
	stmt, err := db.PrepareContext(ctx, queryDeleteExpired)
	if err != nil {
		return err
	}
	defer stmt.Close()

	_, err = stmt.ExecContext(ctx)
	return err
}

func expiredTask(ctx context.Context, db *sql.DB, every time.Duration, logger *slog.Logger) {
	t := time.NewTimer(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.DebugContext(ctx, "expired item task stopped")
			return
		case <-t.C:
			if err := deleteExpiredItems(ctx, db); err != nil {
				logger.WarnContext(ctx, "error deleting expired cache items", "error", err)
			}
			t.Reset(every)
		}
	}
}

// New creates a new PostgreSQL cache instance with the provided configuration.
// It verifies the database connection, creates the necessary table structure, and
// optionally starts the cleanup task for expired items, which runs until ctx is done.
//
// Returns an error if:
// - The database handle is nil
// - The database connection test fails
// - Table creation fails
func New(ctx context.Context, db *sql.DB, config *Config) (*Cache, error) {
	if db == nil {
		return nil, caches.ValidationError{
			Reason: "nil database",
		}
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(ErrPingFailed, err)
	}

	if err := createTable(ctx, db); err != nil {
		return nil, err
	}

	c := &Cache{
		db: db,

		expiration: caches.DefaultExpiredDuration,
		now:        time.Now,
	}

	if config != nil {
		if config.ItemExpiration != 0 {
			c.expiration = config.ItemExpiration
		}

		if config.DeleteExpiredItems {
			every := config.ExpiredTaskTimer
			if every == 0 {
				every = caches.DefaultExpiredTaskTimer
			}
			logger := config.Logger
			if logger == nil {
				logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			}
			go expiredTask(ctx, db, every, logger)
		}
	}

	return c, nil
}
