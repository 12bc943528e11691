// Package sqlite implements profiles.Store using SQLite via modernc.org/sqlite.
// Credential columns are sealed with credentials.Sealer before they are
// written.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"runtime"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/dgduncan/go-gh-cache/credentials"
	"github.com/dgduncan/go-gh-cache/profiles"
)

//go:embed migrations/*.sql
var migrations embed.FS

var _ profiles.Store = (*Store)(nil)

// Store implements profiles.Store using SQLite.
type Store struct {
	write *sql.DB // single-writer connection
	read  *sql.DB // multi-reader pool

	sealer credentials.Sealer
	logger *slog.Logger
	now    func() time.Time
}

// New opens a SQLite database, runs migrations, and returns a Store. If the
// logger is nil, a no-op logger writing to io.Discard will be used.
func New(dsn string, sealer credentials.Sealer, logger *slog.Logger) (*Store, error) {
	if sealer.Secret == "" {
		return nil, credentials.ErrNoSecret
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	pragmas := "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

	var fullDSN string
	if dsn == ":memory:" {
		fullDSN = "file::memory:?mode=memory&cache=shared&" + pragmas
	} else {
		fullDSN = "file:" + dsn + "?" + pragmas
	}

	write, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", fullDSN)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}
	read.SetMaxOpenConns(max(4, runtime.NumCPU()))

	if err := runMigrations(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &Store{
		write:  write,
		read:   read,
		sealer: sealer,
		logger: logger,
		now:    time.Now,
	}, nil
}

func runMigrations(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = provider.Up(context.Background())
	return err
}

// Close closes both database connections.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}
