// Package sqlite implements store.Store on SQLite through modernc.org/sqlite
// (pure Go, no CGO), in WAL mode with a single connection.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Jmemon/contextual-clarity-sub001/internal/store"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Open opens (creating if needed) the database described by cfg, migrates
// the schema, and returns a Store backed by it. Closing the Store closes
// the database.
func Open(ctx context.Context, cfg Config) (*store.Store, error) {
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", cfg.Path, err)
	}

	// SQLite handles one writer at a time; limit pool to 1 connection
	// so PRAGMAs apply consistently.
	db.SetMaxOpenConns(1)

	if cfg.walEnabled() {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return newStore(db), nil
}

func newStore(db *sql.DB) *store.Store {
	s := store.New(db.Close)
	s.Sets = sets{db}
	s.Points = points{db}
	s.Sessions = sessions{db}
	s.Messages = messages{db}
	s.Outcomes = outcomes{db}
	s.Tangents = tangents{db}
	s.Metrics = summaries{db}
	s.Snapshots = snapshots{db}
	return s
}
