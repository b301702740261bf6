package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS recall_sets (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		created_at  TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS recall_points (
		id          TEXT PRIMARY KEY,
		set_id      TEXT NOT NULL,
		content     TEXT NOT NULL,
		context     TEXT NOT NULL DEFAULT '',
		stability   REAL NOT NULL DEFAULT 0,
		difficulty  REAL NOT NULL DEFAULT 0,
		due         TEXT NOT NULL,
		reps        INTEGER NOT NULL DEFAULT 0,
		lapses      INTEGER NOT NULL DEFAULT 0,
		phase       TEXT NOT NULL DEFAULT 'new',
		last_review TEXT,
		history     TEXT NOT NULL DEFAULT '[]',
		created_at  TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_points_set_due ON recall_points(set_id, due)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id                 TEXT PRIMARY KEY,
		set_id             TEXT NOT NULL,
		target_point_ids   TEXT NOT NULL DEFAULT '[]',
		status             TEXT NOT NULL,
		started_at         TEXT NOT NULL,
		ended_at           TEXT,
		updated_at         TEXT NOT NULL,
		recalled_point_ids TEXT NOT NULL DEFAULT '[]',
		active_tangent_id  TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sessions_set_status ON sessions(set_id, status)`,

	`CREATE TABLE IF NOT EXISTS messages (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          TEXT NOT NULL UNIQUE,
		session_id  TEXT NOT NULL,
		role        TEXT NOT NULL,
		content     TEXT NOT NULL DEFAULT '',
		token_count INTEGER NOT NULL DEFAULT 0,
		created_at  TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq)`,

	`CREATE TABLE IF NOT EXISTS recall_outcomes (
		id          TEXT PRIMARY KEY,
		session_id  TEXT NOT NULL,
		point_id    TEXT NOT NULL,
		success     INTEGER NOT NULL,
		confidence  REAL NOT NULL,
		rating      TEXT NOT NULL,
		reasoning   TEXT NOT NULL DEFAULT '',
		forced      INTEGER NOT NULL DEFAULT 0,
		start_index INTEGER NOT NULL,
		end_index   INTEGER NOT NULL,
		created_at  TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_outcomes_session ON recall_outcomes(session_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS tangent_events (
		id                TEXT PRIMARY KEY,
		session_id        TEXT NOT NULL,
		topic             TEXT NOT NULL,
		trigger_index     INTEGER NOT NULL,
		return_index      INTEGER,
		depth             INTEGER NOT NULL,
		related_point_ids TEXT NOT NULL DEFAULT '[]',
		learner_initiated INTEGER NOT NULL DEFAULT 0,
		status            TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_tangents_session ON tangent_events(session_id, trigger_index)`,

	`CREATE TABLE IF NOT EXISTS session_summaries (
		session_id TEXT PRIMARY KEY,
		summary    TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS session_snapshots (
		session_id TEXT PRIMARY KEY,
		data       BLOB NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`,
}

// migrate creates or updates the database schema to the latest version.
// All DDL uses IF NOT EXISTS, making migration idempotent.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("sqlite: record schema version: %w", err)
	}

	return nil
}
