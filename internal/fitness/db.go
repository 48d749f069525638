// Package fitness is the training log behind the coach's tools: programs,
// training sessions, logged movements and coach notes, stored in SQLite.
package fitness

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS programs (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		days_per_week INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (owner, name)
	)`,
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		program_id TEXT REFERENCES programs(id) ON DELETE SET NULL,
		date TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_owner_date ON sessions(owner, date)`,
	`CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		movement TEXT NOT NULL,
		sets INTEGER NOT NULL,
		reps INTEGER NOT NULL,
		weight_kg REAL NOT NULL DEFAULT 0,
		rpe REAL NOT NULL DEFAULT 0,
		note TEXT NOT NULL DEFAULT '',
		logged_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_movements_session ON movements(session_id)`,
	`CREATE TABLE IF NOT EXISTS notes (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE (owner, content)
	)`,
}

// Open opens (creating if needed) the training database at path and applies
// the schema. SQLite allows one writer, so the pool holds one connection and
// tool transactions queue for it.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
