// Package store persists consultation history, scheduled checks and
// encrypted secrets in SQLite. Correlation of in-flight requests stays in
// memory; this is the record of what happened, not the coordination state.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"consilium/internal/config"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS consultations (
			correlation_id TEXT PRIMARY KEY,
			subject_id     TEXT NOT NULL,
			request_types  TEXT NOT NULL,
			status         TEXT NOT NULL DEFAULT 'pending',
			responses      TEXT,
			synthesis      TEXT,
			elapsed_ms     INTEGER,
			created_at     DATETIME DEFAULT CURRENT_TIMESTAMP,
			resolved_at    DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_consultations_subject
			ON consultations(subject_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS checks (
			id            TEXT PRIMARY KEY,
			subject_id    TEXT NOT NULL,
			name          TEXT NOT NULL,
			schedule      TEXT NOT NULL,
			request_types TEXT NOT NULL,
			parameters    TEXT,
			context       TEXT,
			status        TEXT NOT NULL DEFAULT 'active',
			next_run      DATETIME,
			last_run      DATETIME,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checks_due ON checks(status, next_run)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			id          TEXT PRIMARY KEY,
			name        TEXT NOT NULL UNIQUE,
			description TEXT,
			value       BLOB NOT NULL,
			nonce       BLOB NOT NULL,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}
	return nil
}
