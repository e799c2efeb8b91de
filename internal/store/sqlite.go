package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest SQLite schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// SQLiteStore implements Store on a local SQLite database. It is used by
// the CLI, local API runs and tests.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path and applies
// migrations. WAL mode and a busy timeout let concurrent attempts in one
// process and concurrent CLI invocations share the file.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	// Pragmas in the DSN apply to every pooled connection.
	dsn := path + "?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Debug().Str("path", path).Msg("SQLite store opened")
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file, for startup logging.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// Migration 0 -> 1: initial schema
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS edits (
		  id                TEXT PRIMARY KEY,
		  original_image_id TEXT NOT NULL,
		  current_image_id  TEXT NOT NULL,
		  mime_type         TEXT NOT NULL DEFAULT '',
		  width             INTEGER NOT NULL,
		  height            INTEGER NOT NULL,
		  prompt            TEXT NOT NULL DEFAULT '',
		  refined_prompt    TEXT NOT NULL DEFAULT '',
		  effect_strength   INTEGER NOT NULL DEFAULT 0,
		  status            TEXT NOT NULL,
		  title             TEXT NOT NULL DEFAULT '',
		  error             TEXT NOT NULL DEFAULT '',
		  camera_make       TEXT NOT NULL DEFAULT '',
		  camera_model      TEXT NOT NULL DEFAULT '',
		  taken_at          INTEGER NOT NULL DEFAULT 0,
		  created_at        INTEGER NOT NULL,
		  updated_at        INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS strength_cache (
		  edit_id     TEXT NOT NULL REFERENCES edits(id) ON DELETE CASCADE,
		  strength    INTEGER NOT NULL,
		  fingerprint TEXT NOT NULL,
		  image_id    TEXT NOT NULL,
		  created_at  INTEGER NOT NULL,
		  PRIMARY KEY (edit_id, strength)
		);

		CREATE TABLE IF NOT EXISTS edit_history (
		  edit_id     TEXT NOT NULL REFERENCES edits(id) ON DELETE CASCADE,
		  sequence    INTEGER NOT NULL,
		  fingerprint TEXT NOT NULL,
		  strength    INTEGER NOT NULL,
		  image_id    TEXT NOT NULL,
		  vector_json TEXT,
		  created_at  INTEGER NOT NULL,
		  PRIMARY KEY (edit_id, sequence)
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_edit_history_param
		ON edit_history(edit_id, fingerprint, strength);

		CREATE TABLE IF NOT EXISTS suggestions (
		  image_id     TEXT PRIMARY KEY,
		  title        TEXT NOT NULL DEFAULT '',
		  natural_json TEXT NOT NULL,
		  ai_json      TEXT NOT NULL,
		  created_at   INTEGER NOT NULL
		);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", 1)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// isUniqueConstraintError checks if err is a SQLite UNIQUE or PRIMARY KEY
// constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY constraint failed")
}
