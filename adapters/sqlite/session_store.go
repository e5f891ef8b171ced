// Package sqlite provides the durable on-device session store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/satriahrh/cprlink/domain/repositories"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS session_values (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SessionStore persists pairing session values in a SQLite file so they
// survive process restarts.
type SessionStore struct {
	db *sql.DB
}

// Open creates or opens the session database at path.
// This function is idempotent - safe to call multiple times.
func Open(path string) (*SessionStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to session database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SessionStore{db: db}, nil
}

// Close closes the database connection.
func (s *SessionStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// Get implements repositories.SessionStore
func (s *SessionStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM session_values WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", repositories.ErrSessionKeyNotFound
		}
		return "", fmt.Errorf("failed to read session key %s: %w", key, err)
	}
	return value, nil
}

// Set implements repositories.SessionStore
func (s *SessionStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO session_values (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write session key %s: %w", key, err)
	}
	return nil
}

// Remove implements repositories.SessionStore
func (s *SessionStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM session_values WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to remove session key %s: %w", key, err)
	}
	return nil
}
