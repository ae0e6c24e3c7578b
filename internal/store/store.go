// Package store provides SQLite persistence: the deduplicating email
// sink, the OAuth credential store, and the verification-code table.
// Everything lives in one database file so a batch and its bookkeeping
// commit together.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// Store wraps the application database.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the database at dbPath and runs
// migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// NewStoreWithDB wraps an existing database connection. Used by tests
// to inject an in-memory database.
func NewStoreWithDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS emails (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			provider TEXT NOT NULL,
			email_uid TEXT NOT NULL,
			subject TEXT,
			from_addr TEXT,
			to_addr TEXT,
			date TEXT,
			preview TEXT,
			plain_body TEXT,
			html_body TEXT,
			sequence TEXT,
			attachments TEXT,
			fetched_at TEXT NOT NULL,
			created_by TEXT,
			UNIQUE(provider, email_uid)
		);

		CREATE INDEX IF NOT EXISTS idx_emails_provider ON emails(provider);
		CREATE INDEX IF NOT EXISTS idx_emails_date ON emails(date DESC);

		CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT NOT NULL,
			refresh_token TEXT,
			token_type TEXT,
			expiry TEXT,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS verification_codes (
			email TEXT PRIMARY KEY,
			code TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
