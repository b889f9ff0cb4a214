// Package store persists conversations, messages, the outbox and signature
// templates in the daemon's SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a conversation, message or template does not
// exist.
var ErrNotFound = errors.New("store: not found")

// DB is the daemon-owned inbox.db.
type DB struct {
	*sql.DB
}

// dsnOptions are the go-sqlite3 connection parameters. Write transactions
// take the lock up front so concurrent writers wait on busy_timeout instead
// of failing on upgrade.
var dsnOptions = url.Values{
	"_journal_mode": {"WAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
	"_txlock":       {"immediate"},
}

// Open connects to the database at path, creating it if needed.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?"+dsnOptions.Encode())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{db}, nil
}
