// Package storage persists what the relay cannot be asked for while
// offline: the last known kinkster records and the light-storage items
// peers have published, kept in a local SQLite file.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// DB wraps the local SQLite cache.
type DB struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the cache database in the given directory.
func Open(configDir string) (*DB, error) {
	dbPath := filepath.Join(configDir, "cache.db")

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps readers unblocked during the sync writes on reconnect.
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _kinkster_cache (
			uid          TEXT PRIMARY KEY,
			alias        TEXT DEFAULT '',
			own_perms    TEXT NOT NULL,
			their_perms  TEXT NOT NULL,
			their_global TEXT NOT NULL,
			paired_since INTEGER DEFAULT 0,
			last_seen    TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kinkster cache table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _light_items (
			owner_uid TEXT NOT NULL,
			item_id   TEXT NOT NULL,
			category  TEXT NOT NULL,
			label     TEXT DEFAULT '',
			claims    TEXT NOT NULL,
			PRIMARY KEY (owner_uid, item_id)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create light items table: %w", err)
	}

	return &DB{db: db, path: dbPath}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}
