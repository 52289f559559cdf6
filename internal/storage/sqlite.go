// Package storage provides SQLite persistence for the host.
//
// The host keeps very little durable state: a key/value settings table that
// the device credential store, the skin/mode preferences and the paired
// device list are written to. The store is the "settings collaborator" the
// rest of the host talks to through narrow interfaces.
package storage

import (
	"database/sql"
	"log"
	"sync"

	hostErrors "github.com/pocketagent/host/internal/errors"

	// SQLite driver - imported for side effects (registers the driver).
	// modernc.org/sqlite is a pure-Go implementation that doesn't require
	// CGO, making cross-compilation and testing easier.
	_ "modernc.org/sqlite"
)

// SQLiteStore implements the settings key/value store on SQLite.
// It creates the database and tables on first use and supports
// concurrent access through internal locking.
type SQLiteStore struct {
	db *sql.DB      // Database connection handle.
	mu sync.RWMutex // Guards all database operations.
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
// It initializes the schema if the tables don't exist.
// Use ":memory:" for an in-memory database (useful for testing).
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	log.Printf("storage: opening database at %s", path)

	// busy_timeout lets the CLI read the device list while the host is
	// writing without failing immediately.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, hostErrors.Wrap(hostErrors.CodeStorageOpenFailed, "open database "+path, err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, hostErrors.Wrap(hostErrors.CodeStorageOpenFailed, "ping database "+path, err)
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, hostErrors.Wrap(hostErrors.CodeStorageOpenFailed, "init schema", err)
	}

	version, err := store.SchemaVersion()
	if err != nil {
		db.Close()
		return nil, hostErrors.Wrap(hostErrors.CodeStorageOpenFailed, "read schema version", err)
	}

	log.Printf("storage: database ready (schema version %d)", version)
	return store, nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	log.Printf("storage: closing database")
	return s.db.Close()
}
