// Package store persists parsed articles in SQLite.
//
// Open applies the production pragmas via EXEC (driver-agnostic) and
// the schema before returning. Callers get one Store per database
// file; the modernc.org/sqlite driver is blank-imported here.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// Store wraps the articles database.
type Store struct {
	DB *sql.DB
}

// Open opens (creating if needed) the database at path. Parent
// directories are created for non-memory paths.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: mkdir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: schema: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{DB: db}, nil
}

// OpenMemory opens an in-memory database for testing. MaxOpenConns(1)
// keeps every query on the same connection; each connection to
// ":memory:" would otherwise get its own database.
func OpenMemory(t testing.TB) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("store.OpenMemory: %v", err)
	}
	s.DB.SetMaxOpenConns(1)
	t.Cleanup(func() { s.Close() })
	return s
}

func (s *Store) Close() error { return s.DB.Close() }
