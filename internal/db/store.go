// Package db is the client-side view of a FabricDB replica: a Store wrapping
// the SQLite replica file, an in-memory Snapshot of its rows at a sequence
// number, and an optimistic Transaction that commits against that snapshot.
package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fabricdb/fabctl/internal/schema"
)

//go:embed schema.sql
var schemaSQL string

// Store wraps the SQLite replica file.
// Uses WAL mode so readers are not blocked while a writer commits.
type Store struct {
	db     *sql.DB
	path   string
	schema *schema.Schema
}

// Open creates or opens the replica at the given path.
// Applies required pragmas and the row/meta layout automatically; safe to
// call on an existing replica.
func Open(path string, sch *schema.Schema) (*Store, error) {
	// Immediate transactions take the write lock at BEGIN, so a commit
	// either holds the lock or fails fast instead of deadlocking on a
	// lock upgrade mid-transaction.
	db, err := sql.Open("sqlite3", "file:"+path+"?_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open replica: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to replica: %w", err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply replica layout: %w", err)
	}

	return &Store{db: db, path: path, schema: sch}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the replica file path.
func (s *Store) Path() string { return s.path }

// Schema returns the table schema the store was opened with.
func (s *Store) Schema() *schema.Schema { return s.schema }

// Alive reports whether the replica is still reachable.
func (s *Store) Alive(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

// Seqno reads the current replica sequence number.
func (s *Store) Seqno(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'seqno'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("read seqno: %w", err)
	}
	return n, nil
}

// NewSnapshot returns an empty snapshot bound to this store. The snapshot
// holds no rows until the first Refresh.
func (s *Store) NewSnapshot() *Snapshot {
	return &Snapshot{store: s}
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}
