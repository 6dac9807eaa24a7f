// Package local provides the client's durable state: a key/value cache of
// last-known-good server responses and the outbox of pending mutations.
//
// Both live in one SQLite database so an optimistic cache write and the outbox
// entry that will replay it commit together or not at all.
package local

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// ErrStorage marks failures of the local persistence layer.
var ErrStorage = errors.New("local storage error")

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    written_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_actions (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    type            TEXT NOT NULL,
    group_id        TEXT NOT NULL DEFAULT '',
    payload         BLOB NOT NULL,
    idempotency_key TEXT NOT NULL,
    local_ref       TEXT NOT NULL DEFAULT '',
    attempts        INTEGER NOT NULL DEFAULT 0,
    last_error      TEXT NOT NULL DEFAULT '',
    created_at      INTEGER NOT NULL
);
`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB is the client's local database.
type DB struct {
	db *sql.DB
}

// Open opens or creates the local database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: failed to create directory: %w", ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=synchronous(full)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrStorage, err)
	}

	// Single writer; the controller serializes all mutations anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %w", ErrStorage, err)
	}
	return &DB{db: db}, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Cache returns the key/value cache backed by this database.
func (d *DB) Cache() *Cache { return &Cache{q: d.db} }

// Outbox returns the pending action queue backed by this database.
func (d *DB) Outbox() *Outbox { return &Outbox{q: d.db} }

// Tx exposes the cache and outbox inside one transaction.
type Tx struct {
	Cache  *Cache
	Outbox *Outbox
}

// WithTx runs fn in a transaction. Nothing is persisted if fn returns an error.
func (d *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %w", ErrStorage, err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{Cache: &Cache{q: sqlTx}, Outbox: &Outbox{q: sqlTx}}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %w", ErrStorage, err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %w", ErrStorage, op, err)
}
