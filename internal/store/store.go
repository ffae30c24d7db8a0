// Package store owns the local SQLite ledger database.
//
// It persists four things: credential metadata, sales facts keyed by their
// identity key, the durable sync-task queue, and a key-value sync_meta
// table holding the schema version and per-credential watermarks.
//
// The database runs embedded with WAL mode so dashboard readers can query
// concurrently with a sync run. All multi-row writes go through a single
// transaction; a storage error aborts the enclosing transaction and
// propagates to the caller.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrInvalidTransition is returned when a task status change is requested
// out of order, e.g. completing a task that was never claimed. Correct
// orchestration never triggers it; when it fires, something is running two
// sync loops against the same credential.
var ErrInvalidTransition = errors.New("store: invalid task transition")

// DB wraps the SQLite connection for the sales ledger.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens the ledger database at path and brings its schema
// to the current version. The parent directory is created if missing.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	// WAL lets dashboard reads run concurrently with a sync commit.
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// RawDB exposes the underlying sql.DB for collaborators (dashboard query
// layers) that build their own read-only statements.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// getMeta reads a sync_meta value; missing keys return ("", false).
func (db *DB) getMeta(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.conn.QueryRowContext(ctx,
		"SELECT value FROM sync_meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read sync_meta %q: %w", key, err)
	}
	return value, true, nil
}

// setMeta writes a sync_meta value, replacing any prior one.
func (db *DB) setMeta(ctx context.Context, key, value string) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT OR REPLACE INTO sync_meta (key, value) VALUES (?, ?)", key, value)
	if err != nil {
		return fmt.Errorf("failed to write sync_meta %q: %w", key, err)
	}
	return nil
}
