// Package store provides the durable local cache for remindd.
//
// The cache is an embedded SQLite database opened in WAL mode so that
// foreground reads proceed concurrently with the single background
// reconciliation writer. One table exists per entity type (tasks, users,
// groups), plus the mutation queue table and a small key-value meta table
// holding sync bookkeeping (last-pull hashes, last day-boundary timestamp,
// the local ID counter).
//
// All timestamps are stored as integer Unix milliseconds. Last-write-wins
// merges compare updated_at values in SQL, so the column must order
// correctly without string parsing.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with cache-specific functionality.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new cache database at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If it doesn't exist it is created along with the schema. The caller MUST
// call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// WAL mode for concurrent readers during writes.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := s.InitSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// RawDB returns the underlying sql.DB connection. The mutation queue
// shares this handle so that enqueue+apply happens in one transaction.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close cache database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the cache schema if it doesn't exist. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		id INTEGER PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		task_type TEXT NOT NULL,
		recurrence_type TEXT NOT NULL DEFAULT '',
		recurrence_interval INTEGER NOT NULL DEFAULT 0,
		interval_days INTEGER NOT NULL DEFAULT 0,
		reminder_time INTEGER NOT NULL,
		group_id INTEGER NOT NULL DEFAULT 0,
		enabled INTEGER NOT NULL DEFAULT 1,
		completed INTEGER NOT NULL DEFAULT 0,
		assigned_user_ids TEXT NOT NULL DEFAULT '[]',  -- JSON array
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		last_accessed INTEGER NOT NULL DEFAULT 0,
		last_shown_at INTEGER NOT NULL DEFAULT 0,

		-- Maintained on every upsert, summed for retention decisions
		size_estimate INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		size_estimate INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS groups (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		member_ids TEXT NOT NULL DEFAULT '[]',  -- JSON array
		created_by INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		size_estimate INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		op TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id INTEGER NOT NULL,
		payload TEXT,
		ts INTEGER NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_retry INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		size_bytes INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_type ON tasks(task_type);
	CREATE INDEX IF NOT EXISTS idx_tasks_reminder ON tasks(reminder_time);
	CREATE INDEX IF NOT EXISTS idx_tasks_enabled_accessed ON tasks(enabled, last_accessed);
	CREATE INDEX IF NOT EXISTS idx_queue_status ON queue(status);
	CREATE INDEX IF NOT EXISTS idx_queue_entity ON queue(entity_type, entity_id);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// GetMeta returns the value for a metadata key, or "" if absent.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta stores a metadata key/value pair.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write meta %s: %w", key, err)
	}
	return nil
}

// NextLocalID reserves the next placeholder ID for an offline create.
// Placeholder IDs are negative and decrease monotonically so they can never
// collide with server-assigned IDs.
func (s *Store) NextLocalID(ctx context.Context) (int64, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'next_local_id'`).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return 0, fmt.Errorf("failed to read local id counter: %w", err)
	}
	if current >= 0 {
		current = -1
	} else {
		current--
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES ('next_local_id', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, current); err != nil {
		return 0, fmt.Errorf("failed to advance local id counter: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit local id counter: %w", err)
	}
	return current, nil
}

// timeToMillis converts a time to Unix milliseconds, with zero times stored
// as 0 so they round-trip cleanly.
func timeToMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// millisToTime is the inverse of timeToMillis.
func millisToTime(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
