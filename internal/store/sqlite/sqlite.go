// Package sqlite implements every store interface on a single SQLite file
// using the pure-Go modernc driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/roadmate/roadmate/internal/schema"
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// DB is the SQLite-backed store.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the
// schema. Use ":memory:" for a throwaway database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps the pragmas and serialises writers.
	db.SetMaxOpenConns(1)

	d := &DB{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := d.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := d.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := d.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

// Close closes the database.
func (d *DB) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Ping checks the connection.
func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *DB) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			summary TEXT NOT NULL DEFAULT '{}',
			summary_embedding BLOB,
			compaction_count INTEGER NOT NULL DEFAULT 0,
			last_compaction_at TEXT,
			last_activity_at TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, status, last_activity_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_activity ON sessions(status, last_activity_at)`,
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL DEFAULT '',
			seq INTEGER NOT NULL,
			event_type TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			payload TEXT NOT NULL DEFAULT '{}',
			is_compacted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE(session_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_uncompacted ON events(session_id, is_compacted, seq)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL DEFAULT '',
			embedding BLOB,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed_at TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_user ON memories(user_id)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			handle TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			artifact_type TEXT NOT NULL DEFAULT '',
			summary TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			size_bytes INTEGER NOT NULL DEFAULT 0,
			access_count INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			last_accessed_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_user ON artifacts(user_id, last_accessed_at)`,
		`CREATE TABLE IF NOT EXISTS profiles (
			user_id TEXT PRIMARY KEY,
			display_name TEXT NOT NULL DEFAULT '',
			home_location TEXT NOT NULL DEFAULT '',
			vehicle TEXT NOT NULL DEFAULT '',
			preferences TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS agent_instructions (
			agent_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			instructions TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (agent_id, user_id)
		)`,
	}

	for _, stmt := range stmts {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// inTx runs fn inside a transaction, committing when it returns nil.
func (d *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeFormat) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	return parseTime(s.String)
}

// notFound maps sql.ErrNoRows to schema.ErrNotFound.
func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, schema.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", what, id, err)
}

// mustAffect returns ErrNotFound when res touched no row.
func mustAffect(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, id, schema.ErrNotFound)
	}
	return nil
}

var (
	_ schema.EventStore          = (*DB)(nil)
	_ schema.SessionStore        = (*DB)(nil)
	_ schema.CompactionCommitter = (*DB)(nil)
	_ schema.MemoryIndex         = (*DB)(nil)
	_ schema.ProfileLookup       = (*DB)(nil)
	_ schema.InstructionStore    = (*DB)(nil)
	_ schema.ArtifactStore       = (*Artifacts)(nil)
)
