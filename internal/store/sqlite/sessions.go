package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store"
)

const sessionColumns = `id, user_id, status, summary, compaction_count, last_compaction_at, last_activity_at, message_count, created_at`

// Get loads a session.
func (d *DB) Get(ctx context.Context, sessionID string) (schema.Session, error) {
	row := d.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, sessionID)
	sess, err := scanSession(row)
	if err != nil {
		return schema.Session{}, notFound(err, "session", sessionID)
	}
	return sess, nil
}

// UpdateSummary replaces the session summary and compaction bookkeeping.
func (d *DB) UpdateSummary(ctx context.Context, sessionID string, summary schema.SessionSummary, compactionCount int, at time.Time) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		return updateSummary(ctx, tx, sessionID, summary, compactionCount, at)
	})
}

// CommitCompaction writes the summary and marks the events compacted in one
// transaction.
func (d *DB) CommitCompaction(ctx context.Context, sessionID string, summary schema.SessionSummary, compactionCount int, at time.Time, eventIDs []string) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		if err := updateSummary(ctx, tx, sessionID, summary, compactionCount, at); err != nil {
			return err
		}
		return markCompacted(ctx, tx, sessionID, eventIDs)
	})
}

func updateSummary(ctx context.Context, tx *sql.Tx, sessionID string, summary schema.SessionSummary, compactionCount int, at time.Time) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET summary = ?, compaction_count = ?, last_compaction_at = ? WHERE id = ?`,
		string(data), compactionCount, formatTime(at), sessionID)
	if err != nil {
		return fmt.Errorf("update summary: %w", err)
	}
	return mustAffect(res, "session", sessionID)
}

// GetOrCreateActive returns the user's most recently active session, creating
// one when there is none.
func (d *DB) GetOrCreateActive(ctx context.Context, userID string) (string, error) {
	var id string
	err := d.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM sessions WHERE user_id = ? AND status = ?
			ORDER BY last_activity_at DESC LIMIT 1`,
			userID, string(schema.SessionActive),
		).Scan(&id)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("find active session: %w", err)
		}

		id = store.NewID()
		now := formatTime(d.now())
		empty, _ := json.Marshal(schema.EmptySummary())
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, user_id, status, summary, last_activity_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, userID, string(schema.SessionActive), string(empty), now, now,
		); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		slog.Debug("session created", "session", id, "user", userID)
		return nil
	})
	return id, err
}

// Complete marks a session completed.
func (d *DB) Complete(ctx context.Context, sessionID string) error {
	res, err := d.db.ExecContext(ctx, `UPDATE sessions SET status = ? WHERE id = ?`,
		string(schema.SessionCompleted), sessionID)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return mustAffect(res, "session", sessionID)
}

// ListIdle returns active sessions with no activity since before, oldest first.
func (d *DB) ListIdle(ctx context.Context, before time.Time, limit int) ([]schema.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		WHERE status = ? AND last_activity_at < ?
		ORDER BY last_activity_at ASC LIMIT ?`,
		string(schema.SessionActive), formatTime(before), limit)
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}
	defer rows.Close()

	var out []schema.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// StoreSummaryEmbedding saves the vector of the session's current summary.
func (d *DB) StoreSummaryEmbedding(ctx context.Context, sessionID string, vec []float32) error {
	blob, err := store.EncodeVector(vec)
	if err != nil {
		return err
	}
	res, err := d.db.ExecContext(ctx, `UPDATE sessions SET summary_embedding = ? WHERE id = ?`, blob, sessionID)
	if err != nil {
		return fmt.Errorf("store summary embedding: %w", err)
	}
	return mustAffect(res, "session", sessionID)
}

// SummaryEmbedding returns the stored summary vector of a session, or nil.
func (d *DB) SummaryEmbedding(ctx context.Context, sessionID string) ([]float32, error) {
	var blob []byte
	err := d.db.QueryRowContext(ctx, `SELECT summary_embedding FROM sessions WHERE id = ?`, sessionID).Scan(&blob)
	if err != nil {
		return nil, notFound(err, "session", sessionID)
	}
	if len(blob) == 0 {
		return nil, nil
	}
	return store.DecodeVector(blob)
}

func scanSession(row rowScanner) (schema.Session, error) {
	var (
		sess          schema.Session
		status        string
		summary       string
		lastCompacted sql.NullString
		lastActivity  string
		createdAt     string
	)
	if err := row.Scan(&sess.ID, &sess.UserID, &status, &summary, &sess.CompactionCount,
		&lastCompacted, &lastActivity, &sess.MessageCount, &createdAt); err != nil {
		return schema.Session{}, err
	}
	sess.Status = schema.SessionStatus(status)
	sess.LastActivityAt = parseTime(lastActivity)
	sess.CreatedAt = parseTime(createdAt)
	if t := parseNullTime(lastCompacted); !t.IsZero() {
		sess.LastCompactionAt = &t
	}

	parsed, err := schema.ParseSessionSummary([]byte(summary))
	if err != nil {
		slog.Warn("stored session summary unreadable", "session", sess.ID, "err", err)
	}
	sess.Summary = parsed
	return sess, nil
}
