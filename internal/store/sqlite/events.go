package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store"
)

const eventColumns = `id, session_id, user_id, seq, event_type, content, payload, is_compacted, created_at`

// Append validates ev and stores it with the next sequence number of its
// session.
func (d *DB) Append(ctx context.Context, ev schema.NewEvent) (int64, error) {
	if err := schema.ValidateEvent(ev); err != nil {
		return 0, err
	}
	payload, err := schema.EncodePayload(ev.Payload)
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}

	var seq int64
	err = d.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, ev.SessionID).Scan(&exists); err != nil {
			return notFound(err, "session", ev.SessionID)
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE session_id = ?`, ev.SessionID,
		).Scan(&seq); err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		now := formatTime(d.now())
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
			store.NewID(), ev.SessionID, ev.UserID, seq, string(ev.Type), ev.Content, string(payload), now,
		); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}

		messages := 0
		if ev.Type == schema.EventUserMessage || ev.Type == schema.EventAssistantMessage {
			messages = 1
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE sessions SET last_activity_at = ?, message_count = message_count + ? WHERE id = ?`,
			now, messages, ev.SessionID,
		); err != nil {
			return fmt.Errorf("touch session: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("append event: %w", err)
	}
	return seq, nil
}

// ListUncompacted returns up to limit uncompacted events ordered by sequence.
// A limit <= 0 returns all of them.
func (d *DB) ListUncompacted(ctx context.Context, sessionID string, limit int, order schema.Order) ([]schema.Event, error) {
	dir := "ASC"
	if order == schema.OrderDesc {
		dir = "DESC"
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE session_id = ? AND is_compacted = 0
		ORDER BY seq `+dir+` LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list uncompacted events: %w", err)
	}
	defer rows.Close()

	var out []schema.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountUncompacted counts uncompacted events, not counting compaction markers.
func (d *DB) CountUncompacted(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM events WHERE session_id = ? AND is_compacted = 0 AND event_type != ?`,
		sessionID, string(schema.EventCompactionMarker),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count uncompacted events: %w", err)
	}
	return n, nil
}

// MarkCompacted flags the given events of the session as compacted.
func (d *DB) MarkCompacted(ctx context.Context, sessionID string, eventIDs []string) error {
	return d.inTx(ctx, func(tx *sql.Tx) error {
		return markCompacted(ctx, tx, sessionID, eventIDs)
	})
}

// AllEvents returns every event of a session, compacted or not, in sequence order.
func (d *DB) AllEvents(ctx context.Context, sessionID string) ([]schema.Event, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []schema.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func markCompacted(ctx context.Context, tx *sql.Tx, sessionID string, eventIDs []string) error {
	stmt, err := tx.PrepareContext(ctx, `UPDATE events SET is_compacted = 1 WHERE session_id = ? AND id = ?`)
	if err != nil {
		return fmt.Errorf("prepare mark compacted: %w", err)
	}
	defer stmt.Close()
	for _, id := range eventIDs {
		if _, err := stmt.ExecContext(ctx, sessionID, id); err != nil {
			return fmt.Errorf("mark event %s compacted: %w", id, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (schema.Event, error) {
	var (
		ev        schema.Event
		typ       string
		payload   string
		compacted int
		createdAt string
	)
	if err := row.Scan(&ev.ID, &ev.SessionID, &ev.UserID, &ev.Sequence, &typ, &ev.Content, &payload, &compacted, &createdAt); err != nil {
		return schema.Event{}, fmt.Errorf("scan event: %w", err)
	}
	ev.Type = schema.EventType(typ)
	ev.IsCompacted = compacted != 0
	ev.CreatedAt = parseTime(createdAt)

	p, err := schema.DecodePayload(ev.Type, []byte(payload))
	if err != nil {
		return schema.Event{}, fmt.Errorf("event %s: %w", ev.ID, err)
	}
	ev.Payload = p
	return ev, nil
}
