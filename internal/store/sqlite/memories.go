package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store"
)

// Add stores a memory and returns its id.
func (d *DB) Add(ctx context.Context, m schema.Memory) (string, error) {
	if m.ID == "" {
		m.ID = store.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = d.now()
	}
	blob, err := store.EncodeVector(m.Embedding)
	if err != nil {
		return "", err
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO memories (id, user_id, content, memory_type, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Content, m.MemoryType, blob, formatTime(m.CreatedAt))
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return m.ID, nil
}

// Search scores every memory of the user by cosine similarity to vec and
// returns those at or above threshold, most similar first.
func (d *DB) Search(ctx context.Context, vec []float32, userID string, threshold float64, limit int) ([]schema.Memory, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, user_id, content, memory_type, embedding, access_count, last_accessed_at, created_at
		FROM memories WHERE user_id = ? AND embedding IS NOT NULL`, userID)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var out []schema.Memory
	for rows.Next() {
		var (
			m            schema.Memory
			blob         []byte
			lastAccessed sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &m.MemoryType, &blob,
			&m.AccessCount, &lastAccessed, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		m.Embedding, err = store.DecodeVector(blob)
		if err != nil {
			slog.Warn("skipping memory with corrupt embedding", "memory", m.ID, "err", err)
			continue
		}
		sim, err := store.CosineSimilarity(vec, m.Embedding)
		if err != nil || sim < threshold {
			continue
		}
		m.Similarity = sim
		m.LastAccessedAt = parseNullTime(lastAccessed)
		m.CreatedAt = parseTime(createdAt)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Touch records an access of a memory.
func (d *DB) Touch(ctx context.Context, memoryID string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = ? WHERE id = ?`,
		formatTime(d.now()), memoryID)
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	return mustAffect(res, "memory", memoryID)
}
