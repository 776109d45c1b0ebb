package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store"
)

const artifactColumns = `handle, user_id, session_id, name, artifact_type, summary, content, size_bytes, access_count, created_at, last_accessed_at`

// artifactRefColumns matches artifactColumns with the content left out.
const artifactRefColumns = `handle, user_id, session_id, name, artifact_type, summary, '' AS content, size_bytes, access_count, created_at, last_accessed_at`

// Artifacts is the ArtifactStore view of a DB.
type Artifacts struct{ d *DB }

// Artifacts returns the ArtifactStore backed by d.
func (d *DB) Artifacts() *Artifacts { return &Artifacts{d: d} }

// ListRecent returns the user's most recently accessed artifacts without
// their content. An empty sessionID lists artifacts of every session.
func (a *Artifacts) ListRecent(ctx context.Context, userID, sessionID string, limit int) ([]schema.Artifact, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := a.d.db.QueryContext(ctx,
		`SELECT `+artifactRefColumns+` FROM artifacts
		WHERE user_id = ? AND (? = '' OR session_id = ?)
		ORDER BY last_accessed_at DESC LIMIT ?`,
		userID, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []schema.Artifact
	for rows.Next() {
		art, err := scanArtifact(rows)
		if err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, art)
	}
	return out, rows.Err()
}

// Create stores a new artifact and returns its handle.
func (a *Artifacts) Create(ctx context.Context, in schema.NewArtifact) (string, error) {
	handle := store.NewHandle()
	now := formatTime(a.d.now())
	_, err := a.d.db.ExecContext(ctx,
		`INSERT INTO artifacts (`+artifactColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		handle, in.UserID, in.SessionID, in.Name, in.ArtifactType, in.Summary, in.Content, len(in.Content), now, now)
	if err != nil {
		return "", fmt.Errorf("insert artifact: %w", err)
	}
	return handle, nil
}

// Get returns the artifact with its content and records the access.
func (a *Artifacts) Get(ctx context.Context, handle string) (schema.Artifact, error) {
	var art schema.Artifact
	err := a.d.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE artifacts SET access_count = access_count + 1, last_accessed_at = ? WHERE handle = ?`,
			formatTime(a.d.now()), handle)
		if err != nil {
			return fmt.Errorf("touch artifact: %w", err)
		}
		if err := mustAffect(res, "artifact", handle); err != nil {
			return err
		}
		art, err = scanArtifact(tx.QueryRowContext(ctx, `SELECT `+artifactColumns+` FROM artifacts WHERE handle = ?`, handle))
		if err != nil {
			return notFound(err, "artifact", handle)
		}
		return nil
	})
	return art, err
}

func scanArtifact(row rowScanner) (schema.Artifact, error) {
	var (
		art                     schema.Artifact
		createdAt, lastAccessed string
	)
	err := row.Scan(&art.Handle, &art.UserID, &art.SessionID, &art.Name, &art.ArtifactType, &art.Summary,
		&art.Content, &art.SizeBytes, &art.AccessCount, &createdAt, &lastAccessed)
	if err != nil {
		return schema.Artifact{}, err
	}
	art.CreatedAt = parseTime(createdAt)
	art.LastAccessedAt = parseTime(lastAccessed)
	return art, nil
}
