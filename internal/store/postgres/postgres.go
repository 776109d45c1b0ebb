// Package postgres implements the memory index on PostgreSQL with the
// pgvector extension.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store"
)

var _ schema.MemoryIndex = (*MemoryIndex)(nil)

// MemoryIndex stores memories in a pgvector column and ranks them by cosine
// similarity inside the database.
type MemoryIndex struct {
	pool *pgxpool.Pool
}

// Open creates the vector extension and the memories table when missing and
// returns a pooled index. dims fixes the embedding width; zero leaves the
// column unconstrained.
func Open(ctx context.Context, dsn string, dims int) (*MemoryIndex, error) {
	if err := migrate(ctx, dsn, dims); err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	cfg.AfterConnect = pgxvec.RegisterTypes

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	slog.Info("memory index ready", "backend", "pgvector", "dims", dims)
	return &MemoryIndex{pool: pool}, nil
}

// migrate runs on a plain connection: the pool registers the vector type on
// connect, which needs the extension to exist first.
func migrate(ctx context.Context, dsn string, dims int) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close(ctx)

	column := "vector"
	if dims > 0 {
		column = fmt.Sprintf("vector(%d)", dims)
	}
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL DEFAULT '',
			embedding ` + column + `,
			access_count INTEGER NOT NULL DEFAULT 0,
			last_accessed_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS memories_user_idx ON memories (user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init memory schema: %w", err)
		}
	}
	return nil
}

// Close releases the pool.
func (m *MemoryIndex) Close() { m.pool.Close() }

// Add stores a memory and returns its id.
func (m *MemoryIndex) Add(ctx context.Context, mem schema.Memory) (string, error) {
	if mem.ID == "" {
		mem.ID = store.NewID()
	}
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = time.Now().UTC()
	}
	var embedding any
	if len(mem.Embedding) > 0 {
		embedding = pgvector.NewVector(mem.Embedding)
	}
	_, err := m.pool.Exec(ctx,
		`INSERT INTO memories (id, user_id, content, memory_type, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		mem.ID, mem.UserID, mem.Content, mem.MemoryType, embedding, mem.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("insert memory: %w", err)
	}
	return mem.ID, nil
}

// Search returns the user's memories with cosine similarity >= threshold,
// most similar first.
func (m *MemoryIndex) Search(ctx context.Context, vec []float32, userID string, threshold float64, limit int) ([]schema.Memory, error) {
	if len(vec) == 0 {
		return nil, errors.New("search memories: empty query vector")
	}
	var lim any
	if limit > 0 {
		lim = limit
	}
	rows, err := m.pool.Query(ctx,
		`SELECT id, user_id, content, memory_type, access_count, last_accessed_at, created_at,
			1 - (embedding <=> $1) AS similarity
		FROM memories
		WHERE user_id = $2 AND embedding IS NOT NULL AND 1 - (embedding <=> $1) >= $3
		ORDER BY embedding <=> $1
		LIMIT $4`,
		pgvector.NewVector(vec), userID, threshold, lim)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var out []schema.Memory
	for rows.Next() {
		var (
			mem          schema.Memory
			lastAccessed *time.Time
		)
		if err := rows.Scan(&mem.ID, &mem.UserID, &mem.Content, &mem.MemoryType,
			&mem.AccessCount, &lastAccessed, &mem.CreatedAt, &mem.Similarity); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if lastAccessed != nil {
			mem.LastAccessedAt = *lastAccessed
		}
		out = append(out, mem)
	}
	return out, rows.Err()
}

// Touch records an access of a memory.
func (m *MemoryIndex) Touch(ctx context.Context, memoryID string) error {
	tag, err := m.pool.Exec(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_at = now() WHERE id = $1`,
		memoryID)
	if err != nil {
		return fmt.Errorf("touch memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("memory %s: %w", memoryID, schema.ErrNotFound)
	}
	return nil
}
