package schema

import (
	"context"
	"time"
)

// Order selects the sequence ordering of ListUncompacted.
type Order int

const (
	OrderAsc Order = iota
	OrderDesc
)

// EventStore is the append-only per-session event log.
type EventStore interface {
	// Append validates and stores ev, returning its sequence number.
	Append(ctx context.Context, ev NewEvent) (int64, error)
	// ListUncompacted returns uncompacted events in the given order. A limit
	// of zero or less returns all of them.
	ListUncompacted(ctx context.Context, sessionID string, limit int, order Order) ([]Event, error)
	// CountUncompacted counts uncompacted events, excluding compaction markers.
	CountUncompacted(ctx context.Context, sessionID string) (int, error)
	MarkCompacted(ctx context.Context, sessionID string, eventIDs []string) error
}

// SessionStore holds session records and their summaries.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (Session, error)
	UpdateSummary(ctx context.Context, sessionID string, summary SessionSummary, compactionCount int, at time.Time) error
	GetOrCreateActive(ctx context.Context, userID string) (string, error)
	Complete(ctx context.Context, sessionID string) error
	// ListIdle returns active sessions whose last activity is before the cutoff.
	ListIdle(ctx context.Context, before time.Time, limit int) ([]Session, error)
	StoreSummaryEmbedding(ctx context.Context, sessionID string, vec []float32) error
}

// CompactionCommitter is implemented by session stores able to write a
// summary and mark events compacted in one transaction.
type CompactionCommitter interface {
	CommitCompaction(ctx context.Context, sessionID string, summary SessionSummary, compactionCount int, at time.Time, eventIDs []string) error
}

// MemoryIndex searches durable memories by vector similarity.
type MemoryIndex interface {
	// Search returns memories of userID with similarity >= threshold, best first.
	Search(ctx context.Context, vec []float32, userID string, threshold float64, limit int) ([]Memory, error)
	// Touch increments the access count of a memory.
	Touch(ctx context.Context, memoryID string) error
	Add(ctx context.Context, m Memory) (string, error)
}

// ArtifactStore keeps large objects addressed by opaque handles.
type ArtifactStore interface {
	// ListRecent returns artifacts by last access, newest first, with Content
	// left empty. An empty sessionID lists across all of the user's sessions.
	ListRecent(ctx context.Context, userID, sessionID string, limit int) ([]Artifact, error)
	Create(ctx context.Context, a NewArtifact) (string, error)
	// Get returns the artifact and records the access.
	Get(ctx context.Context, handle string) (Artifact, error)
}

// ProfileLookup renders a one-line profile summary for a user, or "".
type ProfileLookup interface {
	GetSummary(ctx context.Context, userID string) (string, error)
}

// InstructionStore returns learned instructions for an agent/user pair.
type InstructionStore interface {
	GetInstructions(ctx context.Context, agentID, userID string) (string, error)
}

// Locker provides advisory locks keyed by string.
type Locker interface {
	// Acquire takes key for at most ttl. It returns ErrLockHeld when the key
	// is owned by someone else.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}
