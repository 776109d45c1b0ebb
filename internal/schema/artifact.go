package schema

import "time"

// Artifact is a large object produced during a session. Only its handle and
// summary ever enter a compiled context.
type Artifact struct {
	Handle         string
	UserID         string
	SessionID      string
	Name           string
	ArtifactType   string
	Summary        string
	Content        string
	SizeBytes      int
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int
}

// Ref returns the content-free projection of a.
func (a Artifact) Ref() ArtifactHandle {
	return ArtifactHandle{
		Handle:         a.Handle,
		Name:           a.Name,
		ArtifactType:   a.ArtifactType,
		Summary:        a.Summary,
		SizeBytes:      a.SizeBytes,
		LastAccessedAt: a.LastAccessedAt,
	}
}

// ArtifactHandle is the reference to an Artifact carried in a compiled context.
type ArtifactHandle struct {
	Handle         string    `json:"handle"`
	Name           string    `json:"name"`
	ArtifactType   string    `json:"artifact_type"`
	Summary        string    `json:"summary"`
	SizeBytes      int       `json:"size_bytes"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// NewArtifact is the input to ArtifactStore.Create.
type NewArtifact struct {
	UserID       string
	SessionID    string
	ArtifactType string
	Name         string
	Content      string
	Summary      string
}
