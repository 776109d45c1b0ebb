package schema

import "time"

// Memory is a durable fact about a user, retrieved by semantic similarity.
type Memory struct {
	ID             string
	UserID         string
	Content        string
	MemoryType     string
	Embedding      []float32
	AccessCount    int
	LastAccessedAt time.Time
	CreatedAt      time.Time

	// Similarity is set by MemoryIndex.Search; it is not persisted.
	Similarity float64
}
