package store

import "github.com/google/uuid"

// NewID returns a random identifier for events, sessions and memories.
func NewID() string { return uuid.NewString() }

// NewHandle returns an opaque, globally unique artifact handle.
func NewHandle() string { return "art_" + uuid.NewString() }
