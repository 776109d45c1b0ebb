package schema

import "time"

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is the per-conversation record holding the running summary.
// By convention each user has at most one active session.
type Session struct {
	ID               string
	UserID           string
	Status           SessionStatus
	Summary          SessionSummary
	CompactionCount  int
	LastCompactionAt *time.Time
	LastActivityAt   time.Time
	MessageCount     int
	CreatedAt        time.Time
}
