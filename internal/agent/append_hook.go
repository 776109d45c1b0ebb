package agent

import (
	"context"

	"github.com/roadmate/roadmate/internal/schema"
)

// compactingEvents schedules a threshold check of the session after every
// successful Append.
type compactingEvents struct {
	schema.EventStore
	compactor *SessionCompactor
}

// ScheduleOnAppend wraps events so that each successful Append schedules a
// compaction check of its session on c. A nil c returns events unchanged.
// The compactor itself must keep the unwrapped store for its markers.
func ScheduleOnAppend(events schema.EventStore, c *SessionCompactor) schema.EventStore {
	if c == nil || events == nil {
		return events
	}
	if ce, ok := events.(*compactingEvents); ok && ce.compactor == c {
		return events
	}
	return &compactingEvents{EventStore: events, compactor: c}
}

func (e *compactingEvents) Append(ctx context.Context, ev schema.NewEvent) (int64, error) {
	seq, err := e.EventStore.Append(ctx, ev)
	if err != nil {
		return seq, err
	}
	e.compactor.Schedule(ev.SessionID)
	return seq, nil
}
