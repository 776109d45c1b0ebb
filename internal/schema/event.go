package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags an Event and selects the shape of its Payload.
type EventType string

const (
	EventUserMessage      EventType = "user_message"
	EventAssistantMessage EventType = "assistant_message"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventSystem           EventType = "system_event"
	EventCompactionMarker EventType = "compaction_marker"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventUserMessage, EventAssistantMessage, EventToolCall,
		EventToolResult, EventSystem, EventCompactionMarker:
		return true
	}
	return false
}

// Payload is the per-type structured data attached to an event.
type Payload interface {
	EventType() EventType
}

// MessagePayload is carried by user and assistant messages. Model is set on
// assistant turns when known.
type MessagePayload struct {
	Role  EventType `json:"-"`
	Model string    `json:"model,omitempty"`
}

func (p MessagePayload) EventType() EventType {
	if p.Role == "" {
		return EventUserMessage
	}
	return p.Role
}

// ToolCallPayload records a tool invocation requested by the model.
type ToolCallPayload struct {
	ToolName   string         `json:"tool_name"`
	CallID     string         `json:"call_id,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

func (ToolCallPayload) EventType() EventType { return EventToolCall }

// ToolResultPayload records the outcome of a tool invocation.
type ToolResultPayload struct {
	ToolName string `json:"tool_name"`
	CallID   string `json:"call_id,omitempty"`
	Result   string `json:"result,omitempty"`
	Success  bool   `json:"success"`
}

func (ToolResultPayload) EventType() EventType { return EventToolResult }

// SystemPayload annotates system events (session start, plan created, ...).
type SystemPayload struct {
	Kind string `json:"kind"`
}

func (SystemPayload) EventType() EventType { return EventSystem }

// CompactionPayload is written on compaction_marker events.
type CompactionPayload struct {
	EventsCompacted int `json:"events_compacted"`
	CompactionCount int `json:"compaction_count"`
}

func (CompactionPayload) EventType() EventType { return EventCompactionMarker }

// Event is one immutable entry in a session's log. Only IsCompacted may
// change after the store has accepted it.
type Event struct {
	ID          string
	SessionID   string
	UserID      string
	Type        EventType
	Content     string
	Payload     Payload
	Sequence    int64
	CreatedAt   time.Time
	IsCompacted bool
}

// Metadata renders the payload as a generic map, e.g. metadata["events_compacted"].
func (e Event) Metadata() map[string]any {
	out := map[string]any{}
	if e.Payload == nil {
		return out
	}
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

// NewEvent is the input to EventStore.Append. ID, Sequence and CreatedAt are
// assigned by the store.
type NewEvent struct {
	SessionID string
	UserID    string
	Type      EventType
	Content   string
	Payload   Payload
}

// ValidateEvent checks the type/payload pairing of ev. Stores call it before
// accepting an append.
func ValidateEvent(ev NewEvent) error {
	if ev.SessionID == "" {
		return fmt.Errorf("%w: session id is required", ErrInvalidEvent)
	}
	if !ev.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, ev.Type)
	}
	if ev.Payload != nil && !payloadMatches(ev.Type, ev.Payload) {
		return fmt.Errorf("%w: %s payload on %s event", ErrInvalidEvent, ev.Payload.EventType(), ev.Type)
	}

	switch ev.Type {
	case EventToolCall:
		p, ok := ev.Payload.(ToolCallPayload)
		if !ok || p.ToolName == "" {
			return fmt.Errorf("%w: tool_call requires a tool name", ErrInvalidEvent)
		}
	case EventToolResult:
		p, ok := ev.Payload.(ToolResultPayload)
		if !ok || p.ToolName == "" {
			return fmt.Errorf("%w: tool_result requires a tool name", ErrInvalidEvent)
		}
	case EventCompactionMarker:
		if _, ok := ev.Payload.(CompactionPayload); !ok {
			return fmt.Errorf("%w: compaction_marker requires a compaction payload", ErrInvalidEvent)
		}
	}
	return nil
}

func payloadMatches(t EventType, p Payload) bool {
	if _, ok := p.(MessagePayload); ok {
		return t == EventUserMessage || t == EventAssistantMessage
	}
	return p.EventType() == t
}

// EncodePayload serialises p for storage. A nil payload encodes as "{}".
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// DecodePayload restores the typed payload for an event of type t.
func DecodePayload(t EventType, raw []byte) (Payload, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	switch t {
	case EventUserMessage, EventAssistantMessage:
		var p MessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		p.Role = t
		return p, nil
	case EventToolCall:
		var p ToolCallPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	case EventToolResult:
		var p ToolResultPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	case EventSystem:
		var p SystemPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	case EventCompactionMarker:
		var p CompactionPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, t)
}
