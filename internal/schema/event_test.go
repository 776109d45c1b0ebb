package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateEvent(t *testing.T) {
	tests := []struct {
		name    string
		ev      NewEvent
		wantErr bool
	}{
		{"user message", NewEvent{SessionID: "s", Type: EventUserMessage, Content: "hi"}, false},
		{"assistant with message payload", NewEvent{SessionID: "s", Type: EventAssistantMessage, Payload: MessagePayload{Model: "gpt-4o"}}, false},
		{"missing session", NewEvent{Type: EventUserMessage}, true},
		{"unknown type", NewEvent{SessionID: "s", Type: "note"}, true},
		{"tool call without payload", NewEvent{SessionID: "s", Type: EventToolCall}, true},
		{"tool call", NewEvent{SessionID: "s", Type: EventToolCall, Payload: ToolCallPayload{ToolName: "web_fetch"}}, false},
		{"mismatched payload", NewEvent{SessionID: "s", Type: EventToolResult, Payload: ToolCallPayload{ToolName: "web_fetch"}}, true},
		{"marker", NewEvent{SessionID: "s", Type: EventCompactionMarker, Payload: CompactionPayload{EventsCompacted: 3}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEvent(tt.ev)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidEvent))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	raw, err := EncodePayload(ToolResultPayload{ToolName: "web_fetch", Result: "ok", Success: true})
	require.NoError(t, err)

	p, err := DecodePayload(EventToolResult, raw)
	require.NoError(t, err)
	assert.Equal(t, ToolResultPayload{ToolName: "web_fetch", Result: "ok", Success: true}, p)
}

func TestEventMetadata(t *testing.T) {
	ev := Event{Type: EventCompactionMarker, Payload: CompactionPayload{EventsCompacted: 20, CompactionCount: 1}}
	md := ev.Metadata()
	assert.Equal(t, float64(20), md["events_compacted"])

	assert.Empty(t, Event{Type: EventUserMessage}.Metadata())
}
