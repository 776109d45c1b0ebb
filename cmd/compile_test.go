package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmate/roadmate/internal/schema"
)

func TestCompileOutputIncludesHiddenTiers(t *testing.T) {
	compiled := &schema.CompiledContext{
		SystemPrompt: "You are roadmate.",
		WorkingContext: []schema.Event{
			{Sequence: 3, Type: schema.EventUserMessage, Content: "Is the E16 open?"},
			{Sequence: 4, Type: schema.EventToolResult, Content: "open",
				Payload: schema.ToolResultPayload{ToolName: "web_fetch", Result: "open", Success: true}},
		},
		RetrievedMemories: []schema.Memory{{Content: "Prefers fast chargers", MemoryType: "preference"}},
	}

	raw, err := json.Marshal(newCompileOutput(compiled))
	require.NoError(t, err)

	var got struct {
		Context struct {
			SystemPrompt string `json:"system_prompt"`
		} `json:"context"`
		WorkingContext []struct {
			Sequence int64  `json:"sequence"`
			Type     string `json:"type"`
			Text     string `json:"text"`
		} `json:"working_context"`
		Memories []string `json:"retrieved_memories"`
	}
	require.NoError(t, json.Unmarshal(raw, &got))

	assert.Equal(t, "You are roadmate.", got.Context.SystemPrompt)
	require.Len(t, got.WorkingContext, 2)
	assert.Equal(t, int64(3), got.WorkingContext[0].Sequence)
	assert.Equal(t, "Is the E16 open?", got.WorkingContext[0].Text)
	assert.Equal(t, string(schema.EventToolResult), got.WorkingContext[1].Type)
	assert.Equal(t, schema.EventText(compiled.WorkingContext[1]), got.WorkingContext[1].Text)
	assert.Equal(t, []string{"- (preference) Prefers fast chargers"}, got.Memories)
}

func TestCompileOutputEmptyTiersAreArrays(t *testing.T) {
	raw, err := json.Marshal(newCompileOutput(&schema.CompiledContext{}))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"working_context":[]`)
	assert.Contains(t, string(raw), `"retrieved_memories":[]`)
}
