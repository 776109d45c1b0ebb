package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CompiledContext is the per-call projection handed to the LLM. It is owned by
// the caller of Compile and never persisted.
type CompiledContext struct {
	SystemPrompt       string           `json:"system_prompt"`
	AgentInstructions  string           `json:"agent_instructions"`
	UserProfileSummary string           `json:"user_profile_summary"`
	WorkingContext     []Event          `json:"-"`
	SessionSummary     *SessionSummary  `json:"session_summary,omitempty"`
	RetrievedMemories  []Memory         `json:"-"`
	ArtifactHandles    []ArtifactHandle `json:"artifact_handles"`
	TokenEstimate      int              `json:"token_estimate"`
	CacheKey           string           `json:"cache_key"`
	CompilationTime    time.Duration    `json:"-"`
}

// CompilationTimeMs returns the compilation time in milliseconds.
func (c *CompiledContext) CompilationTimeMs() float64 {
	return float64(c.CompilationTime.Microseconds()) / 1000
}

// Prefix returns the stable, cacheable system prefix.
func (c *CompiledContext) Prefix() string {
	parts := []string{c.SystemPrompt}
	if c.AgentInstructions != "" {
		parts = append(parts, "## Learned instructions\n"+c.AgentInstructions)
	}
	if c.UserProfileSummary != "" {
		parts = append(parts, "## User profile\n"+c.UserProfileSummary)
	}
	return strings.Join(parts, "\n\n")
}

// ToMessages assembles the chat messages: the prefix, one system message per
// non-empty tier, then the working context as conversation turns. Tool and
// system events appear as system-role annotations.
func (c *CompiledContext) ToMessages() Messages {
	msgs := NewMessages(NewSystemMessage(c.Prefix()))

	if len(c.RetrievedMemories) > 0 {
		lines := make([]string, 0, len(c.RetrievedMemories)+1)
		lines = append(lines, "## Relevant memories")
		for _, m := range c.RetrievedMemories {
			lines = append(lines, MemoryText(m))
		}
		msgs.AddSystem(strings.Join(lines, "\n"))
	}
	if c.SessionSummary != nil {
		msgs.AddSystem("## Session summary\n" + SummaryText(*c.SessionSummary))
	}
	if len(c.ArtifactHandles) > 0 {
		lines := make([]string, 0, len(c.ArtifactHandles)+1)
		lines = append(lines, "## Available artifacts (use read_artifact with the handle for full content)")
		for _, a := range c.ArtifactHandles {
			lines = append(lines, ArtifactText(a))
		}
		msgs.AddSystem(strings.Join(lines, "\n"))
	}

	for _, ev := range c.WorkingContext {
		switch ev.Type {
		case EventUserMessage:
			msgs.AddUser(ev.Content)
		case EventAssistantMessage:
			msgs.AddAssistant(ev.Content, nil)
		default:
			msgs.AddSystem(EventText(ev))
		}
	}
	return msgs
}

// EventText renders ev the way it is shown to the model. Token estimates are
// computed over this text.
func EventText(ev Event) string {
	switch ev.Type {
	case EventUserMessage, EventAssistantMessage:
		return ev.Content
	case EventToolCall:
		if p, ok := ev.Payload.(ToolCallPayload); ok {
			args, _ := json.Marshal(p.Parameters)
			return fmt.Sprintf("[tool_call] %s %s", p.ToolName, args)
		}
		return "[tool_call] " + ev.Content
	case EventToolResult:
		if p, ok := ev.Payload.(ToolResultPayload); ok {
			status := "ok"
			if !p.Success {
				status = "failed"
			}
			result := p.Result
			if result == "" {
				result = ev.Content
			}
			return fmt.Sprintf("[tool_result] %s (%s): %s", p.ToolName, status, result)
		}
		return "[tool_result] " + ev.Content
	case EventCompactionMarker:
		if p, ok := ev.Payload.(CompactionPayload); ok {
			return fmt.Sprintf("[compaction] %d earlier events were folded into the session summary", p.EventsCompacted)
		}
		return "[compaction] " + ev.Content
	}
	return "[system] " + ev.Content
}

// MemoryText renders one memory line.
func MemoryText(m Memory) string {
	if m.MemoryType != "" {
		return fmt.Sprintf("- (%s) %s", m.MemoryType, m.Content)
	}
	return "- " + m.Content
}

// ArtifactText renders one artifact handle line. Content is never included.
func ArtifactText(a ArtifactHandle) string {
	return fmt.Sprintf("- %s: %s [%s, %d bytes] %s", a.Handle, a.Name, a.ArtifactType, a.SizeBytes, a.Summary)
}

// SummaryText renders the summary as compact JSON.
func SummaryText(s SessionSummary) string {
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}
