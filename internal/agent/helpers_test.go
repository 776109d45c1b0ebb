package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store/memstore"
)

var errBoom = errors.New("boom")

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

type fakeCompleter struct {
	mu       sync.Mutex
	response string
	err      error
	prompts  []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string, _ int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeCompleter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

// chatCall is one recorded LLMProvider.Chat invocation.
type chatCall struct {
	messages schema.Messages
	tools    []schema.ToolDefinition
	opts     schema.ChatOptions
}

// funcProvider answers Chat with a test-supplied function and records calls.
type funcProvider struct {
	mu    sync.Mutex
	fn    func(call chatCall) (schema.LLMResponse, error)
	calls []chatCall
}

func (p *funcProvider) Chat(_ context.Context, msgs schema.Messages, tools []schema.ToolDefinition, opts schema.ChatOptions) (schema.LLMResponse, error) {
	call := chatCall{messages: msgs.Clone(), tools: tools, opts: opts}
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
	return p.fn(call)
}

func (p *funcProvider) DefaultModel() string { return "test-model" }

func (p *funcProvider) recorded() []chatCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chatCall(nil), p.calls...)
}

// lastUser returns the content of the last user message of a call.
func (c chatCall) lastUser() string {
	for i := len(c.messages.Messages) - 1; i >= 0; i-- {
		if c.messages.Messages[i].Role == schema.RoleUser {
			return c.messages.Messages[i].Content
		}
	}
	return ""
}

// hasSystem reports whether any system message contains substr.
func (c chatCall) hasSystem(substr string) bool {
	for _, m := range c.messages.Messages {
		if m.Role == schema.RoleSystem && strings.Contains(m.Content, substr) {
			return true
		}
	}
	return false
}

// hasToolResult reports whether the conversation already carries a tool result.
func (c chatCall) hasToolResult() bool {
	for _, m := range c.messages.Messages {
		if m.Role == schema.RoleTool {
			return true
		}
	}
	return false
}

func newSession(t *testing.T, s *memstore.Store, userID string) string {
	t.Helper()
	id, err := s.GetOrCreateActive(context.Background(), userID)
	require.NoError(t, err)
	return id
}

func appendEvent(t *testing.T, s *memstore.Store, sid string, typ schema.EventType, content string) {
	t.Helper()
	ev := schema.NewEvent{SessionID: sid, UserID: "u1", Type: typ, Content: content}
	switch typ {
	case schema.EventToolCall:
		ev.Payload = schema.ToolCallPayload{ToolName: "web_fetch", Parameters: map[string]any{"url": "https://example.com"}}
	case schema.EventToolResult:
		ev.Payload = schema.ToolResultPayload{ToolName: "web_fetch", Result: content, Success: true}
	case schema.EventSystem:
		ev.Payload = schema.SystemPayload{Kind: "note"}
	}
	_, err := s.Append(context.Background(), ev)
	require.NoError(t, err)
}

func compilerFor(s *memstore.Store, embedder schema.EmbeddingProvider) *ContextCompiler {
	deps := CompilerDeps{
		Events:       s,
		Sessions:     s,
		Memories:     s,
		Artifacts:    s.Artifacts(),
		Profiles:     s,
		Instructions: s,
	}
	if embedder != nil {
		deps.Embedder = embedder
	}
	return NewContextCompiler("", deps)
}
