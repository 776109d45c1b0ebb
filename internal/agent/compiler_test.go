package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store/memstore"
)

func TestCompileReturnsAllEventsBelowLimit(t *testing.T) {
	s := memstore.New()
	sid := newSession(t, s, "u1")
	for _, c := range []string{"one", "two", "three", "four"} {
		appendEvent(t, s, sid, schema.EventUserMessage, c)
	}

	cfg := DefaultCompileConfig()
	cfg.MaxRecentEvents = 10
	out, err := compilerFor(s, nil).Compile(context.Background(), CompileRequest{
		AgentID: "assistant", UserID: "u1", SessionID: sid, CurrentTask: "four",
	}, cfg)
	require.NoError(t, err)

	require.Len(t, out.WorkingContext, 4)
	for i, want := range []string{"one", "two", "three", "four"} {
		assert.Equal(t, want, out.WorkingContext[i].Content)
		assert.Equal(t, int64(i+1), out.WorkingContext[i].Sequence)
	}
}

func TestCompileKeepsNewestEvents(t *testing.T) {
	s := memstore.New()
	sid := newSession(t, s, "u1")
	for i := 0; i < 8; i++ {
		appendEvent(t, s, sid, schema.EventUserMessage, string(rune('a'+i)))
	}

	cfg := DefaultCompileConfig()
	cfg.MaxRecentEvents = 3
	out, err := compilerFor(s, nil).Compile(context.Background(), CompileRequest{AgentID: "assistant", UserID: "u1", SessionID: sid}, cfg)
	require.NoError(t, err)

	require.Len(t, out.WorkingContext, 3)
	assert.Equal(t, "f", out.WorkingContext[0].Content)
	assert.Equal(t, "h", out.WorkingContext[2].Content)
}

func TestCompileScopeFilter(t *testing.T) {
	s := memstore.New()
	sid := newSession(t, s, "u1")
	appendEvent(t, s, sid, schema.EventUserMessage, "find fuel prices")
	appendEvent(t, s, sid, schema.EventToolCall, "{}")
	appendEvent(t, s, sid, schema.EventToolResult, "diesel 1.80")
	appendEvent(t, s, sid, schema.EventSystem, "plan created")
	appendEvent(t, s, sid, schema.EventAssistantMessage, "diesel is 1.80")

	c := compilerFor(s, nil)
	req := CompileRequest{AgentID: "planner", UserID: "u1", SessionID: sid}

	planner, err := c.Compile(context.Background(), req, DefaultCompileConfig().WithScope(ScopePlanner))
	require.NoError(t, err)
	require.Len(t, planner.WorkingContext, 3)
	for _, ev := range planner.WorkingContext {
		assert.NotContains(t, []schema.EventType{schema.EventToolCall, schema.EventToolResult}, ev.Type)
	}

	executor, err := c.Compile(context.Background(), req, DefaultCompileConfig().WithScope(ScopeExecutor))
	require.NoError(t, err)
	require.Len(t, executor.WorkingContext, 4)
	for _, ev := range executor.WorkingContext {
		assert.NotEqual(t, schema.EventSystem, ev.Type)
	}

	all, err := c.Compile(context.Background(), req, DefaultCompileConfig())
	require.NoError(t, err)
	assert.Len(t, all.WorkingContext, 5)
}

func TestCacheKeyIgnoresTaskAndSession(t *testing.T) {
	s := memstore.New()
	s.SetInstructions("assistant", "u1", "Prefer scenic routes.")
	sid := newSession(t, s, "u1")
	appendEvent(t, s, sid, schema.EventUserMessage, "hello")
	c := compilerFor(s, nil)

	a, err := c.Compile(context.Background(), CompileRequest{AgentID: "assistant", UserID: "u1", SessionID: sid, CurrentTask: "route to Lyon"}, DefaultCompileConfig())
	require.NoError(t, err)
	b, err := c.Compile(context.Background(), CompileRequest{AgentID: "assistant", UserID: "u1", CurrentTask: "weather in Oslo"}, DefaultCompileConfig())
	require.NoError(t, err)

	assert.Equal(t, a.CacheKey, b.CacheKey)
	assert.Equal(t, CacheKey("assistant", "u1", "Prefer scenic routes."), a.CacheKey)
	assert.NotEqual(t, a.CacheKey, CacheKey("planner", "u1", "Prefer scenic routes."))
}

func TestCacheKeyUsesInstructionPrefix(t *testing.T) {
	base := strings.Repeat("x", 100)
	assert.Equal(t, CacheKey("a", "u", base+"tail one"), CacheKey("a", "u", base+"tail two"))
	assert.NotEqual(t, CacheKey("a", "u", "y"+base), CacheKey("a", "u", "z"+base))
	assert.NotEqual(t, CacheKey("ab", "c", ""), CacheKey("a", "bc", ""))
}

func TestCompileMemorySearchFailureDegrades(t *testing.T) {
	s := memstore.New()
	sid := newSession(t, s, "u1")
	appendEvent(t, s, sid, schema.EventUserMessage, "what tires do I have")
	_, err := s.Add(context.Background(), schema.Memory{UserID: "u1", Content: "winter tires", Embedding: []float32{1, 0}})
	require.NoError(t, err)
	s.Fail(memstore.OpMemorySearch, errBoom)

	out, err := compilerFor(s, fakeEmbedder{vec: []float32{1, 0}}).Compile(context.Background(),
		CompileRequest{AgentID: "assistant", UserID: "u1", SessionID: sid, CurrentTask: "tires"}, DefaultCompileConfig())
	require.NoError(t, err)

	assert.Empty(t, out.RetrievedMemories)
	want := EstimateTokens(out.Prefix()) + EstimateTokens("what tires do I have")
	assert.Equal(t, want, out.TokenEstimate)
}

func TestCompileEmbedderFailureDegrades(t *testing.T) {
	s := memstore.New()
	sid := newSession(t, s, "u1")
	appendEvent(t, s, sid, schema.EventUserMessage, "hi")

	out, err := compilerFor(s, fakeEmbedder{err: errBoom}).Compile(context.Background(),
		CompileRequest{AgentID: "assistant", UserID: "u1", SessionID: sid, CurrentTask: "hi"}, DefaultCompileConfig())
	require.NoError(t, err)
	assert.Empty(t, out.RetrievedMemories)
	assert.Len(t, out.WorkingContext, 1)
}

func TestCompileDegradesOptionalTiers(t *testing.T) {
	s := memstore.New()
	sid := newSession(t, s, "u1")
	appendEvent(t, s, sid, schema.EventUserMessage, "hi")
	s.SetProfile("u1", "Drives an EV")
	s.Fail(memstore.OpProfile, errBoom)
	s.Fail(memstore.OpInstructions, errBoom)
	s.Fail(memstore.OpArtifactList, errBoom)
	s.Fail(memstore.OpGetSession, errBoom)

	out, err := compilerFor(s, nil).Compile(context.Background(),
		CompileRequest{AgentID: "assistant", UserID: "u1", SessionID: sid}, DefaultCompileConfig())
	require.NoError(t, err)
	assert.Empty(t, out.UserProfileSummary)
	assert.Empty(t, out.AgentInstructions)
	assert.Empty(t, out.ArtifactHandles)
	assert.Nil(t, out.SessionSummary)
	assert.Len(t, out.WorkingContext, 1)
}

func TestCompileWorkingContextFailurePropagates(t *testing.T) {
	s := memstore.New()
	sid := newSession(t, s, "u1")
	s.Fail(memstore.OpListUncompacted, errBoom)

	out, err := compilerFor(s, nil).Compile(context.Background(),
		CompileRequest{AgentID: "assistant", UserID: "u1", SessionID: sid}, DefaultCompileConfig())
	require.ErrorIs(t, err, errBoom)
	assert.Nil(t, out)
}

func TestCompileCancelledReturnsNothing(t *testing.T) {
	s := memstore.New()
	sid := newSession(t, s, "u1")
	appendEvent(t, s, sid, schema.EventUserMessage, "hi")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, err := compilerFor(s, nil).Compile(ctx, CompileRequest{AgentID: "assistant", UserID: "u1", SessionID: sid}, DefaultCompileConfig())
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
}

func TestCompileBudgetInvariant(t *testing.T) {
	s := memstore.New()
	sid := newSession(t, s, "u1")
	for i := 0; i < 12; i++ {
		appendEvent(t, s, sid, schema.EventUserMessage, strings.Repeat("w", 400))
	}
	for i := 0; i < 4; i++ {
		_, err := s.Add(context.Background(), schema.Memory{
			UserID: "u1", Content: strings.Repeat("m", 200), Embedding: []float32{1, float32(i) * 0.1},
		})
		require.NoError(t, err)
	}
	for i := 0; i < 4; i++ {
		_, err := s.Artifacts().Create(context.Background(), schema.NewArtifact{
			UserID: "u1", SessionID: sid, ArtifactType: "route", Name: "route", Content: "x", Summary: strings.Repeat("s", 200),
		})
		require.NoError(t, err)
	}

	budgets := []struct {
		name                      string
		working, memory, artifact int
	}{
		{"generous", 4000, 1500, 500},
		{"tight", 250, 60, 60},
		{"below floor", 10, 1, 1},
	}
	for _, b := range budgets {
		t.Run(b.name, func(t *testing.T) {
			cfg := DefaultCompileConfig()
			cfg.WorkingContextBudget = b.working
			cfg.MemoryBudget = b.memory
			cfg.ArtifactBudget = b.artifact
			cfg.MemoryThreshold = 0.5
			cfg.MaxTotalTokens = 0

			out, err := compilerFor(s, fakeEmbedder{vec: []float32{1, 0}}).Compile(context.Background(),
				CompileRequest{AgentID: "assistant", UserID: "u1", SessionID: sid, CurrentTask: "trip"}, cfg)
			require.NoError(t, err)

			working := tierCost(out.WorkingContext, schema.EventText)
			assert.True(t, working <= b.working || len(out.WorkingContext) == minWorkingEvents,
				"working tier %d tokens with %d events", working, len(out.WorkingContext))
			memory := tierCost(out.RetrievedMemories, schema.MemoryText)
			assert.True(t, memory <= b.memory || len(out.RetrievedMemories) == minMemories,
				"memory tier %d tokens with %d memories", memory, len(out.RetrievedMemories))
			artifacts := tierCost(out.ArtifactHandles, schema.ArtifactText)
			assert.True(t, artifacts <= b.artifact || len(out.ArtifactHandles) == minArtifacts,
				"artifact tier %d tokens with %d handles", artifacts, len(out.ArtifactHandles))
		})
	}
}

func TestCompilePrunesLeastSimilarMemoriesFirst(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	weak, err := s.Add(ctx, schema.Memory{UserID: "u1", Content: strings.Repeat("a", 80), Embedding: []float32{1, 0.9}})
	require.NoError(t, err)
	strong, err := s.Add(ctx, schema.Memory{UserID: "u1", Content: strings.Repeat("b", 80), Embedding: []float32{1, 0}})
	require.NoError(t, err)

	cfg := DefaultCompileConfig()
	cfg.MemoryBudget = 25
	cfg.MemoryThreshold = 0.5
	cfg.MaxTotalTokens = 0
	out, err := compilerFor(s, fakeEmbedder{vec: []float32{1, 0}}).Compile(ctx,
		CompileRequest{AgentID: "assistant", UserID: "u1", CurrentTask: "anything"}, cfg)
	require.NoError(t, err)

	require.Len(t, out.RetrievedMemories, 1)
	assert.Equal(t, strong, out.RetrievedMemories[0].ID)

	m, ok := s.Memory(weak)
	require.True(t, ok)
	assert.Equal(t, 1, m.AccessCount, "every search hit is touched")
}

func TestCompileOrdersArtifactsByRecency(t *testing.T) {
	s := memstore.New()
	now := time.Now().UTC()
	s.Artifacts().Put(schema.Artifact{Handle: "art_old", UserID: "u1", Name: "old", LastAccessedAt: now.Add(-time.Hour)})
	s.Artifacts().Put(schema.Artifact{Handle: "art_new", UserID: "u1", Name: "new", LastAccessedAt: now})
	s.Artifacts().Put(schema.Artifact{Handle: "art_other", UserID: "u2", Name: "other", LastAccessedAt: now})

	out, err := compilerFor(s, nil).Compile(context.Background(), CompileRequest{AgentID: "assistant", UserID: "u1"}, DefaultCompileConfig())
	require.NoError(t, err)
	require.Len(t, out.ArtifactHandles, 2)
	assert.Equal(t, "art_new", out.ArtifactHandles[0].Handle)
	assert.Equal(t, "art_old", out.ArtifactHandles[1].Handle)
}

func TestCompileArtifactsSessionOnly(t *testing.T) {
	s := memstore.New()
	now := time.Now().UTC()
	s.Artifacts().Put(schema.Artifact{Handle: "art_here", UserID: "u1", SessionID: "s1", Name: "here", LastAccessedAt: now.Add(-time.Hour)})
	s.Artifacts().Put(schema.Artifact{Handle: "art_there", UserID: "u1", SessionID: "s2", Name: "there", LastAccessedAt: now})
	req := CompileRequest{AgentID: "assistant", UserID: "u1", SessionID: "s1"}

	out, err := compilerFor(s, nil).Compile(context.Background(), req, DefaultCompileConfig())
	require.NoError(t, err)
	require.Len(t, out.ArtifactHandles, 2, "every session by default")
	assert.Equal(t, "art_there", out.ArtifactHandles[0].Handle)

	cfg := DefaultCompileConfig()
	cfg.ArtifactsSessionOnly = true
	out, err = compilerFor(s, nil).Compile(context.Background(), req, cfg)
	require.NoError(t, err)
	require.Len(t, out.ArtifactHandles, 1)
	assert.Equal(t, "art_here", out.ArtifactHandles[0].Handle)
}

func TestCompileRejectsInvalidConfig(t *testing.T) {
	s := memstore.New()
	cfg := DefaultCompileConfig()
	cfg.AgentScope = "critic"
	_, err := compilerFor(s, nil).Compile(context.Background(), CompileRequest{AgentID: "a", UserID: "u1"}, cfg)
	require.Error(t, err)

	cfg = DefaultCompileConfig()
	cfg.MaxTotalTokens = 100
	assert.Error(t, cfg.Validate())
}

func TestToMessagesProjection(t *testing.T) {
	s := memstore.New()
	s.SetProfile("u1", "Drives a 2019 camper van")
	sid := newSession(t, s, "u1")
	appendEvent(t, s, sid, schema.EventUserMessage, "route to Bergen?")
	appendEvent(t, s, sid, schema.EventToolCall, "{}")
	appendEvent(t, s, sid, schema.EventAssistantMessage, "Take the E16.")
	require.NoError(t, s.UpdateSummary(context.Background(), sid, schema.SessionSummary{
		TopicsDiscussed: []string{"Bergen"}, UserSentiment: schema.SentimentPositive,
	}, 1, time.Now()))

	out, err := compilerFor(s, nil).Compile(context.Background(), CompileRequest{AgentID: "assistant", UserID: "u1", SessionID: sid}, DefaultCompileConfig())
	require.NoError(t, err)

	msgs := out.ToMessages().Messages
	require.Len(t, msgs, 5)
	assert.Equal(t, schema.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Drives a 2019 camper van")
	assert.Contains(t, msgs[1].Content, "## Session summary")
	assert.Equal(t, schema.RoleUser, msgs[2].Role)
	assert.Equal(t, schema.RoleSystem, msgs[3].Role)
	assert.Contains(t, msgs[3].Content, "[tool_call] web_fetch")
	assert.Equal(t, schema.RoleAssistant, msgs[4].Role)
}
