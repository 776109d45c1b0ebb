package agent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roadmate/roadmate/internal/schema"
)

const tracerName = "github.com/roadmate/roadmate/internal/agent"

// DefaultSystemPrompt is the static base of every stable prefix.
const DefaultSystemPrompt = `You are Roadmate, a travel and driving assistant.
Answer from the conversation, the session summary and the user's memories.
Refer to large results by their artifact handle instead of repeating them.`

// CompileRequest identifies what a compilation is for.
type CompileRequest struct {
	AgentID     string
	UserID      string
	CurrentTask string
	SessionID   string // optional
}

// CompilerDeps are the collaborators of a ContextCompiler. Events and
// Sessions are required; any other field may be nil, which leaves its tier
// empty.
type CompilerDeps struct {
	Events       schema.EventStore
	Sessions     schema.SessionStore
	Memories     schema.MemoryIndex
	Artifacts    schema.ArtifactStore
	Embedder     schema.EmbeddingProvider
	Profiles     schema.ProfileLookup
	Instructions schema.InstructionStore
}

// ContextCompiler projects a fresh, token-budgeted CompiledContext for every
// LLM call.
type ContextCompiler struct {
	systemPrompt string
	deps         CompilerDeps
	tracer       trace.Tracer
}

// NewContextCompiler returns a compiler using systemPrompt as the static base
// prompt. An empty systemPrompt selects DefaultSystemPrompt.
func NewContextCompiler(systemPrompt string, deps CompilerDeps) *ContextCompiler {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &ContextCompiler{
		systemPrompt: systemPrompt,
		deps:         deps,
		tracer:       otel.Tracer(tracerName),
	}
}

// tierResult is the explicit outcome of one tier fetch.
type tierResult[T any] struct {
	Value T
	Err   error
}

func tierOK[T any](v T) tierResult[T] { return tierResult[T]{Value: v} }
func tierErr[T any](err error) tierResult[T] { return tierResult[T]{Err: err} }

// orEmpty returns the tier value, or the zero value after logging a warning
// when the fetch failed.
func orEmpty[T any](r tierResult[T], tier string, req CompileRequest) T {
	if r.Err != nil {
		slog.Warn("context tier unavailable",
			"tier", tier, "agent", req.AgentID, "user", req.UserID, "err", r.Err)
		var zero T
		return zero
	}
	return r.Value
}

// Compile builds the compiled context for req. Only a failure to fetch the
// working context, or cancellation of ctx, is returned as an error; every
// other tier degrades to empty.
func (c *ContextCompiler) Compile(ctx context.Context, req CompileRequest, cfg CompileConfig) (*schema.CompiledContext, error) {
	start := time.Now()

	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "context.compile", trace.WithAttributes(
		attribute.String("agent.id", req.AgentID),
		attribute.String("agent.scope", string(cfg.AgentScope)),
		attribute.String("session.id", req.SessionID),
	))
	defer span.End()

	var (
		instructions tierResult[string]
		profile      tierResult[string]
		working      tierResult[[]schema.Event]
		summary      tierResult[*schema.SessionSummary]
		memories     tierResult[[]schema.Memory]
		artifacts    tierResult[[]schema.ArtifactHandle]
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		working = c.fetchWorkingContext(gctx, req, cfg)
		return working.Err
	})
	g.Go(func() error { instructions = c.fetchInstructions(gctx, req); return nil })
	g.Go(func() error { profile = c.fetchProfile(gctx, req); return nil })
	g.Go(func() error { summary = c.fetchSummary(gctx, req); return nil })
	g.Go(func() error { memories = c.fetchMemories(gctx, req, cfg); return nil })
	g.Go(func() error { artifacts = c.fetchArtifacts(gctx, req, cfg); return nil })

	if err := g.Wait(); err != nil {
		slog.Error("working context fetch failed",
			"agent", req.AgentID, "session", req.SessionID, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("compile context: working context: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &schema.CompiledContext{
		SystemPrompt:       c.systemPrompt,
		AgentInstructions:  orEmpty(instructions, "instructions", req),
		UserProfileSummary: orEmpty(profile, "profile", req),
		SessionSummary:     orEmpty(summary, "session_summary", req),
	}
	out.CacheKey = CacheKey(req.AgentID, req.UserID, out.AgentInstructions)

	prefixTokens := EstimateTokens(out.Prefix())
	if prefixTokens > cfg.SystemPromptBudget {
		slog.Debug("stable prefix over budget",
			"agent", req.AgentID, "tokens", prefixTokens, "budget", cfg.SystemPromptBudget)
	}

	events := filterScope(working.Value, cfg.AgentScope)
	events, workingTokens := pruneOldest(events, schema.EventText, cfg.WorkingContextBudget, minWorkingEvents)
	out.WorkingContext = events

	mems := orEmpty(memories, "memory", req)
	slices.SortStableFunc(mems, func(a, b schema.Memory) int {
		switch {
		case a.Similarity > b.Similarity:
			return -1
		case a.Similarity < b.Similarity:
			return 1
		}
		return 0
	})
	mems, memoryTokens := pruneTail(mems, schema.MemoryText, cfg.MemoryBudget, minMemories)
	out.RetrievedMemories = mems

	arts := orEmpty(artifacts, "artifacts", req)
	slices.SortStableFunc(arts, func(a, b schema.ArtifactHandle) int {
		return b.LastAccessedAt.Compare(a.LastAccessedAt)
	})
	arts, artifactTokens := pruneTail(arts, schema.ArtifactText, cfg.ArtifactBudget, minArtifacts)
	out.ArtifactHandles = arts

	summaryTokens := 0
	if out.SessionSummary != nil {
		summaryTokens = EstimateTokens(schema.SummaryText(*out.SessionSummary))
	}

	out.TokenEstimate = prefixTokens + workingTokens + summaryTokens + memoryTokens + artifactTokens
	out.CompilationTime = time.Since(start)

	span.SetAttributes(
		attribute.Int("context.tokens", out.TokenEstimate),
		attribute.Int("context.events", len(out.WorkingContext)),
		attribute.Int("context.memories", len(out.RetrievedMemories)),
		attribute.Int("context.artifacts", len(out.ArtifactHandles)),
	)
	slog.Debug("context compiled",
		"agent", req.AgentID,
		"scope", cfg.AgentScope,
		"tokens", out.TokenEstimate,
		"events", len(out.WorkingContext),
		"memories", len(out.RetrievedMemories),
		"artifacts", len(out.ArtifactHandles),
		"elapsed_ms", out.CompilationTimeMs(),
	)
	return out, nil
}

// fetchWorkingContext returns the newest uncompacted events in chronological order.
func (c *ContextCompiler) fetchWorkingContext(ctx context.Context, req CompileRequest, cfg CompileConfig) tierResult[[]schema.Event] {
	if req.SessionID == "" || cfg.MaxRecentEvents == 0 {
		return tierOK[[]schema.Event](nil)
	}
	events, err := c.deps.Events.ListUncompacted(ctx, req.SessionID, cfg.MaxRecentEvents, schema.OrderDesc)
	if err != nil {
		return tierErr[[]schema.Event](err)
	}
	slices.Reverse(events)
	return tierOK(events)
}

func (c *ContextCompiler) fetchInstructions(ctx context.Context, req CompileRequest) tierResult[string] {
	if c.deps.Instructions == nil {
		return tierOK("")
	}
	text, err := c.deps.Instructions.GetInstructions(ctx, req.AgentID, req.UserID)
	if err != nil {
		return tierErr[string](err)
	}
	return tierOK(strings.TrimSpace(text))
}

func (c *ContextCompiler) fetchProfile(ctx context.Context, req CompileRequest) tierResult[string] {
	if c.deps.Profiles == nil {
		return tierOK("")
	}
	line, err := c.deps.Profiles.GetSummary(ctx, req.UserID)
	if err != nil {
		return tierErr[string](err)
	}
	return tierOK(strings.TrimSpace(line))
}

func (c *ContextCompiler) fetchSummary(ctx context.Context, req CompileRequest) tierResult[*schema.SessionSummary] {
	if req.SessionID == "" {
		return tierOK[*schema.SessionSummary](nil)
	}
	sess, err := c.deps.Sessions.Get(ctx, req.SessionID)
	if err != nil {
		return tierErr[*schema.SessionSummary](err)
	}
	if sess.Summary.IsEmpty() {
		return tierOK[*schema.SessionSummary](nil)
	}
	return tierOK(&sess.Summary)
}

// fetchMemories embeds the task and searches the user's memories, touching
// every hit.
func (c *ContextCompiler) fetchMemories(ctx context.Context, req CompileRequest, cfg CompileConfig) tierResult[[]schema.Memory] {
	if c.deps.Embedder == nil || c.deps.Memories == nil || strings.TrimSpace(req.CurrentTask) == "" || cfg.MaxMemories == 0 {
		return tierOK[[]schema.Memory](nil)
	}
	vec, err := c.deps.Embedder.Embed(ctx, req.CurrentTask)
	if err != nil {
		return tierErr[[]schema.Memory](fmt.Errorf("embed task: %w", err))
	}
	found, err := c.deps.Memories.Search(ctx, vec, req.UserID, cfg.MemoryThreshold, cfg.MaxMemories)
	if err != nil {
		return tierErr[[]schema.Memory](fmt.Errorf("search memories: %w", err))
	}
	for _, m := range found {
		if err := c.deps.Memories.Touch(ctx, m.ID); err != nil {
			slog.Warn("memory touch failed", "memory", m.ID, "err", err)
		}
	}
	return tierOK(found)
}

func (c *ContextCompiler) fetchArtifacts(ctx context.Context, req CompileRequest, cfg CompileConfig) tierResult[[]schema.ArtifactHandle] {
	if c.deps.Artifacts == nil || cfg.MaxArtifacts == 0 {
		return tierOK[[]schema.ArtifactHandle](nil)
	}
	sessionID := ""
	if cfg.ArtifactsSessionOnly {
		sessionID = req.SessionID
	}
	list, err := c.deps.Artifacts.ListRecent(ctx, req.UserID, sessionID, cfg.MaxArtifacts)
	if err != nil {
		return tierErr[[]schema.ArtifactHandle](err)
	}
	refs := make([]schema.ArtifactHandle, 0, len(list))
	for _, a := range list {
		refs = append(refs, a.Ref())
	}
	return tierOK(refs)
}
