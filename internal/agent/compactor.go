package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/shared/llmutils"
)

// Per-session compaction states used by Schedule.
const (
	compactRunning uint8 = 1 // goroutine is actively compacting
	compactQueued  uint8 = 2 // goroutine is running AND another check is pending
)

// CompactorConfig tunes the SessionCompactor.
type CompactorConfig struct {
	// Threshold is the uncompacted event count that triggers compaction.
	Threshold           int           `json:"threshold" yaml:"threshold"`
	ToolResultLimit     int           `json:"toolResultLimit" yaml:"toolResultLimit"`
	MaxExtractionTokens int           `json:"maxExtractionTokens" yaml:"maxExtractionTokens"`
	LockTTL             time.Duration `json:"lockTtl" yaml:"lockTtl"`
}

// DefaultCompactorConfig returns the default compaction settings.
func DefaultCompactorConfig() CompactorConfig {
	return CompactorConfig{
		Threshold:           20,
		ToolResultLimit:     200,
		MaxExtractionTokens: 2000,
		LockTTL:             2 * time.Minute,
	}
}

// CompactionResult reports the outcome of one compaction.
type CompactionResult struct {
	SessionID       string
	Success         bool
	Skipped         bool // another compaction held the session lock
	EventsCompacted int
	CompactionCount int
	Summary         *schema.SessionSummary
	Error           string
	Warning         string // set when the commit succeeded but the marker was not recorded
	Duration        time.Duration
}

// SessionCompactor folds raw session events into the structured session
// summary and marks them compacted.
type SessionCompactor struct {
	events   schema.EventStore
	sessions schema.SessionStore
	llm      schema.Completer
	embedder schema.EmbeddingProvider
	locker   schema.Locker
	cfg      CompactorConfig
	tracer   trace.Tracer
	now      func() time.Time

	// Per-session schedule state (idle=absent, running=1, queued=2).
	compacting map[string]uint8
	mu         sync.Mutex
	wg         sync.WaitGroup
}

// CompactorOption customises a SessionCompactor.
type CompactorOption func(*SessionCompactor)

// WithSummaryEmbedder stores an embedding of every merged summary.
func WithSummaryEmbedder(e schema.EmbeddingProvider) CompactorOption {
	return func(c *SessionCompactor) { c.embedder = e }
}

// WithLocker takes a per-session advisory lock around each compaction.
func WithLocker(l schema.Locker) CompactorOption {
	return func(c *SessionCompactor) { c.locker = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CompactorOption {
	return func(c *SessionCompactor) { c.now = now }
}

// NewSessionCompactor returns a compactor. Zero fields of cfg take their defaults.
func NewSessionCompactor(events schema.EventStore, sessions schema.SessionStore, llm schema.Completer, cfg CompactorConfig, opts ...CompactorOption) *SessionCompactor {
	def := DefaultCompactorConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.ToolResultLimit <= 0 {
		cfg.ToolResultLimit = def.ToolResultLimit
	}
	if cfg.MaxExtractionTokens <= 0 {
		cfg.MaxExtractionTokens = def.MaxExtractionTokens
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = def.LockTTL
	}

	c := &SessionCompactor{
		events:     events,
		sessions:   sessions,
		llm:        llm,
		cfg:        cfg,
		tracer:     otel.Tracer(tracerName),
		now:        func() time.Time { return time.Now().UTC() },
		compacting: make(map[string]uint8),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold returns the configured trigger count.
func (c *SessionCompactor) Threshold() int { return c.cfg.Threshold }

// CheckAndCompact compacts the session when its uncompacted event count has
// reached the threshold. It returns nil when no compaction was needed.
func (c *SessionCompactor) CheckAndCompact(ctx context.Context, sessionID string) (*CompactionResult, error) {
	n, err := c.events.CountUncompacted(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("count uncompacted events: %w", err)
	}
	if n < c.cfg.Threshold {
		return nil, nil
	}

	slog.Info("compaction threshold reached", "session", sessionID, "events", n, "threshold", c.cfg.Threshold)
	res := c.CompactSession(ctx, sessionID)
	return &res, nil
}

// ForceCompact compacts regardless of the threshold. Used when a session ends.
func (c *SessionCompactor) ForceCompact(ctx context.Context, sessionID string) CompactionResult {
	return c.CompactSession(ctx, sessionID)
}

// Schedule runs CheckAndCompact in the background. It keeps at most one
// goroutine per session with one pending slot.
//
// State machine per session:
//
//	absent         → compactRunning  launch goroutine
//	compactRunning → compactQueued   mark pending, goroutine will re-check
//	compactQueued  → compactQueued   already queued, nothing to do
func (c *SessionCompactor) Schedule(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.compacting[sessionID] {
	case compactRunning:
		c.compacting[sessionID] = compactQueued
		return
	case compactQueued:
		return
	}

	c.compacting[sessionID] = compactRunning
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			if _, err := c.CheckAndCompact(context.Background(), sessionID); err != nil {
				slog.Error("scheduled compaction check failed", "session", sessionID, "err", err)
			}

			c.mu.Lock()
			if c.compacting[sessionID] == compactQueued {
				c.compacting[sessionID] = compactRunning
				c.mu.Unlock()
				continue
			}
			delete(c.compacting, sessionID)
			c.mu.Unlock()
			return
		}
	}()
}

// Wait blocks until every scheduled compaction has finished.
func (c *SessionCompactor) Wait() { c.wg.Wait() }

// CompactSession folds every uncompacted event of the session into its
// summary. Failures are reported in the result; on failure no event is
// marked compacted.
func (c *SessionCompactor) CompactSession(ctx context.Context, sessionID string) CompactionResult {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, "session.compact", trace.WithAttributes(
		attribute.String("session.id", sessionID),
	))
	defer span.End()

	res, err := c.compactLocked(ctx, sessionID)
	res.SessionID = sessionID
	res.Duration = time.Since(start)
	if err != nil {
		slog.Error("session compaction failed", "session", sessionID, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		res.Success = false
		res.Error = err.Error()
		return res
	}

	span.SetAttributes(
		attribute.Int("compaction.events", res.EventsCompacted),
		attribute.Bool("compaction.skipped", res.Skipped),
	)
	return res
}

func (c *SessionCompactor) compactLocked(ctx context.Context, sessionID string) (CompactionResult, error) {
	if c.locker == nil {
		return c.compact(ctx, sessionID)
	}

	release, err := c.locker.Acquire(ctx, "compaction:"+sessionID, c.cfg.LockTTL)
	if errors.Is(err, schema.ErrLockHeld) {
		slog.Info("compaction already running, skipping", "session", sessionID)
		return CompactionResult{Skipped: true, Error: "compaction already in progress"}, nil
	}
	if err != nil {
		return CompactionResult{}, fmt.Errorf("acquire compaction lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			slog.Warn("release compaction lock", "session", sessionID, "err", err)
		}
	}()
	return c.compact(ctx, sessionID)
}

func (c *SessionCompactor) compact(ctx context.Context, sessionID string) (CompactionResult, error) {
	pending, err := c.events.ListUncompacted(ctx, sessionID, 0, schema.OrderAsc)
	if err != nil {
		return CompactionResult{}, fmt.Errorf("list uncompacted events: %w", err)
	}

	var content []schema.Event
	ids := make([]string, 0, len(pending))
	for _, ev := range pending {
		ids = append(ids, ev.ID)
		if ev.Type != schema.EventCompactionMarker {
			content = append(content, ev)
		}
	}
	if len(content) == 0 {
		return CompactionResult{Success: true}, nil
	}

	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return CompactionResult{}, fmt.Errorf("load session: %w", err)
	}

	now := c.now()
	extracted := c.extract(ctx, sess.Summary, content)
	for i := range extracted.DecisionsMade {
		if extracted.DecisionsMade[i].Timestamp == "" {
			extracted.DecisionsMade[i].Timestamp = now.Format(time.RFC3339)
		}
	}

	merged := MergeSummaries(sess.Summary, extracted)
	if err := merged.Validate(); err != nil {
		slog.Warn("merged summary failed schema validation", "session", sessionID, "err", err)
	}
	count := sess.CompactionCount + 1

	if err := c.commit(ctx, sessionID, merged, count, now, ids); err != nil {
		return CompactionResult{}, err
	}

	_, err = c.events.Append(ctx, schema.NewEvent{
		SessionID: sessionID,
		UserID:    sess.UserID,
		Type:      schema.EventCompactionMarker,
		Content:   fmt.Sprintf("Compacted %d events into the session summary", len(content)),
		Payload:   schema.CompactionPayload{EventsCompacted: len(content), CompactionCount: count},
	})
	var warning string
	if err != nil {
		slog.Error("append compaction marker", "session", sessionID, "err", err)
		trace.SpanFromContext(ctx).RecordError(err)
		warning = fmt.Sprintf("compaction marker not recorded: %v", err)
	}

	c.storeEmbedding(ctx, sessionID, merged)

	slog.Info("session compacted",
		"session", sessionID, "events", len(content), "compaction_count", count)

	return CompactionResult{
		Success:         true,
		EventsCompacted: len(content),
		CompactionCount: count,
		Summary:         &merged,
		Warning:         warning,
	}, nil
}

// commit writes the summary before marking events, or does both atomically
// when the session store supports it.
func (c *SessionCompactor) commit(ctx context.Context, sessionID string, summary schema.SessionSummary, count int, at time.Time, ids []string) error {
	if committer, ok := c.sessions.(schema.CompactionCommitter); ok {
		if err := committer.CommitCompaction(ctx, sessionID, summary, count, at, ids); err != nil {
			return fmt.Errorf("commit compaction: %w", err)
		}
		return nil
	}

	if err := c.sessions.UpdateSummary(ctx, sessionID, summary, count, at); err != nil {
		return fmt.Errorf("write session summary: %w", err)
	}
	if err := c.events.MarkCompacted(ctx, sessionID, ids); err != nil {
		return fmt.Errorf("mark events compacted: %w", err)
	}
	return nil
}

func (c *SessionCompactor) storeEmbedding(ctx context.Context, sessionID string, summary schema.SessionSummary) {
	if c.embedder == nil {
		return
	}
	vec, err := c.embedder.Embed(ctx, schema.SummaryText(summary))
	if err == nil {
		err = c.sessions.StoreSummaryEmbedding(ctx, sessionID, vec)
	}
	if err != nil {
		slog.Warn("store summary embedding", "session", sessionID, "err", err)
	}
}

// extract asks the model for a SessionSummary of events. Any failure yields
// the empty summary.
func (c *SessionCompactor) extract(ctx context.Context, prev schema.SessionSummary, events []schema.Event) schema.SessionSummary {
	prompt, err := c.extractionPrompt(prev, events)
	if err != nil {
		slog.Warn("build extraction prompt", "err", err)
		return schema.EmptySummary()
	}

	text, err := c.llm.Complete(ctx, prompt, c.cfg.MaxExtractionTokens)
	if err != nil {
		slog.Warn("summary extraction call failed", "err", err)
		return schema.EmptySummary()
	}

	obj, found := firstJSONObject(text)
	if !found {
		slog.Warn("summary extraction returned no JSON object", "response", llmutils.Truncate(text, 200))
		return schema.EmptySummary()
	}

	summary, err := schema.ParseSessionSummary([]byte(obj))
	if err != nil {
		slog.Warn("summary extraction returned invalid JSON", "err", err)
	}
	return summary
}

func (c *SessionCompactor) extractionPrompt(prev schema.SessionSummary, events []schema.Event) (string, error) {
	schemaDoc, err := schema.SummaryJSONSchema()
	if err != nil {
		return "", err
	}
	prev.Normalize()
	prevJSON, err := json.MarshalIndent(prev, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal previous summary: %w", err)
	}

	return fmt.Sprintf(`You maintain a structured summary of a conversation between a user and a travel assistant.
Extract ONLY what is new in the transcript below. It will be merged with the existing summary.

Respond with a single JSON object matching exactly this JSON Schema, and nothing else:
%s

Rules:
- Every field must be present; use [] for empty lists and "neutral" when the mood is unclear.
- key_entities.type is one of location, person, vehicle, item, event, budget.
- relevance and confidence are numbers between 0 and 1.
- actions_taken.result is one of success, partial, failed.

## Existing summary
%s

## Transcript
%s`, schemaDoc, prevJSON, formatTranscript(events, c.cfg.ToolResultLimit)), nil
}

// formatTranscript renders events as role-prefixed lines. Tool results are
// truncated to limit characters.
func formatTranscript(events []schema.Event, limit int) string {
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		switch ev.Type {
		case schema.EventUserMessage:
			lines = append(lines, "User: "+ev.Content)
		case schema.EventAssistantMessage:
			lines = append(lines, "Assistant: "+ev.Content)
		case schema.EventToolCall:
			p, _ := ev.Payload.(schema.ToolCallPayload)
			args, _ := json.Marshal(p.Parameters)
			lines = append(lines, fmt.Sprintf("Tool call: %s(%s)", p.ToolName, args))
		case schema.EventToolResult:
			p, _ := ev.Payload.(schema.ToolResultPayload)
			result := p.Result
			if result == "" {
				result = ev.Content
			}
			status := "success"
			if !p.Success {
				status = "failed"
			}
			lines = append(lines, fmt.Sprintf("Tool result (%s, %s): %s", p.ToolName, status, llmutils.Truncate(result, limit)))
		case schema.EventSystem:
			lines = append(lines, "System: "+ev.Content)
		}
	}
	return strings.Join(lines, "\n")
}
