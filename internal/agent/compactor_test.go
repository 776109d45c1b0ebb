package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store/memstore"
)

const extractionJSON = "```json\n" + `{
  "goals": ["Drive to Bergen"],
  "decisions_made": [{"decision": "Take the E16", "reasoning": "fewer ferries", "timestamp": ""}],
  "key_entities": [{"name": "Bergen", "type": "location", "relevance": 0.9}],
  "open_threads": ["where to charge"],
  "user_sentiment": "positive",
  "topics_discussed": ["routes"],
  "actions_taken": [{"action": "fetched road status", "tool_used": "web_fetch", "result": "success"}],
  "learned_preferences": [{"preference": "avoid tolls", "confidence": 0.8}]
}` + "\n```"

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newCompactor(s *memstore.Store, llm schema.Completer, opts ...CompactorOption) *SessionCompactor {
	opts = append([]CompactorOption{WithClock(func() time.Time { return fixedNow })}, opts...)
	return NewSessionCompactor(s, s, llm, DefaultCompactorConfig(), opts...)
}

func fillSession(t *testing.T, s *memstore.Store, sid string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		typ := schema.EventUserMessage
		if i%2 == 1 {
			typ = schema.EventAssistantMessage
		}
		appendEvent(t, s, sid, typ, fmt.Sprintf("message %d", i+1))
	}
}

func TestCompactionThresholdScenario(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sid := newSession(t, s, "u1")
	c := newCompactor(s, &fakeCompleter{response: extractionJSON})

	fillSession(t, s, sid, 19)
	res, err := c.CheckAndCompact(ctx, sid)
	require.NoError(t, err)
	assert.Nil(t, res, "19 events stay below the threshold")

	appendEvent(t, s, sid, schema.EventUserMessage, "message 20")
	res, err = c.CheckAndCompact(ctx, sid)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.True(t, res.Success)
	assert.Equal(t, 20, res.EventsCompacted)
	assert.Equal(t, 1, res.CompactionCount)

	events := s.AllEvents(sid)
	require.Len(t, events, 21)
	for _, ev := range events[:20] {
		assert.True(t, ev.IsCompacted, "event %d", ev.Sequence)
	}
	marker := events[20]
	assert.Equal(t, schema.EventCompactionMarker, marker.Type)
	assert.Equal(t, int64(21), marker.Sequence)
	assert.False(t, marker.IsCompacted)
	assert.EqualValues(t, 20, marker.Metadata()["events_compacted"])

	sess, err := s.Get(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, []string{"Drive to Bergen"}, sess.Summary.Goals)
	assert.Equal(t, schema.SentimentPositive, sess.Summary.UserSentiment)
	require.Len(t, sess.Summary.DecisionsMade, 1)
	assert.Equal(t, fixedNow.Format(time.RFC3339), sess.Summary.DecisionsMade[0].Timestamp)
	assert.Equal(t, 1, sess.CompactionCount)
	require.NotNil(t, sess.LastCompactionAt)

	n, err := s.CountUncompacted(ctx, sid)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCompactionMarkerFailureIsReported(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sid := newSession(t, s, "u1")
	c := newCompactor(s, &fakeCompleter{response: extractionJSON})
	fillSession(t, s, sid, 4)
	s.Fail(memstore.OpAppend, errBoom)

	res := c.ForceCompact(ctx, sid)
	assert.True(t, res.Success, "the summary commit already succeeded")
	assert.Equal(t, 4, res.EventsCompacted)
	assert.Contains(t, res.Warning, "marker")

	events := s.AllEvents(sid)
	require.Len(t, events, 4)
	for _, ev := range events {
		assert.True(t, ev.IsCompacted)
	}
}

func TestCompactionIsIdempotentWithoutNewEvents(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sid := newSession(t, s, "u1")
	llm := &fakeCompleter{response: extractionJSON}
	c := newCompactor(s, llm)
	fillSession(t, s, sid, 6)

	first := c.ForceCompact(ctx, sid)
	require.True(t, first.Success)
	before, err := s.Get(ctx, sid)
	require.NoError(t, err)

	second := c.ForceCompact(ctx, sid)
	assert.True(t, second.Success)
	assert.Zero(t, second.EventsCompacted)
	assert.Equal(t, 1, llm.calls(), "no extraction without new events")

	after, err := s.Get(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, before.Summary, after.Summary)
	assert.Equal(t, before.CompactionCount, after.CompactionCount)
	assert.Len(t, s.AllEvents(sid), 7)
}

func TestCompactionFoldsPreviousMarker(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sid := newSession(t, s, "u1")
	c := newCompactor(s, &fakeCompleter{response: extractionJSON})

	fillSession(t, s, sid, 3)
	require.True(t, c.ForceCompact(ctx, sid).Success)
	fillSession(t, s, sid, 2)

	res := c.ForceCompact(ctx, sid)
	require.True(t, res.Success)
	assert.Equal(t, 2, res.EventsCompacted)
	assert.Equal(t, 2, res.CompactionCount)

	events := s.AllEvents(sid)
	require.Len(t, events, 7)
	for _, ev := range events[:6] {
		assert.True(t, ev.IsCompacted, "event %d", ev.Sequence)
	}
	assert.Equal(t, schema.EventCompactionMarker, events[6].Type)
}

func TestCompactionLeavesEventsImmutable(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sid := newSession(t, s, "u1")
	fillSession(t, s, sid, 4)
	appendEvent(t, s, sid, schema.EventToolResult, "road open")
	before := s.AllEvents(sid)

	require.True(t, newCompactor(s, &fakeCompleter{response: extractionJSON}).ForceCompact(ctx, sid).Success)

	after := s.AllEvents(sid)
	require.Len(t, after, len(before)+1)
	for i, ev := range before {
		got := after[i]
		assert.True(t, got.IsCompacted)
		got.IsCompacted = false
		assert.Equal(t, ev, got)
	}
}

func TestCompactionFailureMarksNothing(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sid := newSession(t, s, "u1")
	fillSession(t, s, sid, 5)
	s.Fail(memstore.OpUpdateSummary, errBoom)

	res := newCompactor(s, &fakeCompleter{response: extractionJSON}).ForceCompact(ctx, sid)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "boom")

	events := s.AllEvents(sid)
	require.Len(t, events, 5, "no marker on failure")
	for _, ev := range events {
		assert.False(t, ev.IsCompacted)
	}
}

func TestCompactionSummaryWrittenBeforeMarking(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sid := newSession(t, s, "u1")
	fillSession(t, s, sid, 5)
	s.Fail(memstore.OpMarkCompacted, errBoom)

	res := newCompactor(s, &fakeCompleter{response: extractionJSON}).ForceCompact(ctx, sid)
	assert.False(t, res.Success)

	sess, err := s.Get(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, []string{"Drive to Bergen"}, sess.Summary.Goals)
	n, err := s.CountUncompacted(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestCompactionFallsBackToEmptySummary(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sid := newSession(t, s, "u1")
	require.NoError(t, s.UpdateSummary(ctx, sid, schema.SessionSummary{
		Goals:         []string{"Visit the fjords"},
		UserSentiment: schema.SentimentPositive,
	}, 1, fixedNow))
	fillSession(t, s, sid, 3)

	for name, llm := range map[string]*fakeCompleter{
		"prose":      {response: "Sure! The user wants to drive north."},
		"call error": {err: errBoom},
	} {
		t.Run(name, func(t *testing.T) {
			res := newCompactor(s, llm).ForceCompact(ctx, sid)
			require.True(t, res.Success)
			require.NotNil(t, res.Summary)
			assert.Equal(t, []string{"Visit the fjords"}, res.Summary.Goals)
			assert.Equal(t, schema.SentimentNeutral, res.Summary.UserSentiment)
			require.NoError(t, res.Summary.Validate())
		})
		fillSession(t, s, sid, 1)
	}
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return nil, schema.ErrLockHeld
}

func TestCompactionSkipsWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sid := newSession(t, s, "u1")
	fillSession(t, s, sid, 3)
	llm := &fakeCompleter{response: extractionJSON}

	res := newCompactor(s, llm, WithLocker(heldLocker{})).ForceCompact(ctx, sid)
	assert.True(t, res.Skipped)
	assert.False(t, res.Success)
	assert.Zero(t, llm.calls())
}

func TestCompactionStoresSummaryEmbedding(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sid := newSession(t, s, "u1")
	fillSession(t, s, sid, 2)

	res := newCompactor(s, &fakeCompleter{response: extractionJSON},
		WithSummaryEmbedder(fakeEmbedder{vec: []float32{0.5, 0.5}})).ForceCompact(ctx, sid)
	require.True(t, res.Success)
	assert.Equal(t, []float32{0.5, 0.5}, s.SummaryEmbedding(sid))
}

func TestScheduleCompactsInBackground(t *testing.T) {
	s := memstore.New()
	sid := newSession(t, s, "u1")
	c := newCompactor(s, &fakeCompleter{response: extractionJSON})
	fillSession(t, s, sid, 20)

	c.Schedule(sid)
	c.Schedule(sid)
	c.Wait()

	n, err := s.CountUncompacted(context.Background(), sid)
	require.NoError(t, err)
	assert.Zero(t, n)
	sess, err := s.Get(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, 1, sess.CompactionCount)
}

func TestExtractionPromptTruncatesToolResults(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	sid := newSession(t, s, "u1")
	appendEvent(t, s, sid, schema.EventUserMessage, "is the pass open?")
	appendEvent(t, s, sid, schema.EventToolCall, "{}")
	appendEvent(t, s, sid, schema.EventToolResult, strings.Repeat("r", 500))
	llm := &fakeCompleter{response: extractionJSON}

	require.True(t, newCompactor(s, llm).ForceCompact(ctx, sid).Success)
	require.Equal(t, 1, llm.calls())

	prompt := llm.prompts[0]
	assert.Contains(t, prompt, "User: is the pass open?")
	assert.Contains(t, prompt, `Tool call: web_fetch({"url":"https://example.com"})`)
	assert.Contains(t, prompt, "Tool result (web_fetch, success): "+strings.Repeat("r", 200)+"...")
	assert.NotContains(t, prompt, strings.Repeat("r", 201))
	assert.Contains(t, prompt, `"user_sentiment"`)
}
