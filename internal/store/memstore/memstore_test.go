package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmate/roadmate/internal/schema"
)

func newSession(t *testing.T, s *Store, userID string) string {
	t.Helper()
	id, err := s.GetOrCreateActive(context.Background(), userID)
	require.NoError(t, err)
	return id
}

func TestAppendAssignsIncreasingSequence(t *testing.T) {
	ctx := context.Background()
	s := New()
	sid := newSession(t, s, "u1")

	for i := 1; i <= 3; i++ {
		seq, err := s.Append(ctx, schema.NewEvent{SessionID: sid, UserID: "u1", Type: schema.EventUserMessage, Content: "hi"})
		require.NoError(t, err)
		assert.Equal(t, int64(i), seq)
	}

	sess, err := s.Get(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.MessageCount)
}

func TestAppendRejectsInvalidEvent(t *testing.T) {
	s := New()
	sid := newSession(t, s, "u1")
	_, err := s.Append(context.Background(), schema.NewEvent{SessionID: sid, Type: schema.EventToolCall})
	assert.True(t, errors.Is(err, schema.ErrInvalidEvent))
}

func TestListUncompactedOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := New()
	sid := newSession(t, s, "u1")
	for _, c := range []string{"a", "b", "c", "d"} {
		_, err := s.Append(ctx, schema.NewEvent{SessionID: sid, Type: schema.EventUserMessage, Content: c})
		require.NoError(t, err)
	}

	desc, err := s.ListUncompacted(ctx, sid, 2, schema.OrderDesc)
	require.NoError(t, err)
	require.Len(t, desc, 2)
	assert.Equal(t, "d", desc[0].Content)
	assert.Equal(t, "c", desc[1].Content)

	require.NoError(t, s.MarkCompacted(ctx, sid, []string{desc[0].ID}))
	asc, err := s.ListUncompacted(ctx, sid, 0, schema.OrderAsc)
	require.NoError(t, err)
	assert.Len(t, asc, 3)
}

func TestCountUncompactedSkipsMarkers(t *testing.T) {
	ctx := context.Background()
	s := New()
	sid := newSession(t, s, "u1")
	_, err := s.Append(ctx, schema.NewEvent{SessionID: sid, Type: schema.EventUserMessage, Content: "x"})
	require.NoError(t, err)
	_, err = s.Append(ctx, schema.NewEvent{SessionID: sid, Type: schema.EventCompactionMarker, Payload: schema.CompactionPayload{EventsCompacted: 4}})
	require.NoError(t, err)

	n, err := s.CountUncompacted(ctx, sid)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestGetOrCreateActiveReusesActiveSession(t *testing.T) {
	ctx := context.Background()
	s := New()
	first := newSession(t, s, "u1")
	assert.Equal(t, first, newSession(t, s, "u1"))

	require.NoError(t, s.Complete(ctx, first))
	assert.NotEqual(t, first, newSession(t, s, "u1"))
}

func TestSearchFiltersByUserAndThreshold(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Add(ctx, schema.Memory{UserID: "u1", Content: "prefers diesel", Embedding: []float32{1, 0}})
	require.NoError(t, err)
	_, err = s.Add(ctx, schema.Memory{UserID: "u1", Content: "owns a dog", Embedding: []float32{0, 1}})
	require.NoError(t, err)
	_, err = s.Add(ctx, schema.Memory{UserID: "u2", Content: "other user", Embedding: []float32{1, 0}})
	require.NoError(t, err)

	got, err := s.Search(ctx, []float32{1, 0.1}, "u1", 0.5, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "prefers diesel", got[0].Content)
	assert.Greater(t, got[0].Similarity, 0.9)
}

func TestArtifactsGetTouches(t *testing.T) {
	ctx := context.Background()
	s := New()
	arts := s.Artifacts()

	h, err := arts.Create(ctx, schema.NewArtifact{UserID: "u1", Name: "route.json", Content: "{}"})
	require.NoError(t, err)

	a, err := arts.Get(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, 1, a.AccessCount)

	_, err = arts.Get(ctx, "art_missing")
	assert.True(t, errors.Is(err, schema.ErrNotFound))
}

func TestFailInjection(t *testing.T) {
	s := New()
	boom := errors.New("boom")
	s.Fail(OpMemorySearch, boom)

	_, err := s.Search(context.Background(), []float32{1}, "u1", 0, 1)
	assert.True(t, errors.Is(err, boom))

	s.Fail(OpMemorySearch, nil)
	_, err = s.Search(context.Background(), []float32{1}, "u1", 0, 1)
	assert.NoError(t, err)
}

func TestListIdle(t *testing.T) {
	ctx := context.Background()
	s := New()
	sid := newSession(t, s, "u1")
	s.SetLastActivity(sid, time.Now().Add(-time.Hour))

	idle, err := s.ListIdle(ctx, time.Now().Add(-30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, idle, 1)
	assert.Equal(t, sid, idle[0].ID)
}
