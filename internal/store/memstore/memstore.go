// Package memstore is an in-process implementation of every store interface.
// It backs ephemeral CLI runs and tests, and supports injecting failures per
// operation.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store"
)

// Operation names accepted by Fail.
const (
	OpAppend           = "events.append"
	OpListUncompacted  = "events.list_uncompacted"
	OpCountUncompacted = "events.count_uncompacted"
	OpMarkCompacted    = "events.mark_compacted"
	OpGetSession       = "sessions.get"
	OpUpdateSummary    = "sessions.update_summary"
	OpGetOrCreate      = "sessions.get_or_create_active"
	OpStoreEmbedding   = "sessions.store_embedding"
	OpListIdle         = "sessions.list_idle"
	OpMemorySearch     = "memories.search"
	OpMemoryTouch      = "memories.touch"
	OpArtifactList     = "artifacts.list_recent"
	OpArtifactCreate   = "artifacts.create"
	OpArtifactGet      = "artifacts.get"
	OpProfile          = "profiles.get_summary"
	OpInstructions     = "instructions.get"
)

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	events       map[string][]*schema.Event
	sessions     map[string]*schema.Session
	embeddings   map[string][]float32
	memories     map[string]*schema.Memory
	artifacts    map[string]*schema.Artifact
	profiles     map[string]string
	instructions map[string]string
	failures     map[string]error

	now func() time.Time
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		events:       make(map[string][]*schema.Event),
		sessions:     make(map[string]*schema.Session),
		embeddings:   make(map[string][]float32),
		memories:     make(map[string]*schema.Memory),
		artifacts:    make(map[string]*schema.Artifact),
		profiles:     make(map[string]string),
		instructions: make(map[string]string),
		failures:     make(map[string]error),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Fail makes every subsequent call of op return err. A nil err clears it.
func (s *Store) Fail(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

func (s *Store) failure(op string) error {
	if err := s.failures[op]; err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetProfile stores the rendered profile line for userID.
func (s *Store) SetProfile(userID, summary string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = summary
}

// SetInstructions stores learned instructions for an agent/user pair.
func (s *Store) SetInstructions(agentID, userID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instructions[agentID+"\x00"+userID] = text
}

// SummaryEmbedding returns the stored summary vector of a session.
func (s *Store) SummaryEmbedding(sessionID string) []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.embeddings[sessionID]
}

// AllEvents returns a copy of every event of a session in sequence order,
// compacted or not.
func (s *Store) AllEvents(sessionID string) []schema.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schema.Event, 0, len(s.events[sessionID]))
	for _, ev := range s.events[sessionID] {
		out = append(out, *ev)
	}
	return out
}

// ---------------------------------------------------------------------------
// EventStore
// ---------------------------------------------------------------------------

func (s *Store) Append(_ context.Context, in schema.NewEvent) (int64, error) {
	if err := schema.ValidateEvent(in); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpAppend); err != nil {
		return 0, err
	}
	sess, ok := s.sessions[in.SessionID]
	if !ok {
		return 0, fmt.Errorf("append to session %s: %w", in.SessionID, schema.ErrNotFound)
	}

	log := s.events[in.SessionID]
	seq := int64(1)
	if n := len(log); n > 0 {
		seq = log[n-1].Sequence + 1
	}
	now := s.now()
	s.events[in.SessionID] = append(log, &schema.Event{
		ID:        store.NewID(),
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Type:      in.Type,
		Content:   in.Content,
		Payload:   in.Payload,
		Sequence:  seq,
		CreatedAt: now,
	})

	sess.LastActivityAt = now
	if in.Type == schema.EventUserMessage || in.Type == schema.EventAssistantMessage {
		sess.MessageCount++
	}
	return seq, nil
}

func (s *Store) ListUncompacted(_ context.Context, sessionID string, limit int, order schema.Order) ([]schema.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpListUncompacted); err != nil {
		return nil, err
	}

	var out []schema.Event
	log := s.events[sessionID]
	if order == schema.OrderDesc {
		for i := len(log) - 1; i >= 0; i-- {
			if !log[i].IsCompacted {
				out = append(out, *log[i])
			}
			if limit > 0 && len(out) == limit {
				break
			}
		}
		return out, nil
	}
	for _, ev := range log {
		if !ev.IsCompacted {
			out = append(out, *ev)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) CountUncompacted(_ context.Context, sessionID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpCountUncompacted); err != nil {
		return 0, err
	}
	n := 0
	for _, ev := range s.events[sessionID] {
		if !ev.IsCompacted && ev.Type != schema.EventCompactionMarker {
			n++
		}
	}
	return n, nil
}

func (s *Store) MarkCompacted(_ context.Context, sessionID string, eventIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpMarkCompacted); err != nil {
		return err
	}
	ids := make(map[string]bool, len(eventIDs))
	for _, id := range eventIDs {
		ids[id] = true
	}
	for _, ev := range s.events[sessionID] {
		if ids[ev.ID] {
			ev.IsCompacted = true
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// SessionStore
// ---------------------------------------------------------------------------

func (s *Store) Get(_ context.Context, sessionID string) (schema.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpGetSession); err != nil {
		return schema.Session{}, err
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return schema.Session{}, fmt.Errorf("session %s: %w", sessionID, schema.ErrNotFound)
	}
	return *sess, nil
}

func (s *Store) UpdateSummary(_ context.Context, sessionID string, summary schema.SessionSummary, compactionCount int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpUpdateSummary); err != nil {
		return err
	}
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, schema.ErrNotFound)
	}
	at = at.UTC()
	sess.Summary = summary
	sess.CompactionCount = compactionCount
	sess.LastCompactionAt = &at
	return nil
}

func (s *Store) GetOrCreateActive(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpGetOrCreate); err != nil {
		return "", err
	}

	var newest *schema.Session
	for _, sess := range s.sessions {
		if sess.UserID != userID || sess.Status != schema.SessionActive {
			continue
		}
		if newest == nil || sess.LastActivityAt.After(newest.LastActivityAt) {
			newest = sess
		}
	}
	if newest != nil {
		return newest.ID, nil
	}

	now := s.now()
	sess := &schema.Session{
		ID:             store.NewID(),
		UserID:         userID,
		Status:         schema.SessionActive,
		Summary:        schema.EmptySummary(),
		LastActivityAt: now,
		CreatedAt:      now,
	}
	s.sessions[sess.ID] = sess
	return sess.ID, nil
}

func (s *Store) Complete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, schema.ErrNotFound)
	}
	sess.Status = schema.SessionCompleted
	return nil
}

func (s *Store) ListIdle(_ context.Context, before time.Time, limit int) ([]schema.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpListIdle); err != nil {
		return nil, err
	}
	var out []schema.Session
	for _, sess := range s.sessions {
		if sess.Status == schema.SessionActive && sess.LastActivityAt.Before(before) {
			out = append(out, *sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActivityAt.Before(out[j].LastActivityAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) StoreSummaryEmbedding(_ context.Context, sessionID string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpStoreEmbedding); err != nil {
		return err
	}
	s.embeddings[sessionID] = append([]float32(nil), vec...)
	return nil
}

// SetLastActivity overrides a session's activity time.
func (s *Store) SetLastActivity(sessionID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastActivityAt = at
	}
}

// ---------------------------------------------------------------------------
// MemoryIndex
// ---------------------------------------------------------------------------

func (s *Store) Add(_ context.Context, m schema.Memory) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = store.NewID()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	m.Embedding = append([]float32(nil), m.Embedding...)
	s.memories[m.ID] = &m
	return m.ID, nil
}

func (s *Store) Search(_ context.Context, vec []float32, userID string, threshold float64, limit int) ([]schema.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpMemorySearch); err != nil {
		return nil, err
	}

	var out []schema.Memory
	for _, m := range s.memories {
		if m.UserID != userID {
			continue
		}
		sim, err := store.CosineSimilarity(vec, m.Embedding)
		if err != nil || sim < threshold {
			continue
		}
		found := *m
		found.Similarity = sim
		out = append(out, found)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Touch(_ context.Context, memoryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpMemoryTouch); err != nil {
		return err
	}
	m, ok := s.memories[memoryID]
	if !ok {
		return fmt.Errorf("memory %s: %w", memoryID, schema.ErrNotFound)
	}
	m.AccessCount++
	m.LastAccessedAt = s.now()
	return nil
}

// Memory returns a stored memory by id.
func (s *Store) Memory(id string) (schema.Memory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return schema.Memory{}, false
	}
	return *m, true
}

// ---------------------------------------------------------------------------
// ArtifactStore
// ---------------------------------------------------------------------------

// Artifacts is the ArtifactStore view of a Store.
type Artifacts struct{ s *Store }

// Artifacts returns the ArtifactStore backed by s.
func (s *Store) Artifacts() *Artifacts { return &Artifacts{s: s} }

func (a *Artifacts) ListRecent(_ context.Context, userID, sessionID string, limit int) ([]schema.Artifact, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpArtifactList); err != nil {
		return nil, err
	}
	var out []schema.Artifact
	for _, art := range s.artifacts {
		if art.UserID != userID || (sessionID != "" && art.SessionID != sessionID) {
			continue
		}
		ref := *art
		ref.Content = ""
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastAccessedAt.After(out[j].LastAccessedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (a *Artifacts) Create(_ context.Context, in schema.NewArtifact) (string, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpArtifactCreate); err != nil {
		return "", err
	}
	now := s.now()
	art := &schema.Artifact{
		Handle:         store.NewHandle(),
		UserID:         in.UserID,
		SessionID:      in.SessionID,
		Name:           in.Name,
		ArtifactType:   in.ArtifactType,
		Summary:        in.Summary,
		Content:        in.Content,
		SizeBytes:      len(in.Content),
		CreatedAt:      now,
		LastAccessedAt: now,
	}
	s.artifacts[art.Handle] = art
	return art.Handle, nil
}

func (a *Artifacts) Get(_ context.Context, handle string) (schema.Artifact, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpArtifactGet); err != nil {
		return schema.Artifact{}, err
	}
	art, ok := s.artifacts[handle]
	if !ok {
		return schema.Artifact{}, fmt.Errorf("artifact %s: %w", handle, schema.ErrNotFound)
	}
	art.AccessCount++
	art.LastAccessedAt = s.now()
	return *art, nil
}

// Put stores a fully specified artifact, keeping its timestamps.
func (a *Artifacts) Put(art schema.Artifact) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if art.Handle == "" {
		art.Handle = store.NewHandle()
	}
	s.artifacts[art.Handle] = &art
}

// ---------------------------------------------------------------------------
// ProfileLookup / InstructionStore
// ---------------------------------------------------------------------------

func (s *Store) GetSummary(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpProfile); err != nil {
		return "", err
	}
	return s.profiles[userID], nil
}

func (s *Store) GetInstructions(_ context.Context, agentID, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failure(OpInstructions); err != nil {
		return "", err
	}
	return strings.TrimSpace(s.instructions[agentID+"\x00"+userID]), nil
}

var (
	_ schema.EventStore       = (*Store)(nil)
	_ schema.SessionStore     = (*Store)(nil)
	_ schema.MemoryIndex      = (*Store)(nil)
	_ schema.ProfileLookup    = (*Store)(nil)
	_ schema.InstructionStore = (*Store)(nil)
	_ schema.ArtifactStore    = (*Artifacts)(nil)
)
