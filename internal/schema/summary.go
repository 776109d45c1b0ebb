package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Sentiment values accepted in SessionSummary.UserSentiment.
const (
	SentimentPositive = "positive"
	SentimentNeutral  = "neutral"
	SentimentNegative = "negative"
	SentimentMixed    = "mixed"
)

// Action results accepted in ActionTaken.Result.
const (
	ResultSuccess = "success"
	ResultPartial = "partial"
	ResultFailed  = "failed"
)

var (
	entityTypes   = []string{"location", "person", "vehicle", "item", "event", "budget"}
	sentiments    = []string{SentimentPositive, SentimentNeutral, SentimentNegative, SentimentMixed}
	actionResults = []string{ResultSuccess, ResultPartial, ResultFailed}
)

// Decision is one entry of decisions_made.
type Decision struct {
	Decision  string `json:"decision" jsonschema:"what was decided"`
	Reasoning string `json:"reasoning" jsonschema:"why it was decided"`
	Timestamp string `json:"timestamp" jsonschema:"ISO-8601 UTC time of the decision"`
}

// Entity is one entry of key_entities.
type Entity struct {
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Relevance float64 `json:"relevance"`
}

// ActionTaken is one entry of actions_taken.
type ActionTaken struct {
	Action   string `json:"action"`
	ToolUsed string `json:"tool_used,omitempty"`
	Result   string `json:"result"`
}

// Preference is one entry of learned_preferences.
type Preference struct {
	Preference string  `json:"preference"`
	Confidence float64 `json:"confidence"`
}

// SessionSummary is the structured, schema-bound digest of compacted events.
// Its JSON form is the contract shared with the extraction model.
type SessionSummary struct {
	Goals              []string      `json:"goals"`
	DecisionsMade      []Decision    `json:"decisions_made"`
	KeyEntities        []Entity      `json:"key_entities"`
	OpenThreads        []string      `json:"open_threads"`
	UserSentiment      string        `json:"user_sentiment"`
	TopicsDiscussed    []string      `json:"topics_discussed"`
	ActionsTaken       []ActionTaken `json:"actions_taken"`
	LearnedPreferences []Preference  `json:"learned_preferences"`
}

// EmptySummary returns a summary with every field at its empty default.
func EmptySummary() SessionSummary {
	return SessionSummary{
		Goals:              []string{},
		DecisionsMade:      []Decision{},
		KeyEntities:        []Entity{},
		OpenThreads:        []string{},
		UserSentiment:      SentimentNeutral,
		TopicsDiscussed:    []string{},
		ActionsTaken:       []ActionTaken{},
		LearnedPreferences: []Preference{},
	}
}

// IsEmpty reports whether the summary carries no information beyond defaults.
func (s SessionSummary) IsEmpty() bool {
	return len(s.Goals) == 0 && len(s.DecisionsMade) == 0 && len(s.KeyEntities) == 0 &&
		len(s.OpenThreads) == 0 && len(s.TopicsDiscussed) == 0 && len(s.ActionsTaken) == 0 &&
		len(s.LearnedPreferences) == 0 && (s.UserSentiment == "" || s.UserSentiment == SentimentNeutral)
}

// ParseSessionSummary decodes raw into a schema-conformant summary. Fields
// that are missing or of the wrong shape take their empty default; the
// returned error only reports that raw was not a JSON object at all, in which
// case the empty summary is returned.
func ParseSessionSummary(raw []byte) (SessionSummary, error) {
	out := EmptySummary()

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return out, fmt.Errorf("parse session summary: %w", err)
	}

	out.Goals = decodeStrings(fields["goals"])
	out.OpenThreads = decodeStrings(fields["open_threads"])
	out.TopicsDiscussed = decodeStrings(fields["topics_discussed"])
	out.DecisionsMade = decodeList[Decision](fields["decisions_made"])
	out.KeyEntities = decodeList[Entity](fields["key_entities"])
	out.ActionsTaken = decodeList[ActionTaken](fields["actions_taken"])
	out.LearnedPreferences = decodeList[Preference](fields["learned_preferences"])

	var sentiment string
	if err := json.Unmarshal(fields["user_sentiment"], &sentiment); err == nil {
		out.UserSentiment = sentiment
	}

	out.Normalize()
	return out, nil
}

// Normalize coerces s in place into the schema: nil lists become empty,
// scores are clamped to [0,1], unknown enum values are replaced and entries
// without their key field are dropped.
func (s *SessionSummary) Normalize() {
	s.Goals = cleanStrings(s.Goals)
	s.OpenThreads = cleanStrings(s.OpenThreads)
	s.TopicsDiscussed = cleanStrings(s.TopicsDiscussed)

	decisions := make([]Decision, 0, len(s.DecisionsMade))
	for _, d := range s.DecisionsMade {
		d.Decision = strings.TrimSpace(d.Decision)
		if d.Decision == "" {
			continue
		}
		decisions = append(decisions, d)
	}
	s.DecisionsMade = decisions

	entities := make([]Entity, 0, len(s.KeyEntities))
	for _, e := range s.KeyEntities {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			continue
		}
		e.Type = oneOf(strings.ToLower(strings.TrimSpace(e.Type)), entityTypes, "item")
		e.Relevance = clamp01(e.Relevance)
		entities = append(entities, e)
	}
	s.KeyEntities = entities

	actions := make([]ActionTaken, 0, len(s.ActionsTaken))
	for _, a := range s.ActionsTaken {
		a.Action = strings.TrimSpace(a.Action)
		if a.Action == "" {
			continue
		}
		a.Result = oneOf(strings.ToLower(strings.TrimSpace(a.Result)), actionResults, ResultPartial)
		actions = append(actions, a)
	}
	s.ActionsTaken = actions

	prefs := make([]Preference, 0, len(s.LearnedPreferences))
	for _, p := range s.LearnedPreferences {
		p.Preference = strings.TrimSpace(p.Preference)
		if p.Preference == "" {
			continue
		}
		p.Confidence = clamp01(p.Confidence)
		prefs = append(prefs, p)
	}
	s.LearnedPreferences = prefs

	s.UserSentiment = oneOf(strings.ToLower(strings.TrimSpace(s.UserSentiment)), sentiments, SentimentNeutral)
}

// Validate checks s against SummaryJSONSchema.
func (s SessionSummary) Validate() error {
	resolved, err := resolvedSummarySchema()
	if err != nil {
		return err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session summary: %w", err)
	}
	var instance map[string]any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("unmarshal session summary: %w", err)
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("session summary violates schema: %w", err)
	}
	return nil
}

var summarySchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	s, err := jsonschema.For[SessionSummary](nil)
	if err != nil {
		return nil, fmt.Errorf("build session summary schema: %w", err)
	}

	if p := s.Properties["user_sentiment"]; p != nil {
		p.Enum = toAny(sentiments)
	}
	if p := s.Properties["key_entities"]; p != nil && p.Items != nil {
		if t := p.Items.Properties["type"]; t != nil {
			t.Enum = toAny(entityTypes)
		}
		if r := p.Items.Properties["relevance"]; r != nil {
			r.Minimum, r.Maximum = ptr(0.0), ptr(1.0)
		}
	}
	if p := s.Properties["actions_taken"]; p != nil && p.Items != nil {
		if r := p.Items.Properties["result"]; r != nil {
			r.Enum = toAny(actionResults)
		}
	}
	if p := s.Properties["learned_preferences"]; p != nil && p.Items != nil {
		if c := p.Items.Properties["confidence"]; c != nil {
			c.Minimum, c.Maximum = ptr(0.0), ptr(1.0)
		}
	}
	return s, nil
})

var resolvedSummarySchema = sync.OnceValues(func() (*jsonschema.Resolved, error) {
	s, err := summarySchema()
	if err != nil {
		return nil, err
	}
	return s.Resolve(nil)
})

// SummaryJSONSchema returns the JSON Schema document of SessionSummary, as
// embedded in extraction prompts.
func SummaryJSONSchema() (json.RawMessage, error) {
	s, err := summarySchema()
	if err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

func decodeStrings(raw json.RawMessage) []string {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
		}
	}
	return out
}

func decodeList[T any](raw json.RawMessage) []T {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return []T{}
	}
	out := make([]T, 0, len(items))
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func cleanStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func oneOf(v string, allowed []string, fallback string) string {
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return fallback
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func ptr[T any](v T) *T { return &v }
