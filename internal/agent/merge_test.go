package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roadmate/roadmate/internal/schema"
)

func TestMergeSummariesRules(t *testing.T) {
	prev := schema.SessionSummary{
		Goals:         []string{"Drive to Bergen", "Find chargers"},
		DecisionsMade: []schema.Decision{{Decision: "Leave Friday", Reasoning: "less traffic", Timestamp: "2026-05-01T10:00:00Z"}},
		KeyEntities:   []schema.Entity{{Name: "Bergen", Type: "location", Relevance: 0.6}},
		OpenThreads:   []string{"ferry times"},
		UserSentiment: schema.SentimentNegative,
		ActionsTaken:  []schema.ActionTaken{{Action: "checked weather", Result: schema.ResultSuccess}},
	}
	next := schema.SessionSummary{
		Goals:              []string{"Find chargers", "Book a cabin"},
		DecisionsMade:      []schema.Decision{{Decision: "Take the E16", Reasoning: "fewer ferries", Timestamp: "2026-05-01T11:00:00Z"}},
		KeyEntities:        []schema.Entity{{Name: "bergen ", Type: "location", Relevance: 0.9}, {Name: "Voss", Type: "location", Relevance: 0.4}},
		UserSentiment:      schema.SentimentPositive,
		LearnedPreferences: []schema.Preference{{Preference: "avoid tolls", Confidence: 0.7}},
	}

	got := MergeSummaries(prev, next)

	assert.Equal(t, []string{"Drive to Bergen", "Find chargers", "Book a cabin"}, got.Goals)
	assert.Len(t, got.DecisionsMade, 2)
	assert.Equal(t, "Leave Friday", got.DecisionsMade[0].Decision)
	assert.Equal(t, []string{"ferry times"}, got.OpenThreads)
	assert.Equal(t, schema.SentimentPositive, got.UserSentiment)
	assert.Len(t, got.ActionsTaken, 1)
	if assert.Len(t, got.KeyEntities, 2) {
		assert.Equal(t, 0.9, got.KeyEntities[0].Relevance)
		assert.Equal(t, "Voss", got.KeyEntities[1].Name)
	}
	assert.Equal(t, []schema.Preference{{Preference: "avoid tolls", Confidence: 0.7}}, got.LearnedPreferences)
}

func TestMergeEntitiesAndPreferencesCommute(t *testing.T) {
	a := schema.SessionSummary{
		KeyEntities: []schema.Entity{
			{Name: "Oslo", Type: "location", Relevance: 0.8},
			{Name: "Tesla", Type: "vehicle", Relevance: 0.5},
			{Name: "Budget", Type: "budget", Relevance: 0.5},
		},
		LearnedPreferences: []schema.Preference{
			{Preference: "scenic routes", Confidence: 0.4},
			{Preference: "Early starts", Confidence: 0.6},
		},
	}
	b := schema.SessionSummary{
		KeyEntities: []schema.Entity{
			{Name: "oslo", Type: "location", Relevance: 0.3},
			{Name: "Tesla", Type: "item", Relevance: 0.5},
		},
		LearnedPreferences: []schema.Preference{
			{Preference: "Scenic routes", Confidence: 0.9},
			{Preference: "early starts", Confidence: 0.6},
		},
	}

	ab := MergeSummaries(a, b)
	ba := MergeSummaries(b, a)

	assert.Equal(t, ab.KeyEntities, ba.KeyEntities)
	assert.Equal(t, ab.LearnedPreferences, ba.LearnedPreferences)
	assert.Len(t, ab.KeyEntities, 3)
	assert.Equal(t, 0.8, ab.KeyEntities[0].Relevance)
	assert.Equal(t, 0.9, ab.LearnedPreferences[0].Confidence)
}

func TestMergeWithEmptySummaryKeepsPrevious(t *testing.T) {
	prev := schema.SessionSummary{
		Goals:       []string{"Cross the Alps"},
		KeyEntities: []schema.Entity{{Name: "Gotthard", Type: "location", Relevance: 0.7}},
	}
	got := MergeSummaries(prev, schema.EmptySummary())
	assert.Equal(t, prev.Goals, got.Goals)
	assert.Equal(t, prev.KeyEntities, got.KeyEntities)
	assert.Equal(t, schema.SentimentNeutral, got.UserSentiment)
}
