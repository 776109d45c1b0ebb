package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSessionSummary_FillsMissingFields(t *testing.T) {
	s, err := ParseSessionSummary([]byte(`{"goals":["Reach Denver by Friday"]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"Reach Denver by Friday"}, s.Goals)
	assert.NotNil(t, s.DecisionsMade)
	assert.NotNil(t, s.KeyEntities)
	assert.NotNil(t, s.OpenThreads)
	assert.NotNil(t, s.TopicsDiscussed)
	assert.NotNil(t, s.ActionsTaken)
	assert.NotNil(t, s.LearnedPreferences)
	assert.Equal(t, SentimentNeutral, s.UserSentiment)
}

func TestParseSessionSummary_WrongContainerTypes(t *testing.T) {
	raw := `{
		"goals": "not a list",
		"key_entities": {"name": "Denver"},
		"open_threads": [1, "check tyre pressure", null],
		"user_sentiment": 42,
		"learned_preferences": [{"preference": "avoid tolls", "confidence": "high"}, {"preference": "scenic routes", "confidence": 0.9}]
	}`
	s, err := ParseSessionSummary([]byte(raw))
	require.NoError(t, err)

	assert.Empty(t, s.Goals)
	assert.Empty(t, s.KeyEntities)
	assert.Equal(t, []string{"check tyre pressure"}, s.OpenThreads)
	assert.Equal(t, SentimentNeutral, s.UserSentiment)
	require.Len(t, s.LearnedPreferences, 1)
	assert.Equal(t, "scenic routes", s.LearnedPreferences[0].Preference)
}

func TestParseSessionSummary_NotJSON(t *testing.T) {
	s, err := ParseSessionSummary([]byte("Sure! Here is the summary."))
	require.Error(t, err)
	assert.Equal(t, EmptySummary(), s)
}

func TestNormalize_CoercesEnumsAndClamps(t *testing.T) {
	s := SessionSummary{
		KeyEntities: []Entity{
			{Name: " Moab ", Type: "City", Relevance: 1.7},
			{Name: "", Type: "person", Relevance: 0.5},
		},
		ActionsTaken: []ActionTaken{{Action: "book campsite", Result: "done"}},
		LearnedPreferences: []Preference{
			{Preference: "early starts", Confidence: -0.2},
		},
		UserSentiment: "Positive",
	}
	s.Normalize()

	require.Len(t, s.KeyEntities, 1)
	assert.Equal(t, Entity{Name: "Moab", Type: "item", Relevance: 1}, s.KeyEntities[0])
	assert.Equal(t, ResultPartial, s.ActionsTaken[0].Result)
	assert.Equal(t, 0.0, s.LearnedPreferences[0].Confidence)
	assert.Equal(t, SentimentPositive, s.UserSentiment)
	assert.NotNil(t, s.Goals)
}

func TestValidate(t *testing.T) {
	s := EmptySummary()
	s.KeyEntities = append(s.KeyEntities, Entity{Name: "Subaru Outback", Type: "vehicle", Relevance: 0.8})
	s.ActionsTaken = append(s.ActionsTaken, ActionTaken{Action: "checked weather", ToolUsed: "web_fetch", Result: ResultSuccess})
	require.NoError(t, s.Validate())

	s.UserSentiment = "ecstatic"
	assert.Error(t, s.Validate())
}

func TestSummaryJSONSchema_HasEnums(t *testing.T) {
	raw, err := SummaryJSONSchema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	props := doc["properties"].(map[string]any)
	sentiment := props["user_sentiment"].(map[string]any)
	assert.ElementsMatch(t, []any{"positive", "neutral", "negative", "mixed"}, sentiment["enum"])
}

func TestIsEmpty(t *testing.T) {
	assert.True(t, EmptySummary().IsEmpty())

	s := EmptySummary()
	s.TopicsDiscussed = []string{"fuel stops"}
	assert.False(t, s.IsEmpty())
}
