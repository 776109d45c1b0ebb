package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store/memstore"
)

func TestReadArtifact(t *testing.T) {
	s := memstore.New()
	arts := s.Artifacts()
	handle, err := arts.Create(context.Background(), schema.NewArtifact{
		UserID: "u1", ArtifactType: "itinerary", Name: "Lofoten loop", Content: strings.Repeat("day ", 50), Summary: "5 days",
	})
	require.NoError(t, err)

	tool := NewReadArtifactTool(arts, 40)
	ctx := WithTurn(context.Background(), TurnContext{UserID: "u1"})

	out, err := tool.Execute(ctx, map[string]any{"handle": handle})
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "Lofoten loop", doc["name"])
	assert.Equal(t, true, doc["truncated"])
	assert.Len(t, doc["content"], 40)

	got, err := arts.Get(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount, "reads touch the artifact")
}

func TestReadArtifactRejectsOtherUsersAndUnknownHandles(t *testing.T) {
	s := memstore.New()
	handle, err := s.Artifacts().Create(context.Background(), schema.NewArtifact{UserID: "u1", Name: "n", Content: "c"})
	require.NoError(t, err)
	tool := NewReadArtifactTool(s.Artifacts(), 0)

	_, err = tool.Execute(WithTurn(context.Background(), TurnContext{UserID: "u2"}), map[string]any{"handle": handle})
	assert.Error(t, err)
	_, err = tool.Execute(context.Background(), map[string]any{"handle": "art_missing"})
	assert.ErrorContains(t, err, "does not exist")
	_, err = tool.Execute(context.Background(), map[string]any{})
	assert.Error(t, err)
}
