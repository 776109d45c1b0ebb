package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store/memstore"
)

type staticEmbedder struct {
	vec []float32
	err error
}

func (e staticEmbedder) Embed(context.Context, string) ([]float32, error) { return e.vec, e.err }

func TestSearchMemory(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	_, err := s.Add(ctx, schema.Memory{UserID: "u1", Content: "Owns a Tesla Model Y", Embedding: []float32{1, 0}})
	require.NoError(t, err)
	_, err = s.Add(ctx, schema.Memory{UserID: "u2", Content: "Owns a diesel van", Embedding: []float32{1, 0}})
	require.NoError(t, err)

	tool := NewSearchMemoryTool(staticEmbedder{vec: []float32{1, 0}}, s, 0.5)
	require.NotNil(t, tool)

	out, err := tool.Execute(WithTurn(ctx, TurnContext{UserID: "u1"}), map[string]any{"query": "what car"})
	require.NoError(t, err)
	assert.Contains(t, out, "Tesla")
	assert.NotContains(t, out, "diesel")

	out, err = tool.Execute(WithTurn(ctx, TurnContext{UserID: "u3"}), map[string]any{"query": "what car"})
	require.NoError(t, err)
	assert.Equal(t, "No matching memories.", out)
}

func TestSearchMemoryErrors(t *testing.T) {
	s := memstore.New()
	ctx := WithTurn(context.Background(), TurnContext{UserID: "u1"})

	_, err := NewSearchMemoryTool(staticEmbedder{vec: []float32{1}}, s, 0.5).Execute(context.Background(), map[string]any{"query": "x"})
	assert.Error(t, err, "no user in context")

	_, err = NewSearchMemoryTool(staticEmbedder{err: errors.New("down")}, s, 0.5).Execute(ctx, map[string]any{"query": "x"})
	assert.ErrorContains(t, err, "down")

	_, err = NewSearchMemoryTool(staticEmbedder{vec: []float32{1}}, s, 0.5).Execute(ctx, map[string]any{"query": " "})
	assert.Error(t, err)
}
