package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roadmate/roadmate/internal/schema"
)

// SearchMemoryTool looks up the current user's durable memories by meaning.
type SearchMemoryTool struct {
	embedder  schema.EmbeddingProvider
	index     schema.MemoryIndex
	threshold float64
}

// NewSearchMemoryTool creates a SearchMemoryTool.
func NewSearchMemoryTool(embedder schema.EmbeddingProvider, index schema.MemoryIndex, threshold float64) *SearchMemoryTool {
	return &SearchMemoryTool{embedder: embedder, index: index, threshold: threshold}
}

func (t *SearchMemoryTool) Name() string { return string(ToolSearchMemory) }
func (t *SearchMemoryTool) Description() string {
	return "Search what is known about the user (vehicle, preferences, past trips) by meaning."
}
func (t *SearchMemoryTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {
				"type": "string",
				"description": "What to look for"
			},
			"limit": {
				"type": "integer",
				"minimum": 1,
				"maximum": 20
			}
		},
		"required": ["query"]
	}`)
}

func (t *SearchMemoryTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	query, _ := params["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required")
	}
	userID := TurnCtx(ctx).UserID
	if userID == "" {
		return "", fmt.Errorf("no user in context")
	}
	limit := 5
	if v, ok := params["limit"].(float64); ok && v >= 1 {
		limit = min(int(v), 20)
	}

	vec, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	found, err := t.index.Search(ctx, vec, userID, t.threshold, limit)
	if err != nil {
		return "", fmt.Errorf("search memories: %w", err)
	}
	if len(found) == 0 {
		return "No matching memories.", nil
	}

	var sb strings.Builder
	for i, m := range found {
		fmt.Fprintf(&sb, "%d. %s (similarity %.2f)\n", i+1, m.Content, m.Similarity)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
