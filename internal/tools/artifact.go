package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roadmate/roadmate/internal/schema"
)

// ReadArtifactTool returns the full content of an artifact by handle. It is
// the only path by which artifact content reaches a model.
type ReadArtifactTool struct {
	store    schema.ArtifactStore
	maxChars int
}

// NewReadArtifactTool creates a ReadArtifactTool. maxChars defaults to 20000.
func NewReadArtifactTool(store schema.ArtifactStore, maxChars int) *ReadArtifactTool {
	if maxChars <= 0 {
		maxChars = 20000
	}
	return &ReadArtifactTool{store: store, maxChars: maxChars}
}

func (t *ReadArtifactTool) Name() string { return string(ToolReadArtifact) }
func (t *ReadArtifactTool) Description() string {
	return "Read the full content of an artifact listed under 'Available artifacts', by its handle."
}
func (t *ReadArtifactTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"handle": {
				"type": "string",
				"description": "Artifact handle, e.g. art_3f1c..."
			}
		},
		"required": ["handle"]
	}`)
}

func (t *ReadArtifactTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	handle, _ := params["handle"].(string)
	if handle == "" {
		return "", fmt.Errorf("handle is required")
	}

	a, err := t.store.Get(ctx, handle)
	if errors.Is(err, schema.ErrNotFound) {
		return "", fmt.Errorf("artifact %s does not exist", handle)
	}
	if err != nil {
		return "", fmt.Errorf("read artifact %s: %w", handle, err)
	}
	if tc := TurnCtx(ctx); tc.UserID != "" && a.UserID != tc.UserID {
		return "", fmt.Errorf("artifact %s does not exist", handle)
	}

	content := []rune(a.Content)
	truncated := len(content) > t.maxChars
	if truncated {
		content = content[:t.maxChars]
	}
	out, _ := json.Marshal(map[string]any{
		"handle":    a.Handle,
		"name":      a.Name,
		"type":      a.ArtifactType,
		"truncated": truncated,
		"content":   string(content),
	})
	return string(out), nil
}
