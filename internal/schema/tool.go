package schema

import (
	"context"
	"encoding/json"
)

// Tool is the interface all LLM-callable tools must satisfy.
type Tool interface {
	Name() string
	Description() string
	// Parameters returns the JSON Schema (as raw JSON bytes) for this tool's parameters.
	Parameters() json.RawMessage
	Execute(ctx context.Context, params map[string]any) (string, error)
}

// ToolDefinition is the function declaration sent to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}
