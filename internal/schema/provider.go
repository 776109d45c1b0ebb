package schema

import "context"

// ChatOptions configures a single LLM chat request.
type ChatOptions struct {
	Model       string
	MaxTokens   int
	Temperature float64
	JSONMode    bool
}

// ToolCallRequest is one tool invocation returned by the model.
type ToolCallRequest struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// Usage reports token accounting for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// LLMResponse is the normalised response from any LLM provider.
type LLMResponse struct {
	Content      string
	ToolCalls    []ToolCallRequest
	FinishReason string
	Usage        Usage
}

// HasToolCalls reports whether the response contains at least one tool call.
func (r LLMResponse) HasToolCalls() bool { return len(r.ToolCalls) > 0 }

// LLMProvider is the chat interface used by planner, executor and aggregation steps.
type LLMProvider interface {
	Chat(ctx context.Context, messages Messages, tools []ToolDefinition, opts ChatOptions) (LLMResponse, error)
	DefaultModel() string
}

// Completer is the single-prompt completion used for summary extraction.
type Completer interface {
	Complete(ctx context.Context, prompt string, maxTokens int) (string, error)
}

// EmbeddingProvider turns text into a vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

func NewChatOptions(model string, maxTokens int, temperature float64) ChatOptions {
	return ChatOptions{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}
