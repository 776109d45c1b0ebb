package providers

import (
	"time"

	"github.com/roadmate/roadmate/internal/schema"
)

// Params are the raw values needed to construct a provider. The caller
// extracts them from config.Config to avoid an import cycle.
type Params struct {
	APIKey            string
	APIBase           string
	ExtraHeaders      map[string]string
	DefaultModel      string
	EmbeddingModel    string
	ProviderName      string // registry name, e.g. "openrouter", "ollama"
	RequestsPerMinute int
	Timeout           time.Duration
}

// Provider is everything the agent layer needs from one endpoint.
type Provider interface {
	schema.LLMProvider
	schema.Completer
	schema.EmbeddingProvider
}

// New creates the provider for the given params. Every registered endpoint
// speaks the OpenAI wire protocol.
func New(p Params) Provider {
	return NewOpenAIProvider(p)
}
