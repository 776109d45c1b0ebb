package provider

const (
	ProviderCustom     = "custom"
	ProviderOpenRouter = "openrouter"
	ProviderOpenAI     = "openai"
	ProviderDeepSeek   = "deepseek"
	ProviderGemini     = "gemini"
	ProviderGroq       = "groq"
	ProviderMoonshot   = "moonshot"
	ProviderDashScope  = "dashscope"
	ProviderOllama     = "ollama"
	ProviderVLLM       = "vllm"
)

// ProviderConfig holds credentials and limits for one LLM endpoint.
type ProviderConfig struct {
	APIKey            string            `json:"apiKey" yaml:"apiKey"`
	APIBase           string            `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	ExtraHeaders      map[string]string `json:"extraHeaders,omitempty" yaml:"extraHeaders,omitempty"`
	RequestsPerMinute int               `json:"requestsPerMinute,omitempty" yaml:"requestsPerMinute,omitempty"`
}

// Configured reports whether the endpoint can be used. Local endpoints need
// no key, only a base URL.
func (p ProviderConfig) Configured() bool {
	return p.APIKey != "" || p.APIBase != ""
}

// ProvidersConfig holds credentials for every registered endpoint.
type ProvidersConfig struct {
	Custom     ProviderConfig `json:"custom" yaml:"custom"`
	OpenRouter ProviderConfig `json:"openrouter" yaml:"openrouter"`
	OpenAI     ProviderConfig `json:"openai" yaml:"openai"`
	DeepSeek   ProviderConfig `json:"deepseek" yaml:"deepseek"`
	Gemini     ProviderConfig `json:"gemini" yaml:"gemini"`
	Groq       ProviderConfig `json:"groq" yaml:"groq"`
	Moonshot   ProviderConfig `json:"moonshot" yaml:"moonshot"`
	DashScope  ProviderConfig `json:"dashscope" yaml:"dashscope"`
	Ollama     ProviderConfig `json:"ollama" yaml:"ollama"`
	VLLM       ProviderConfig `json:"vllm" yaml:"vllm"`
}

func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{}
}

// ByName returns a pointer to the ProviderConfig field matching the given
// registry name. Returns nil if the name is unknown.
func (p *ProvidersConfig) ByName(name string) *ProviderConfig {
	switch name {
	case ProviderCustom:
		return &p.Custom
	case ProviderOpenRouter:
		return &p.OpenRouter
	case ProviderOpenAI:
		return &p.OpenAI
	case ProviderDeepSeek:
		return &p.DeepSeek
	case ProviderGemini:
		return &p.Gemini
	case ProviderGroq:
		return &p.Groq
	case ProviderMoonshot:
		return &p.Moonshot
	case ProviderDashScope:
		return &p.DashScope
	case ProviderOllama:
		return &p.Ollama
	case ProviderVLLM:
		return &p.VLLM
	}
	return nil
}
