package providers

import "strings"

// ProviderSpec is the metadata record for one OpenAI-compatible endpoint.
type ProviderSpec struct {
	Name        string   // config name, e.g. "openrouter"
	Keywords    []string // model-name keywords for matching (lowercase)
	DisplayName string   // shown in `roadmate status`

	IsGateway           bool   // routes any model (OpenRouter, ...)
	IsLocal             bool   // local deployment (vLLM, Ollama)
	DetectByKeyPrefix   string // api_key prefix identifying a gateway
	DetectByBaseKeyword string // substring of api_base identifying a gateway
	DefaultAPIBase      string // base URL used when none is configured

	StripModelPrefix bool // strip "provider/" before sending the model name
}

// Label returns the display name, defaulting to the capitalised Name.
func (s ProviderSpec) Label() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return strings.ToUpper(s.Name[:1]) + s.Name[1:]
}

// PROVIDERS is the registry. Order is match priority.
var PROVIDERS = []ProviderSpec{
	{
		Name:        "custom",
		DisplayName: "Custom",
	},
	{
		Name:                "openrouter",
		Keywords:            []string{"openrouter"},
		DisplayName:         "OpenRouter",
		IsGateway:           true,
		DetectByKeyPrefix:   "sk-or-",
		DetectByBaseKeyword: "openrouter",
		DefaultAPIBase:      "https://openrouter.ai/api/v1",
	},
	{
		Name:        "openai",
		Keywords:    []string{"openai", "gpt", "text-embedding"},
		DisplayName: "OpenAI",
	},
	{
		Name:           "deepseek",
		Keywords:       []string{"deepseek"},
		DisplayName:    "DeepSeek",
		DefaultAPIBase: "https://api.deepseek.com/v1",
	},
	{
		Name:           "gemini",
		Keywords:       []string{"gemini"},
		DisplayName:    "Gemini",
		DefaultAPIBase: "https://generativelanguage.googleapis.com/v1beta/openai",
	},
	{
		Name:           "groq",
		Keywords:       []string{"groq"},
		DisplayName:    "Groq",
		DefaultAPIBase: "https://api.groq.com/openai/v1",
	},
	{
		Name:           "moonshot",
		Keywords:       []string{"moonshot", "kimi"},
		DisplayName:    "Moonshot",
		DefaultAPIBase: "https://api.moonshot.ai/v1",
	},
	{
		Name:           "dashscope",
		Keywords:       []string{"qwen", "dashscope"},
		DisplayName:    "DashScope",
		DefaultAPIBase: "https://dashscope.aliyuncs.com/compatible-mode/v1",
	},
	{
		Name:                "ollama",
		Keywords:            []string{"ollama"},
		DisplayName:         "Ollama",
		IsLocal:             true,
		DetectByBaseKeyword: ":11434",
		DefaultAPIBase:      "http://localhost:11434/v1",
		StripModelPrefix:    true,
	},
	{
		Name:        "vllm",
		Keywords:    []string{"vllm"},
		DisplayName: "vLLM/Local",
		IsLocal:     true,
	},
}

// FindByModel matches a standard provider by model-name keyword
// (case-insensitive). Gateways and local providers are matched by
// FindGateway instead.
func FindByModel(model string) *ProviderSpec {
	modelLower := strings.ToLower(model)
	modelNorm := strings.ReplaceAll(modelLower, "-", "_")
	modelPrefix, _, _ := strings.Cut(modelLower, "/")
	normalizedPrefix := strings.ReplaceAll(modelPrefix, "-", "_")

	var std []int
	for i := range PROVIDERS {
		if !PROVIDERS[i].IsGateway && !PROVIDERS[i].IsLocal {
			std = append(std, i)
		}
	}

	// Prefer explicit provider prefix.
	for _, i := range std {
		if modelPrefix != "" && normalizedPrefix == PROVIDERS[i].Name {
			return &PROVIDERS[i]
		}
	}

	for _, i := range std {
		spec := &PROVIDERS[i]
		for _, kw := range spec.Keywords {
			kwNorm := strings.ReplaceAll(kw, "-", "_")
			if strings.Contains(modelLower, kw) || strings.Contains(modelNorm, kwNorm) {
				return spec
			}
		}
	}
	return nil
}

// FindGateway detects a gateway or local provider.
// Priority: explicit provider name, then api_key prefix, then api_base keyword.
func FindGateway(providerName, apiKey, apiBase string) *ProviderSpec {
	if providerName != "" {
		if s := FindByName(providerName); s != nil && (s.IsGateway || s.IsLocal) {
			return s
		}
	}
	for i := range PROVIDERS {
		spec := &PROVIDERS[i]
		if spec.DetectByKeyPrefix != "" && strings.HasPrefix(apiKey, spec.DetectByKeyPrefix) {
			return spec
		}
		if spec.DetectByBaseKeyword != "" && strings.Contains(apiBase, spec.DetectByBaseKeyword) {
			return spec
		}
	}
	return nil
}

// FindByName returns the ProviderSpec whose Name equals name.
func FindByName(name string) *ProviderSpec {
	for i := range PROVIDERS {
		if PROVIDERS[i].Name == name {
			return &PROVIDERS[i]
		}
	}
	return nil
}

// resolved is the outcome of matching a configuration against the registry.
type resolved struct {
	gateway *ProviderSpec // non-nil for gateway/local providers
	spec    *ProviderSpec // non-nil for standard providers
	apiBase string
}

// resolve picks the spec and API base for a configuration.
func resolve(providerName, apiKey, apiBase, model string) resolved {
	r := resolved{gateway: FindGateway(providerName, apiKey, apiBase)}
	if r.gateway == nil {
		r.spec = FindByName(providerName)
		if r.spec == nil {
			r.spec = FindByModel(model)
		}
	}

	r.apiBase = apiBase
	if r.apiBase == "" {
		switch {
		case r.gateway != nil && r.gateway.DefaultAPIBase != "":
			r.apiBase = r.gateway.DefaultAPIBase
		case r.spec != nil && r.spec.DefaultAPIBase != "":
			r.apiBase = r.spec.DefaultAPIBase
		default:
			r.apiBase = "https://api.openai.com/v1"
		}
	}
	r.apiBase = strings.TrimRight(r.apiBase, "/")
	return r
}

// model strips routing prefixes the endpoint does not understand.
func (r resolved) model(model string) string {
	if r.gateway != nil {
		if r.gateway.StripModelPrefix {
			if i := strings.LastIndex(model, "/"); i >= 0 {
				return model[i+1:]
			}
			return model
		}
		full := r.gateway.Name + "/"
		if strings.HasPrefix(strings.ToLower(model), full) {
			return model[len(full):]
		}
		return model
	}

	if r.spec != nil {
		full := r.spec.Name + "/"
		if strings.HasPrefix(strings.ToLower(model), full) {
			return model[len(full):]
		}
	}
	if prefix, rest, ok := strings.Cut(model, "/"); ok {
		norm := strings.ReplaceAll(strings.ToLower(prefix), "-", "_")
		if FindByName(norm) != nil {
			return rest
		}
	}
	return model
}
