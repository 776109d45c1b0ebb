package config

import (
	"strings"
	"time"

	"github.com/roadmate/roadmate/internal/config/provider"
	"github.com/roadmate/roadmate/internal/providers"
)

// MatchResult is the resolved LLM provider config and registry name for a model.
type MatchResult struct {
	Provider *provider.ProviderConfig
	Name     string // e.g. "openrouter", "ollama"
}

// MatchProvider resolves which provider config and registry entry to use for model.
// If model is empty, agents.defaults.model is used.
//
// Priority order:
//  1. agents.defaults.provider when set
//  2. Explicit provider prefix in the model string ("deepseek/deepseek-chat")
//  3. Keyword match in the model name (registry order)
//  4. Fallback: the first configured provider
func (c *Config) MatchProvider(model string) MatchResult {
	if model == "" {
		model = c.Agents.Defaults.Model
	}
	if name := c.Agents.Defaults.Provider; name != "" {
		if p := c.ProviderByName(name); p != nil {
			return MatchResult{Provider: p, Name: name}
		}
	}

	modelLower := strings.ToLower(model)
	modelNorm := strings.ReplaceAll(modelLower, "-", "_")
	modelPrefix, _, _ := strings.Cut(modelLower, "/")
	normalizedPrefix := strings.ReplaceAll(modelPrefix, "-", "_")

	kwMatches := func(kw string) bool {
		kwNorm := strings.ReplaceAll(kw, "-", "_")
		return strings.Contains(modelLower, kw) || strings.Contains(modelNorm, kwNorm)
	}

	for _, spec := range providers.PROVIDERS {
		p := c.ProviderByName(spec.Name)
		if p != nil && modelPrefix != "" && normalizedPrefix == spec.Name && p.Configured() {
			return MatchResult{Provider: p, Name: spec.Name}
		}
	}

	for _, spec := range providers.PROVIDERS {
		p := c.ProviderByName(spec.Name)
		if p == nil || !p.Configured() {
			continue
		}
		for _, kw := range spec.Keywords {
			if kwMatches(kw) {
				return MatchResult{Provider: p, Name: spec.Name}
			}
		}
	}

	for _, spec := range providers.PROVIDERS {
		p := c.ProviderByName(spec.Name)
		if p != nil && p.Configured() {
			return MatchResult{Provider: p, Name: spec.Name}
		}
	}
	return MatchResult{}
}

// GetAPIKey returns the API key for model (or "").
func (c *Config) GetAPIKey(model string) string {
	if p := c.MatchProvider(model).Provider; p != nil {
		return p.APIKey
	}
	return ""
}

// ProviderParams returns the construction parameters of the provider serving
// the default model.
func (c *Config) ProviderParams() providers.Params {
	d := c.Agents.Defaults
	params := providers.Params{
		DefaultModel:   d.Model,
		EmbeddingModel: d.EmbeddingModel,
		Timeout:        120 * time.Second,
	}
	m := c.MatchProvider(d.Model)
	params.ProviderName = m.Name
	if m.Provider != nil {
		params.APIKey = m.Provider.APIKey
		params.APIBase = m.Provider.APIBase
		params.ExtraHeaders = m.Provider.ExtraHeaders
		params.RequestsPerMinute = m.Provider.RequestsPerMinute
	}
	return params
}

// providerForModel returns the registry name matching model, or "".
func providerForModel(model string) string {
	if spec := providers.FindByModel(model); spec != nil {
		return spec.Name
	}
	return ""
}
