package agent

import (
	"errors"
	"fmt"
)

// Scope selects which event types a compiled context exposes.
type Scope string

const (
	ScopeDefault  Scope = "default"
	ScopePlanner  Scope = "planner"
	ScopeExecutor Scope = "executor"
)

// CompileConfig controls one compilation: visibility scope, per-tier item caps,
// the memory similarity threshold and the token sub-budgets.
type CompileConfig struct {
	AgentScope      Scope   `json:"agentScope" yaml:"agentScope"`
	MaxRecentEvents int     `json:"maxRecentEvents" yaml:"maxRecentEvents"`
	MaxMemories     int     `json:"maxMemories" yaml:"maxMemories"`
	MaxArtifacts    int     `json:"maxArtifacts" yaml:"maxArtifacts"`
	MemoryThreshold float64 `json:"memoryThreshold" yaml:"memoryThreshold"`

	// ArtifactsSessionOnly restricts tier 4 to artifacts of the current session.
	ArtifactsSessionOnly bool `json:"artifactsSessionOnly" yaml:"artifactsSessionOnly"`

	SystemPromptBudget   int `json:"systemPromptBudget" yaml:"systemPromptBudget"`
	WorkingContextBudget int `json:"workingContextBudget" yaml:"workingContextBudget"`
	MemoryBudget         int `json:"memoryBudget" yaml:"memoryBudget"`
	ArtifactBudget       int `json:"artifactBudget" yaml:"artifactBudget"`
	MaxTotalTokens       int `json:"maxTotalTokens" yaml:"maxTotalTokens"`
}

// DefaultCompileConfig returns the default-scope configuration.
func DefaultCompileConfig() CompileConfig {
	return CompileConfig{
		AgentScope:           ScopeDefault,
		MaxRecentEvents:      20,
		MaxMemories:          5,
		MaxArtifacts:         5,
		MemoryThreshold:      0.7,
		SystemPromptBudget:   1000,
		WorkingContextBudget: 4000,
		MemoryBudget:         1500,
		ArtifactBudget:       500,
		MaxTotalTokens:       7000,
	}
}

// WithScope returns a copy of c using scope s.
func (c CompileConfig) WithScope(s Scope) CompileConfig {
	c.AgentScope = s
	return c
}

// Validate reports configuration errors.
func (c CompileConfig) Validate() error {
	_, err := c.normalized()
	return err
}

func (c CompileConfig) normalized() (CompileConfig, error) {
	if c.AgentScope == "" {
		c.AgentScope = ScopeDefault
	}
	var errs []error
	switch c.AgentScope {
	case ScopeDefault, ScopePlanner, ScopeExecutor:
	default:
		errs = append(errs, fmt.Errorf("unknown agent scope %q", c.AgentScope))
	}
	if c.MaxRecentEvents < 0 || c.MaxMemories < 0 || c.MaxArtifacts < 0 {
		errs = append(errs, errors.New("item caps must not be negative"))
	}
	if c.MemoryThreshold < 0 || c.MemoryThreshold > 1 {
		errs = append(errs, fmt.Errorf("memory threshold %v outside [0,1]", c.MemoryThreshold))
	}
	if c.SystemPromptBudget < 0 || c.WorkingContextBudget < 0 || c.MemoryBudget < 0 || c.ArtifactBudget < 0 {
		errs = append(errs, errors.New("token budgets must not be negative"))
	}

	sum := c.SystemPromptBudget + c.WorkingContextBudget + c.MemoryBudget + c.ArtifactBudget
	if c.MaxTotalTokens == 0 {
		c.MaxTotalTokens = sum
	}
	if sum > c.MaxTotalTokens {
		errs = append(errs, fmt.Errorf("sub-budgets sum to %d, above maxTotalTokens %d", sum, c.MaxTotalTokens))
	}

	if err := errors.Join(errs...); err != nil {
		return c, fmt.Errorf("invalid compile config: %w", err)
	}
	return c, nil
}
