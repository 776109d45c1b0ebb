// Package config defines the configuration schema for roadmate.
//
// JSON and YAML keys use camelCase.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/roadmate/roadmate/internal/agent"
	"github.com/roadmate/roadmate/internal/config/provider"
)

// AgentDefaults configures the assistant, planner and aggregation steps.
type AgentDefaults struct {
	agent.LoopSettings `yaml:",inline"`

	// Provider forces a registry entry; empty matches by model name.
	Provider       string `json:"provider,omitempty" yaml:"provider,omitempty"`
	EmbeddingModel string `json:"embeddingModel" yaml:"embeddingModel"`
	SystemPrompt   string `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	// UserID is the identity used by the CLI when none is given.
	UserID string `json:"userId" yaml:"userId"`
}

// AgentsConfig holds the loop settings of the main agent and of executors.
type AgentsConfig struct {
	Defaults  AgentDefaults      `json:"defaults" yaml:"defaults"`
	SubAgents agent.LoopSettings `json:"subAgents" yaml:"subAgents"`
}

func defaultAgentsConfig() AgentsConfig {
	settings := agent.DefaultLoopSettings()
	settings.Model = "gpt-4o-mini"

	sub := agent.DefaultLoopSettings()
	sub.MaxIterations = 6

	return AgentsConfig{
		Defaults: AgentDefaults{
			LoopSettings:   settings,
			EmbeddingModel: "text-embedding-3-small",
			UserID:         "local",
		},
		SubAgents: sub,
	}
}

// CompactionConfig controls the session compactor.
type CompactionConfig struct {
	Threshold           int      `json:"threshold" yaml:"threshold"`
	ToolResultLimit     int      `json:"toolResultLimit" yaml:"toolResultLimit"`
	MaxExtractionTokens int      `json:"maxExtractionTokens" yaml:"maxExtractionTokens"`
	LockTTL             Duration `json:"lockTtl" yaml:"lockTtl"`
	// EmbedSummaries stores a vector of each new summary.
	EmbedSummaries bool `json:"embedSummaries" yaml:"embedSummaries"`
}

func defaultCompactionConfig() CompactionConfig {
	def := agent.DefaultCompactorConfig()
	return CompactionConfig{
		Threshold:           def.Threshold,
		ToolResultLimit:     def.ToolResultLimit,
		MaxExtractionTokens: def.MaxExtractionTokens,
		LockTTL:             Duration(def.LockTTL),
	}
}

// Compactor converts c to the agent-level configuration.
func (c CompactionConfig) Compactor() agent.CompactorConfig {
	return agent.CompactorConfig{
		Threshold:           c.Threshold,
		ToolResultLimit:     c.ToolResultLimit,
		MaxExtractionTokens: c.MaxExtractionTokens,
		LockTTL:             c.LockTTL.Std(),
	}
}

// OrchestratorConfig controls sub-agent orchestration.
type OrchestratorConfig struct {
	MaxSubTasks          int `json:"maxSubTasks" yaml:"maxSubTasks"`
	MaxParallelExecutors int `json:"maxParallelExecutors" yaml:"maxParallelExecutors"`
	ArtifactThreshold    int `json:"artifactThreshold" yaml:"artifactThreshold"`
}

func defaultOrchestratorConfig() OrchestratorConfig {
	def := agent.DefaultOrchestratorConfig()
	return OrchestratorConfig{
		MaxSubTasks:          def.MaxSubTasks,
		MaxParallelExecutors: def.MaxParallelExecutors,
		ArtifactThreshold:    def.ArtifactThreshold,
	}
}

// StorageConfig selects the stores.
type StorageConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `json:"driver" yaml:"driver"`
	Path   string `json:"path" yaml:"path"`
	// PostgresDSN, when set, moves the memory index to PostgreSQL/pgvector.
	PostgresDSN   string `json:"postgresDsn,omitempty" yaml:"postgresDsn,omitempty"`
	EmbeddingDims int    `json:"embeddingDims" yaml:"embeddingDims"`
}

func defaultStorageConfig() StorageConfig {
	return StorageConfig{
		Driver:        "sqlite",
		Path:          "~/.roadmate/roadmate.db",
		EmbeddingDims: 1536,
	}
}

// DatabasePath returns the expanded SQLite path.
func (s StorageConfig) DatabasePath() string { return expandHome(s.Path) }

// LockConfig selects the compaction lock backend.
type LockConfig struct {
	// Driver is "local" or "redis".
	Driver        string `json:"driver" yaml:"driver"`
	RedisAddr     string `json:"redisAddr,omitempty" yaml:"redisAddr,omitempty"`
	RedisPassword string `json:"redisPassword,omitempty" yaml:"redisPassword,omitempty"`
	RedisDB       int    `json:"redisDb,omitempty" yaml:"redisDb,omitempty"`
	Prefix        string `json:"prefix" yaml:"prefix"`
}

func defaultLockConfig() LockConfig {
	return LockConfig{Driver: "local", Prefix: "roadmate:lock:"}
}

// SweeperConfig controls the idle-session sweeper.
type SweeperConfig struct {
	Schedule    string   `json:"schedule" yaml:"schedule"`
	IdleTimeout Duration `json:"idleTimeout" yaml:"idleTimeout"`
	BatchSize   int      `json:"batchSize" yaml:"batchSize"`
}

func defaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		Schedule:    "@every 5m",
		IdleTimeout: Duration(30 * time.Minute),
		BatchSize:   50,
	}
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // "text" or "json"
	// File, when set, receives the log through a size-rotated writer.
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"maxSizeMb" yaml:"maxSizeMb"`
	MaxBackups int    `json:"maxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `json:"maxAgeDays" yaml:"maxAgeDays"`
}

func defaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "text", MaxSizeMB: 20, MaxBackups: 3, MaxAgeDays: 14}
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Pretty  bool `json:"pretty" yaml:"pretty"`
}

// ToolsConfig holds tool-level settings.
type ToolsConfig struct {
	WebMaxChars      int `json:"webMaxChars" yaml:"webMaxChars"`
	ArtifactMaxChars int `json:"artifactMaxChars" yaml:"artifactMaxChars"`
}

func defaultToolsConfig() ToolsConfig {
	return ToolsConfig{WebMaxChars: 20000, ArtifactMaxChars: 20000}
}

// ---- Root config -----------------------------------------------------------

// Config is the root configuration object, loaded from ~/.roadmate/config.json.
type Config struct {
	Agents       AgentsConfig             `json:"agents" yaml:"agents"`
	Compiler     agent.CompileConfig      `json:"compiler" yaml:"compiler"`
	Compaction   CompactionConfig         `json:"compaction" yaml:"compaction"`
	Orchestrator OrchestratorConfig       `json:"orchestrator" yaml:"orchestrator"`
	Providers    provider.ProvidersConfig `json:"providers" yaml:"providers"`
	Storage      StorageConfig            `json:"storage" yaml:"storage"`
	Lock         LockConfig               `json:"lock" yaml:"lock"`
	Sweeper      SweeperConfig            `json:"sweeper" yaml:"sweeper"`
	Logging      LoggingConfig            `json:"logging" yaml:"logging"`
	Tracing      TracingConfig            `json:"tracing" yaml:"tracing"`
	Tools        ToolsConfig              `json:"tools" yaml:"tools"`
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() Config {
	return Config{
		Agents:       defaultAgentsConfig(),
		Compiler:     agent.DefaultCompileConfig(),
		Compaction:   defaultCompactionConfig(),
		Orchestrator: defaultOrchestratorConfig(),
		Providers:    provider.DefaultProvidersConfig(),
		Storage:      defaultStorageConfig(),
		Lock:         defaultLockConfig(),
		Sweeper:      defaultSweeperConfig(),
		Logging:      defaultLoggingConfig(),
		Tools:        defaultToolsConfig(),
	}
}

// OrchestratorSettings converts the orchestrator and compiler sections to the
// agent-level configuration.
func (c *Config) OrchestratorSettings() agent.OrchestratorConfig {
	return agent.OrchestratorConfig{
		MaxSubTasks:          c.Orchestrator.MaxSubTasks,
		MaxParallelExecutors: c.Orchestrator.MaxParallelExecutors,
		ArtifactThreshold:    c.Orchestrator.ArtifactThreshold,
		Compile:              c.Compiler,
	}
}

// ProviderByName returns a pointer to the ProviderConfig matching the given
// registry name. Returns nil if unknown.
func (c *Config) ProviderByName(name string) *provider.ProviderConfig {
	return c.Providers.ByName(name)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
