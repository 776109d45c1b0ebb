// Package dependency wires core roadmate services using go.uber.org/dig.
package dependency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/dig"

	"github.com/roadmate/roadmate/internal/agent"
	"github.com/roadmate/roadmate/internal/config"
	"github.com/roadmate/roadmate/internal/lock"
	"github.com/roadmate/roadmate/internal/providers"
	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/store/memstore"
	"github.com/roadmate/roadmate/internal/store/postgres"
	"github.com/roadmate/roadmate/internal/store/sqlite"
	"github.com/roadmate/roadmate/internal/sweeper"
	"github.com/roadmate/roadmate/internal/tools"
)

// Container holds the resolved core service singletons.
// Callers use the typed getter methods; they never need to import dig directly.
type Container struct {
	provider  schema.LLMProvider
	stores    *Stores
	compiler  *agent.ContextCompiler
	compactor *agent.SessionCompactor
	assistant *agent.Assistant
	sweeper   *sweeper.Service
	tools     *tools.ToolList
	closers   []func() error
}

func (c *Container) Provider() schema.LLMProvider { return c.provider }
func (c *Container) Stores() *Stores { return c.stores }
func (c *Container) Compiler() *agent.ContextCompiler { return c.compiler }
func (c *Container) Compactor() *agent.SessionCompactor { return c.compactor }
func (c *Container) Assistant() *agent.Assistant { return c.assistant }
func (c *Container) Sweeper() *sweeper.Service { return c.sweeper }
func (c *Container) Tools() *tools.ToolList { return c.tools }

// Close waits for scheduled compactions and releases stores and connections.
func (c *Container) Close() error {
	if c.compactor != nil {
		c.compactor.Wait()
	}
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stores groups the persistence interfaces behind one configured backend.
type Stores struct {
	Events       schema.EventStore
	Sessions     schema.SessionStore
	Memories     schema.MemoryIndex
	Artifacts    schema.ArtifactStore
	Profiles     schema.ProfileLookup
	Instructions schema.InstructionStore

	// SQLite is set when the sqlite driver is active.
	SQLite *sqlite.DB

	closers []func() error
}

// LLMModel is a named string type so dig can distinguish it from plain
// strings when injecting the effective model name.
type LLMModel string

// AgentTools wraps the tool list offered to every turn.
type AgentTools struct{ *tools.ToolList }

// Option customises New.
type Option func(*options)

type options struct {
	provider providers.Provider
}

// WithProvider replaces the configured LLM endpoint.
func WithProvider(p providers.Provider) Option {
	return func(o *options) { o.provider = p }
}

// New builds and wires all core services from cfg.
func New(cfg *config.Config, opts ...Option) (*Container, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := dig.New()
	provide := func(constructor any, opts ...dig.ProvideOption) error {
		if err := d.Provide(constructor, opts...); err != nil {
			return fmt.Errorf("wire: %w", err)
		}
		return nil
	}

	steps := []error{
		provide(func() *config.Config { return cfg }),
		provide(func() (providers.Provider, error) {
			if o.provider != nil {
				return o.provider, nil
			}
			return newProvider(cfg)
		}),
		provide(func(p providers.Provider) schema.LLMProvider { return p }),
		provide(func(p providers.Provider) schema.Completer { return p }),
		provide(func(p providers.Provider) schema.EmbeddingProvider { return p }),
		provide(resolveLLMModel),
		provide(newStores),
		provide(newLocker),
		provide(newAgentTools),
		provide(newCompiler),
		provide(newCompactor),
		provide(newFactory),
		provide(newOrchestrator),
		provide(newAssistant),
		provide(newSweeper),
	}
	if err := errors.Join(steps...); err != nil {
		return nil, err
	}

	var result *Container
	err := d.Invoke(func(
		provider schema.LLMProvider,
		stores *Stores,
		lk lockHandle,
		compiler *agent.ContextCompiler,
		compactor *agent.SessionCompactor,
		assistant *agent.Assistant,
		sw *sweeper.Service,
		agentTools AgentTools,
	) {
		result = &Container{
			provider:  provider,
			stores:    stores,
			compiler:  compiler,
			compactor: compactor,
			assistant: assistant,
			sweeper:   sw,
			tools:     agentTools.ToolList,
		}
		result.closers = append(result.closers, stores.closers...)
		if lk.close != nil {
			result.closers = append(result.closers, lk.close)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("build container: %w", dig.RootCause(err))
	}
	return result, nil
}

func newProvider(cfg *config.Config) (providers.Provider, error) {
	model := cfg.Agents.Defaults.Model
	params := cfg.ProviderParams()
	if params.ProviderName == "" {
		return nil, fmt.Errorf("no provider configured for model %q: edit %s or set %sAPI_KEY",
			model, config.ConfigPath(), config.EnvPrefix)
	}
	slog.Debug("provider resolved", "provider", params.ProviderName, "model", model)
	return providers.New(params), nil
}

func resolveLLMModel(cfg *config.Config, p schema.LLMProvider) LLMModel {
	m := cfg.Agents.Defaults.Model
	if m == "" {
		m = p.DefaultModel()
	}
	return LLMModel(m)
}

func newStores(cfg *config.Config) (*Stores, error) {
	var s Stores

	switch cfg.Storage.Driver {
	case "memory":
		mem := memstore.New()
		s.Events, s.Sessions, s.Memories = mem, mem, mem
		s.Artifacts, s.Profiles, s.Instructions = mem.Artifacts(), mem, mem
	case "", "sqlite":
		db, err := sqlite.Open(cfg.Storage.DatabasePath())
		if err != nil {
			return nil, err
		}
		s.SQLite = db
		s.Events, s.Sessions, s.Memories = db, db, db
		s.Artifacts, s.Profiles, s.Instructions = db.Artifacts(), db, db
		s.closers = append(s.closers, db.Close)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if dsn := cfg.Storage.PostgresDSN; dsn != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		idx, err := postgres.Open(ctx, dsn, cfg.Storage.EmbeddingDims)
		if err != nil {
			for _, c := range s.closers {
				_ = c()
			}
			return nil, err
		}
		s.Memories = idx
		s.closers = append(s.closers, func() error { idx.Close(); return nil })
	}
	return &s, nil
}

// lockHandle carries the locker and its cleanup.
type lockHandle struct {
	locker schema.Locker
	close  func() error
}

func newLocker(cfg *config.Config) (lockHandle, error) {
	switch cfg.Lock.Driver {
	case "", "local":
		return lockHandle{locker: lock.NewLocal()}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Lock.RedisAddr,
			Password: cfg.Lock.RedisPassword,
			DB:       cfg.Lock.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return lockHandle{}, fmt.Errorf("connect redis %s: %w", cfg.Lock.RedisAddr, err)
		}
		return lockHandle{locker: lock.NewRedis(client, cfg.Lock.Prefix), close: client.Close}, nil
	default:
		return lockHandle{}, fmt.Errorf("unknown lock driver %q", cfg.Lock.Driver)
	}
}

func newAgentTools(cfg *config.Config, s *Stores, embedder schema.EmbeddingProvider) AgentTools {
	registry := tools.NewRegistryBuilder().
		WithTool(tools.NewWebFetchTool(cfg.Tools.WebMaxChars)).
		WithTool(tools.NewReadArtifactTool(s.Artifacts, cfg.Tools.ArtifactMaxChars)).
		WithTool(tools.NewSearchMemoryTool(embedder, s.Memories, cfg.Compiler.MemoryThreshold)).
		Build()
	return AgentTools{registry.AllTools()}
}

func newCompiler(cfg *config.Config, s *Stores, embedder schema.EmbeddingProvider) *agent.ContextCompiler {
	return agent.NewContextCompiler(cfg.Agents.Defaults.SystemPrompt, agent.CompilerDeps{
		Events:       s.Events,
		Sessions:     s.Sessions,
		Memories:     s.Memories,
		Artifacts:    s.Artifacts,
		Embedder:     embedder,
		Profiles:     s.Profiles,
		Instructions: s.Instructions,
	})
}

func newCompactor(
	cfg *config.Config,
	s *Stores,
	llm schema.Completer,
	embedder schema.EmbeddingProvider,
	lk lockHandle,
) *agent.SessionCompactor {
	opts := []agent.CompactorOption{agent.WithLocker(lk.locker)}
	if cfg.Compaction.EmbedSummaries {
		opts = append(opts, agent.WithSummaryEmbedder(embedder))
	}
	return agent.NewSessionCompactor(s.Events, s.Sessions, llm, cfg.Compaction.Compactor(), opts...)
}

func newFactory(
	cfg *config.Config,
	p schema.LLMProvider,
	m LLMModel,
	s *Stores,
	compactor *agent.SessionCompactor,
) *agent.AgentFactory {
	settings := cfg.Agents.Defaults.LoopSettings
	settings.Model = string(m)
	sub := cfg.Agents.SubAgents
	if sub.Model == "" {
		sub.Model = string(m)
	}
	return agent.NewFactory(p, settings, sub, agent.ScheduleOnAppend(s.Events, compactor))
}

func newOrchestrator(
	cfg *config.Config,
	compiler *agent.ContextCompiler,
	factory *agent.AgentFactory,
	s *Stores,
) *agent.SubAgentOrchestrator {
	return agent.NewSubAgentOrchestrator(compiler, factory, s.Artifacts, cfg.OrchestratorSettings())
}

func newAssistant(
	s *Stores,
	orchestrator *agent.SubAgentOrchestrator,
	compactor *agent.SessionCompactor,
	t AgentTools,
	m LLMModel,
) *agent.Assistant {
	return agent.NewAssistant(s.Sessions, s.Events, orchestrator, compactor, t.ToolList, string(m))
}

func newSweeper(cfg *config.Config, s *Stores, assistant *agent.Assistant) *sweeper.Service {
	return sweeper.NewService(s.Sessions, assistant, sweeper.Options{
		Schedule:    cfg.Sweeper.Schedule,
		IdleTimeout: cfg.Sweeper.IdleTimeout.Std(),
		BatchSize:   cfg.Sweeper.BatchSize,
	})
}
