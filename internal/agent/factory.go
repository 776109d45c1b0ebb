package agent

import "github.com/roadmate/roadmate/internal/schema"

// Agent identities. They select the learned instructions and the cache key
// of each compiled context.
const (
	AgentAssistant = "assistant"
	AgentPlanner   = "planner"
	AgentExecutor  = "executor"
)

// AgentFactory creates the per-step loop runners. It holds construction-time
// dependencies; created runners are lightweight values that own only what
// they need for one step.
type AgentFactory struct {
	provider    schema.LLMProvider
	settings    LoopSettings // assistant, planner and aggregation steps
	subSettings LoopSettings // executor steps
	events      schema.EventStore
}

// NewFactory constructs an AgentFactory. events receives the tool_call and
// tool_result events of executor and direct steps; nil disables recording.
func NewFactory(provider schema.LLMProvider, settings, subSettings LoopSettings, events schema.EventStore) *AgentFactory {
	return &AgentFactory{
		provider:    provider,
		settings:    settings,
		subSettings: subSettings,
		events:      events,
	}
}

// NewAssistant returns the runner for direct answers and aggregation.
func (f *AgentFactory) NewAssistant() LoopRunner {
	return newLoopRunner(f.provider, f.settings, f.events)
}

// NewPlanner returns the runner for the planning step. Planners never call
// tools, so nothing is recorded.
func (f *AgentFactory) NewPlanner() LoopRunner {
	return newLoopRunner(f.provider, f.settings, nil)
}

// NewExecutor returns the runner for one sub-task.
func (f *AgentFactory) NewExecutor() LoopRunner {
	return newLoopRunner(f.provider, f.subSettings, f.events)
}

// Model returns the model the assistant steps use.
func (f *AgentFactory) Model() string {
	if f.settings.Model != "" {
		return f.settings.Model
	}
	return f.provider.DefaultModel()
}
