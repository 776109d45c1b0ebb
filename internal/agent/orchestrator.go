package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/shared/llmutils"
	"github.com/roadmate/roadmate/internal/tools"
)

// FatalResponse is shown to the user when a turn cannot be answered at all.
const FatalResponse = "I encountered an error processing your request."

// complexIndicators route a request to the planner/executor path.
var complexIndicators = []string{
	"plan a trip",
	"plan my trip",
	"analyze my",
	"compare",
	"optimize",
	"multi-day",
	"itinerary",
	"road trip",
	"step by step",
	"budget breakdown",
}

// ShouldUseSubAgents reports whether message contains a complex-task
// indicator phrase.
func ShouldUseSubAgents(message string) bool {
	lower := strings.ToLower(message)
	for _, phrase := range complexIndicators {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

// OrchestratorConfig tunes the SubAgentOrchestrator.
type OrchestratorConfig struct {
	MaxSubTasks          int `json:"maxSubTasks" yaml:"maxSubTasks"`
	MaxParallelExecutors int `json:"maxParallelExecutors" yaml:"maxParallelExecutors"`
	// ArtifactThreshold is the executor output length, in characters, above
	// which the output is stored as an artifact.
	ArtifactThreshold int `json:"artifactThreshold" yaml:"artifactThreshold"`

	Compile CompileConfig `json:"compile" yaml:"compile"`
}

// DefaultOrchestratorConfig returns the default orchestration settings.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxSubTasks:          5,
		MaxParallelExecutors: 1,
		ArtifactThreshold:    2000,
		Compile:              DefaultCompileConfig(),
	}
}

// SubTask is one step of an ExecutionPlan.
type SubTask struct {
	ID            string   `json:"id"`
	Objective     string   `json:"objective"`
	RequiredTools []string `json:"required_tools"`
}

// ExecutionPlan is the planner's ordered decomposition of a request.
type ExecutionPlan struct {
	Goal     string    `json:"goal"`
	SubTasks []SubTask `json:"sub_tasks"`
}

// ExecutionStatus is the outcome of one sub-task.
type ExecutionStatus string

const (
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)

// ExecutionResult is the outcome of one executor step.
type ExecutionResult struct {
	SubTaskID      string          `json:"sub_task_id"`
	Objective      string          `json:"objective"`
	Status         ExecutionStatus `json:"status"`
	Output         string          `json:"output"`
	ToolsUsed      []string        `json:"tools_used,omitempty"`
	ArtifactHandle string          `json:"artifact_handle,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// OrchestrationResult is the answer to one request plus its bookkeeping.
type OrchestrationResult struct {
	Response      string               `json:"response"`
	UsedSubAgents bool                 `json:"used_sub_agents"`
	Plan          *ExecutionPlan       `json:"plan,omitempty"`
	Results       []ExecutionResult    `json:"results,omitempty"`
	Actions       []schema.ActionTaken `json:"actions"`
}

// OrchestrationRequest is the input of ProcessRequest. A nil AvailableTools
// offers no tools.
type OrchestrationRequest struct {
	UserID         string
	SessionID      string
	Request        string
	AvailableTools *tools.ToolList
}

// SubAgentOrchestrator answers a request either with one compiled-context
// call or by planning sub-tasks and running one executor per sub-task.
type SubAgentOrchestrator struct {
	compiler  *ContextCompiler
	factory   *AgentFactory
	artifacts schema.ArtifactStore // nil keeps large outputs inline
	cfg       OrchestratorConfig
	tracer    trace.Tracer
}

// NewSubAgentOrchestrator returns an orchestrator. Zero fields of cfg take
// their defaults.
func NewSubAgentOrchestrator(compiler *ContextCompiler, factory *AgentFactory, artifacts schema.ArtifactStore, cfg OrchestratorConfig) *SubAgentOrchestrator {
	def := DefaultOrchestratorConfig()
	if cfg.MaxSubTasks <= 0 {
		cfg.MaxSubTasks = def.MaxSubTasks
	}
	if cfg.MaxParallelExecutors <= 0 {
		cfg.MaxParallelExecutors = def.MaxParallelExecutors
	}
	if cfg.ArtifactThreshold <= 0 {
		cfg.ArtifactThreshold = def.ArtifactThreshold
	}
	if cfg.Compile == (CompileConfig{}) {
		cfg.Compile = def.Compile
	}
	return &SubAgentOrchestrator{
		compiler:  compiler,
		factory:   factory,
		artifacts: artifacts,
		cfg:       cfg,
		tracer:    otel.Tracer(tracerName),
	}
}

// ProcessRequest answers req. A working-context or planner failure is
// returned as an error together with a result carrying FatalResponse; every
// sub-task failure is isolated in its ExecutionResult.
func (o *SubAgentOrchestrator) ProcessRequest(ctx context.Context, req OrchestrationRequest) (*OrchestrationResult, error) {
	useSub := ShouldUseSubAgents(req.Request)
	ctx, span := o.tracer.Start(ctx, "orchestrator.process_request", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.Bool("orchestrator.sub_agents", useSub),
	))
	defer span.End()

	ctx = tools.WithTurn(ctx, tools.TurnContext{UserID: req.UserID, SessionID: req.SessionID})
	if req.AvailableTools == nil {
		req.AvailableTools = tools.NewToolList()
	}

	var (
		res *OrchestrationResult
		err error
	)
	if useSub {
		res, err = o.processWithSubAgents(ctx, req)
	} else {
		res, err = o.processDirect(ctx, req)
	}
	if err != nil {
		slog.Error("request failed", "user", req.UserID, "session", req.SessionID, "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if res == nil {
			res = &OrchestrationResult{UsedSubAgents: useSub}
		}
		res.Response = FatalResponse
		return res, err
	}
	return res, nil
}

func (o *SubAgentOrchestrator) processDirect(ctx context.Context, req OrchestrationRequest) (*OrchestrationResult, error) {
	compiled, err := o.compiler.Compile(ctx, CompileRequest{
		AgentID:     AgentAssistant,
		UserID:      req.UserID,
		CurrentTask: req.Request,
		SessionID:   req.SessionID,
	}, o.cfg.Compile.WithScope(ScopeDefault))
	if err != nil {
		return nil, err
	}

	runner := o.factory.NewAssistant()
	outcome := runner.run(ctx, withRequest(compiled, req.Request), req.AvailableTools)
	if outcome.Err != nil {
		return nil, outcome.Err
	}

	res := &OrchestrationResult{
		Response: llmutils.StringOrDefault(outcome.Content, "I don't have an answer for that yet."),
	}
	for _, name := range uniqueNames(outcome.ToolsUsed) {
		res.Actions = append(res.Actions, schema.ActionTaken{
			Action:   "answer request",
			ToolUsed: name,
			Result:   actionResult(len(outcome.ToolErrors) == 0),
		})
	}
	return res, nil
}

func (o *SubAgentOrchestrator) processWithSubAgents(ctx context.Context, req OrchestrationRequest) (*OrchestrationResult, error) {
	plan, err := o.plan(ctx, req)
	if err != nil {
		return &OrchestrationResult{UsedSubAgents: true}, err
	}
	slog.Info("execution plan", "session", req.SessionID, "goal", plan.Goal, "subtasks", len(plan.SubTasks))

	results := make([]ExecutionResult, len(plan.SubTasks))
	var g errgroup.Group
	g.SetLimit(o.cfg.MaxParallelExecutors)
	for i, st := range plan.SubTasks {
		g.Go(func() error {
			results[i] = o.execute(ctx, req, plan, st)
			return nil
		})
	}
	_ = g.Wait()

	res := &OrchestrationResult{UsedSubAgents: true, Plan: &plan, Results: results}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	for _, r := range results {
		res.Actions = append(res.Actions, schema.ActionTaken{
			Action:   r.Objective,
			ToolUsed: strings.Join(uniqueNames(r.ToolsUsed), ","),
			Result:   actionResult(r.Status == StatusCompleted),
		})
	}
	res.Response = o.aggregate(ctx, req, plan, results)
	return res, nil
}

// plan compiles a planner-scoped context and asks the model for an
// ExecutionPlan. Only an LLM or working-context failure is an error; an
// unusable plan falls back to a single sub-task.
func (o *SubAgentOrchestrator) plan(ctx context.Context, req OrchestrationRequest) (ExecutionPlan, error) {
	compiled, err := o.compiler.Compile(ctx, CompileRequest{
		AgentID:     AgentPlanner,
		UserID:      req.UserID,
		CurrentTask: req.Request,
		SessionID:   req.SessionID,
	}, o.cfg.Compile.WithScope(ScopePlanner))
	if err != nil {
		return ExecutionPlan{}, err
	}

	msgs := withRequest(compiled, req.Request)
	msgs.AddSystem(plannerInstruction(req.AvailableTools.Names(), o.cfg.MaxSubTasks))

	runner := o.factory.NewPlanner()
	text, err := runner.complete(ctx, msgs, true)
	if err != nil {
		return ExecutionPlan{}, fmt.Errorf("planner: %w", err)
	}
	return parsePlan(text, req.Request, o.cfg.MaxSubTasks), nil
}

// execute runs one sub-task against a context compiled for its objective.
func (o *SubAgentOrchestrator) execute(ctx context.Context, req OrchestrationRequest, plan ExecutionPlan, st SubTask) ExecutionResult {
	res := ExecutionResult{SubTaskID: st.ID, Objective: st.Objective}
	ctx = tools.WithTurn(ctx, tools.TurnContext{UserID: req.UserID, SessionID: req.SessionID, SubTaskID: st.ID})

	compiled, err := o.compiler.Compile(ctx, CompileRequest{
		AgentID:     AgentExecutor,
		UserID:      req.UserID,
		CurrentTask: st.Objective,
		SessionID:   req.SessionID,
	}, o.cfg.Compile.WithScope(ScopeExecutor))
	if err != nil {
		return failed(res, err.Error())
	}

	msgs := compiled.ToMessages()
	msgs.AddSystem(executorInstruction(plan.Goal))
	msgs.AddUser(st.Objective)

	runner := o.factory.NewExecutor()
	outcome := runner.run(ctx, msgs, req.AvailableTools.Select(st.RequiredTools))
	res.ToolsUsed = outcome.ToolsUsed
	res.Output = outcome.Content

	switch {
	case outcome.Err != nil:
		slog.Warn("sub-task failed", "subtask", st.ID, "err", outcome.Err)
		return failed(res, outcome.Err.Error())
	case len(outcome.ToolErrors) > 0:
		slog.Warn("sub-task tool errors", "subtask", st.ID, "errors", outcome.ToolErrors)
		res = failed(res, strings.Join(outcome.ToolErrors, "; "))
	default:
		res.Status = StatusCompleted
	}

	o.storeLargeOutput(ctx, req, st, &res)
	return res
}

// storeLargeOutput moves an oversized output into an artifact, keeping only
// the handle and a short summary inline.
func (o *SubAgentOrchestrator) storeLargeOutput(ctx context.Context, req OrchestrationRequest, st SubTask, res *ExecutionResult) {
	if o.artifacts == nil || len([]rune(res.Output)) <= o.cfg.ArtifactThreshold {
		return
	}
	summary := llmutils.Truncate(res.Output, 200)
	handle, err := o.artifacts.Create(ctx, schema.NewArtifact{
		UserID:       req.UserID,
		SessionID:    req.SessionID,
		ArtifactType: "subtask_output",
		Name:         llmutils.Truncate(st.Objective, 60),
		Content:      res.Output,
		Summary:      summary,
	})
	if err != nil {
		slog.Warn("store sub-task artifact failed, keeping output inline", "subtask", st.ID, "err", err)
		return
	}
	res.ArtifactHandle = handle
	res.Output = summary
}

// aggregate merges the sub-task results into one reply. A failed LLM call
// falls back to a plain listing of the results.
func (o *SubAgentOrchestrator) aggregate(ctx context.Context, req OrchestrationRequest, plan ExecutionPlan, results []ExecutionResult) string {
	msgs := schema.NewMessages(
		schema.NewSystemMessage(aggregationInstruction),
		schema.NewUserMessage(formatResults(req.Request, plan, results)),
	)
	runner := o.factory.NewAssistant()
	text, err := runner.complete(ctx, msgs, false)
	if err == nil && strings.TrimSpace(text) != "" {
		return text
	}
	if err == nil {
		err = errors.New("empty response")
	}
	slog.Warn("aggregation failed, concatenating results", "session", req.SessionID, "err", err)
	return concatenateResults(results)
}

// withRequest renders compiled as messages and appends request as the final
// user turn unless the working context already ends with it.
func withRequest(compiled *schema.CompiledContext, request string) schema.Messages {
	msgs := compiled.ToMessages()
	if n := len(compiled.WorkingContext); n > 0 {
		last := compiled.WorkingContext[n-1]
		if last.Type == schema.EventUserMessage && last.Content == request {
			return msgs
		}
	}
	msgs.AddUser(request)
	return msgs
}

// parsePlan extracts an ExecutionPlan from model output. Sub-tasks without an
// objective are dropped, missing or duplicate ids are renumbered and the list
// is capped at maxSubTasks. An empty plan becomes one sub-task holding request.
func parsePlan(text, request string, maxSubTasks int) ExecutionPlan {
	var plan ExecutionPlan
	raw, ok := firstJSONObject(text)
	if !ok {
		slog.Warn("planner returned no JSON, using single sub-task")
	} else if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		slog.Warn("planner JSON unusable, using single sub-task", "err", err)
		plan = ExecutionPlan{}
	}

	seen := make(map[string]bool)
	kept := make([]SubTask, 0, len(plan.SubTasks))
	for _, st := range plan.SubTasks {
		st.Objective = strings.TrimSpace(st.Objective)
		if st.Objective == "" {
			continue
		}
		st.ID = strings.TrimSpace(st.ID)
		if st.ID == "" || seen[st.ID] {
			st.ID = fmt.Sprintf("task_%d", len(kept)+1)
		}
		seen[st.ID] = true
		st.RequiredTools = cleanNames(st.RequiredTools)
		kept = append(kept, st)
		if len(kept) == maxSubTasks {
			break
		}
	}
	if len(kept) == 0 {
		kept = []SubTask{{ID: "task_1", Objective: request}}
	}
	plan.SubTasks = kept
	plan.Goal = llmutils.StringOrDefault(strings.TrimSpace(plan.Goal), request)
	return plan
}

func plannerInstruction(toolNames []string, maxSubTasks int) string {
	available := "none"
	if len(toolNames) > 0 {
		available = strings.Join(toolNames, ", ")
	}
	return fmt.Sprintf(`You are the planner. Break the user's latest request into at most %d ordered sub-tasks that can each be completed independently.
Available tools: %s
Respond with JSON only, in this shape:
{"goal": "...", "sub_tasks": [{"id": "task_1", "objective": "...", "required_tools": ["..."]}]}`,
		maxSubTasks, available)
}

func executorInstruction(goal string) string {
	return "You are an executor working on one step of a larger plan.\n" +
		"Overall goal: " + goal + "\n" +
		"Complete only the step in the next message. Use tools when they help and report your findings concisely."
}

const aggregationInstruction = `Combine the sub-task results below into one clear answer for the user.
Mention steps that failed briefly. Refer to artifacts by their handle instead of repeating them.
Do not mention sub-tasks, planners or executors.`

func formatResults(request string, plan ExecutionPlan, results []ExecutionResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Request: %s\nGoal: %s\n", request, plan.Goal)
	for _, r := range results {
		fmt.Fprintf(&sb, "\n### %s (%s)\n%s\n", r.Objective, r.Status, r.Output)
		if r.ArtifactHandle != "" {
			fmt.Fprintf(&sb, "Full output: artifact %s\n", r.ArtifactHandle)
		}
		if r.Error != "" {
			fmt.Fprintf(&sb, "Error: %s\n", r.Error)
		}
	}
	return sb.String()
}

// concatenateResults is the deterministic aggregation fallback.
func concatenateResults(results []ExecutionResult) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		switch {
		case r.Status == StatusFailed && strings.TrimSpace(r.Output) == "":
			parts = append(parts, fmt.Sprintf("%s: could not be completed (%s).", r.Objective, r.Error))
		case r.ArtifactHandle != "":
			parts = append(parts, fmt.Sprintf("%s:\n%s\n(full output in artifact %s)", r.Objective, r.Output, r.ArtifactHandle))
		default:
			parts = append(parts, fmt.Sprintf("%s:\n%s", r.Objective, r.Output))
		}
	}
	if len(parts) == 0 {
		return FatalResponse
	}
	return strings.Join(parts, "\n\n")
}

func failed(res ExecutionResult, msg string) ExecutionResult {
	res.Status = StatusFailed
	res.Error = msg
	return res
}

func actionResult(ok bool) string {
	if ok {
		return schema.ResultSuccess
	}
	return schema.ResultFailed
}

// uniqueNames returns names without duplicates, keeping first-seen order.
func uniqueNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" && !slices.Contains(out, n) {
			out = append(out, n)
		}
	}
	return out
}
