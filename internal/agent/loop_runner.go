package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/shared/llmutils"
	"github.com/roadmate/roadmate/internal/tools"
)

// ErrMaxIterations is returned when the model keeps calling tools past the
// iteration limit.
var ErrMaxIterations = errors.New("tool iteration limit reached")

// LoopSettings configures one LLM ↔ tool loop.
type LoopSettings struct {
	Model         string  `json:"model" yaml:"model"`
	MaxTokens     int     `json:"maxTokens" yaml:"maxTokens"`
	Temperature   float64 `json:"temperature" yaml:"temperature"`
	MaxIterations int     `json:"maxToolIterations" yaml:"maxToolIterations"`
}

// DefaultLoopSettings returns the settings used when none are configured.
func DefaultLoopSettings() LoopSettings {
	return LoopSettings{MaxTokens: 4096, Temperature: 0.3, MaxIterations: 10}
}

// loopOutcome is the result of one loop run. Err is set when the LLM failed,
// the iteration limit was hit or a tool event could not be recorded.
type loopOutcome struct {
	Content    string
	ToolsUsed  []string
	ToolErrors []string
	Err        error
}

// LoopRunner executes the LLM ↔ tool iteration loop shared by the direct,
// planner, executor and aggregation steps.
type LoopRunner struct {
	provider schema.LLMProvider
	settings LoopSettings
	events   schema.EventStore // nil disables tool event recording
}

func newLoopRunner(provider schema.LLMProvider, settings LoopSettings, events schema.EventStore) LoopRunner {
	if settings.MaxIterations <= 0 {
		settings.MaxIterations = DefaultLoopSettings().MaxIterations
	}
	return LoopRunner{provider: provider, settings: settings, events: events}
}

func (r *LoopRunner) options(jsonMode bool) schema.ChatOptions {
	opts := schema.NewChatOptions(
		llmutils.StringOrDefault(r.settings.Model, r.provider.DefaultModel()),
		r.settings.MaxTokens,
		r.settings.Temperature,
	)
	opts.JSONMode = jsonMode
	return opts
}

// complete makes one tool-free chat call and returns the stripped content.
func (r *LoopRunner) complete(ctx context.Context, conversation schema.Messages, jsonMode bool) (string, error) {
	resp, err := r.provider.Chat(ctx, conversation, nil, r.options(jsonMode))
	if err != nil {
		return "", err
	}
	return llmutils.StripThink(resp.Content), nil
}

// run drives the model until it answers without tool calls. Tool calls and
// results are recorded as events of the session in the TurnContext of ctx.
func (r *LoopRunner) run(ctx context.Context, conversation schema.Messages, tls *tools.ToolList) loopOutcome {
	var out loopOutcome
	defs := tls.Definitions()
	turn := tools.TurnCtx(ctx)

	for i := 0; i < r.settings.MaxIterations; i++ {
		resp, err := r.provider.Chat(ctx, conversation, defs, r.options(false))
		if err != nil {
			slog.Error("LLM error", "session", turn.SessionID, "subtask", turn.SubTaskID, "err", err)
			out.Err = fmt.Errorf("chat: %w", err)
			return out
		}

		if !resp.HasToolCalls() {
			out.Content = llmutils.StripThink(resp.Content)
			return out
		}

		slog.Debug("Tool calls", "subtask", turn.SubTaskID, "hint", llmutils.ToolHint(resp.ToolCalls))

		calls := make([]schema.ToolCall, 0, len(resp.ToolCalls))
		for _, tc := range resp.ToolCalls {
			calls = append(calls, schema.ToolCall{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments})
		}
		conversation.AddAssistant(resp.Content, calls)

		for _, tc := range resp.ToolCalls {
			out.ToolsUsed = append(out.ToolsUsed, tc.Name)
			argsJSON, _ := json.Marshal(tc.Arguments)
			slog.Info("Tool call", "name", tc.Name, "args", llmutils.Truncate(string(argsJSON), 200))

			if err := r.record(ctx, turn, schema.EventToolCall, string(argsJSON), schema.ToolCallPayload{
				ToolName:   tc.Name,
				CallID:     tc.ID,
				Parameters: tc.Arguments,
			}); err != nil {
				out.Err = err
				return out
			}

			result, success := r.execute(ctx, tls, tc)
			if !success {
				out.ToolErrors = append(out.ToolErrors, fmt.Sprintf("%s: %s", tc.Name, result))
			}

			if err := r.record(ctx, turn, schema.EventToolResult, result, schema.ToolResultPayload{
				ToolName: tc.Name,
				CallID:   tc.ID,
				Result:   llmutils.Truncate(result, 2000),
				Success:  success,
			}); err != nil {
				out.Err = err
				return out
			}

			conversation.AddToolResult(tc.ID, tc.Name, result)
		}
	}

	out.Err = fmt.Errorf("%w (%d)", ErrMaxIterations, r.settings.MaxIterations)
	return out
}

// execute runs one tool call. A missing tool or an error from Execute is
// reported back to the model as text and flagged unsuccessful.
func (r *LoopRunner) execute(ctx context.Context, tls *tools.ToolList, tc schema.ToolCallRequest) (string, bool) {
	t := tls.Get(tc.Name)
	if t == nil {
		return fmt.Sprintf("Error: Tool '%s' not found", tc.Name), false
	}
	result, err := t.Execute(ctx, tc.Arguments)
	if err != nil {
		slog.Warn("Tool failed", "name", tc.Name, "err", err)
		return "Error: " + err.Error(), false
	}
	return result, true
}

func (r *LoopRunner) record(ctx context.Context, turn tools.TurnContext, typ schema.EventType, content string, payload schema.Payload) error {
	if r.events == nil || turn.SessionID == "" {
		return nil
	}
	_, err := r.events.Append(ctx, schema.NewEvent{
		SessionID: turn.SessionID,
		UserID:    turn.UserID,
		Type:      typ,
		Content:   content,
		Payload:   payload,
	})
	if err != nil {
		slog.Error("record tool event failed", "session", turn.SessionID, "type", typ, "err", err)
		return fmt.Errorf("record %s: %w", typ, err)
	}
	return nil
}
