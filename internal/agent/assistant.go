package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roadmate/roadmate/internal/schema"
	"github.com/roadmate/roadmate/internal/tools"
)

// ErrSessionCompleted is returned when a turn targets a completed session.
var ErrSessionCompleted = errors.New("session already completed")

// TurnResult is the outcome of one user turn.
type TurnResult struct {
	SessionID string
	*OrchestrationResult
}

// Assistant runs complete user turns: it records the conversation, answers
// through the orchestrator and keeps the session compacted.
type Assistant struct {
	sessions     schema.SessionStore
	events       schema.EventStore
	orchestrator *SubAgentOrchestrator
	compactor    *SessionCompactor
	tools        *tools.ToolList
	model        string
}

// NewAssistant wires an Assistant. tls are the tools offered to every turn.
// Every event the assistant appends schedules a compaction check; the
// factory behind orchestrator should record tool events through
// ScheduleOnAppend with the same compactor.
func NewAssistant(
	sessions schema.SessionStore,
	events schema.EventStore,
	orchestrator *SubAgentOrchestrator,
	compactor *SessionCompactor,
	tls *tools.ToolList,
	model string,
) *Assistant {
	if tls == nil {
		tls = tools.NewToolList()
	}
	return &Assistant{
		sessions:     sessions,
		events:       ScheduleOnAppend(events, compactor),
		orchestrator: orchestrator,
		compactor:    compactor,
		tools:        tls,
		model:        model,
	}
}

// HandleTurn answers message for userID within the user's active session,
// creating one if needed. Store write failures are fatal; compaction checks
// run in the background after each recorded event.
func (a *Assistant) HandleTurn(ctx context.Context, userID, message string) (TurnResult, error) {
	sessionID, err := a.sessions.GetOrCreateActive(ctx, userID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("resolve session: %w", err)
	}
	return a.HandleSessionTurn(ctx, userID, sessionID, message)
}

// HandleSessionTurn is HandleTurn for an explicit session.
func (a *Assistant) HandleSessionTurn(ctx context.Context, userID, sessionID, message string) (TurnResult, error) {
	res := TurnResult{SessionID: sessionID}

	sess, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return res, fmt.Errorf("load session %s: %w", sessionID, err)
	}
	if sess.Status == schema.SessionCompleted {
		return res, fmt.Errorf("%w: %s", ErrSessionCompleted, sessionID)
	}

	if _, err := a.events.Append(ctx, schema.NewEvent{
		SessionID: sessionID,
		UserID:    userID,
		Type:      schema.EventUserMessage,
		Content:   message,
		Payload:   schema.MessagePayload{Role: schema.EventUserMessage},
	}); err != nil {
		slog.Error("append user message failed", "session", sessionID, "err", err)
		return res, fmt.Errorf("append user message: %w", err)
	}

	out, err := a.orchestrator.ProcessRequest(ctx, OrchestrationRequest{
		UserID:         userID,
		SessionID:      sessionID,
		Request:        message,
		AvailableTools: a.tools,
	})
	res.OrchestrationResult = out
	if err != nil {
		return res, err
	}

	if _, err := a.events.Append(ctx, schema.NewEvent{
		SessionID: sessionID,
		UserID:    userID,
		Type:      schema.EventAssistantMessage,
		Content:   out.Response,
		Payload:   schema.MessagePayload{Role: schema.EventAssistantMessage, Model: a.model},
	}); err != nil {
		slog.Error("append assistant message failed", "session", sessionID, "err", err)
		return res, fmt.Errorf("append assistant message: %w", err)
	}
	return res, nil
}

// EndSession forces a final compaction and marks the session completed. The
// session is completed only when compaction succeeded or was not needed.
func (a *Assistant) EndSession(ctx context.Context, sessionID string) (CompactionResult, error) {
	var res CompactionResult
	if a.compactor != nil {
		res = a.compactor.ForceCompact(ctx, sessionID)
		if !res.Success {
			return res, fmt.Errorf("final compaction of %s: %s", sessionID, res.Error)
		}
	}
	if err := a.sessions.Complete(ctx, sessionID); err != nil {
		return res, fmt.Errorf("complete session %s: %w", sessionID, err)
	}
	slog.Info("session ended", "session", sessionID, "events_compacted", res.EventsCompacted)
	return res, nil
}

// Compactor exposes the session compactor, e.g. to wait for scheduled runs.
func (a *Assistant) Compactor() *SessionCompactor { return a.compactor }
