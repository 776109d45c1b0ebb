package tools

import "context"

// TurnContext carries the caller identity of the current executor step
// through the context tree. Tools scoped to a user read it inside Execute.
type TurnContext struct {
	UserID    string
	SessionID string
	SubTaskID string
}

type turnKey struct{}

// WithTurn returns a child context that carries tc.
func WithTurn(ctx context.Context, tc TurnContext) context.Context {
	return context.WithValue(ctx, turnKey{}, tc)
}

// TurnCtx extracts the TurnContext from ctx.
// Returns a zero-value TurnContext if none was set.
func TurnCtx(ctx context.Context) TurnContext {
	tc, _ := ctx.Value(turnKey{}).(TurnContext)
	return tc
}
