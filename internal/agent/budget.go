package agent

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/roadmate/roadmate/internal/schema"
)

// Minimum items kept per tier regardless of budget.
const (
	minWorkingEvents = 3
	minMemories      = 1
	minArtifacts     = 1
)

// cacheKeyInstructionRunes bounds how much of the learned instructions feed the cache key.
const cacheKeyInstructionRunes = 100

// EstimateTokens is the provider-agnostic token heuristic: one token per four bytes.
func EstimateTokens(text string) int { return len(text) / 4 }

// tierCost sums the estimated tokens of items.
func tierCost[T any](items []T, render func(T) string) int {
	total := 0
	for _, it := range items {
		total += EstimateTokens(render(it))
	}
	return total
}

// pruneOldest drops items from the front until the tier fits budget or only
// floor items remain. It returns the kept items and their cost.
func pruneOldest[T any](items []T, render func(T) string, budget, floor int) ([]T, int) {
	total := tierCost(items, render)
	for total > budget && len(items) > floor {
		total -= EstimateTokens(render(items[0]))
		items = items[1:]
	}
	return items, total
}

// pruneTail drops items from the back until the tier fits budget or only
// floor items remain. Callers sort so that the tail is the least valuable.
func pruneTail[T any](items []T, render func(T) string, budget, floor int) ([]T, int) {
	total := tierCost(items, render)
	for total > budget && len(items) > floor {
		last := len(items) - 1
		total -= EstimateTokens(render(items[last]))
		items = items[:last]
	}
	return items, total
}

// visibleTypes lists the event types each restricted scope may see.
var visibleTypes = map[Scope]map[schema.EventType]bool{
	ScopePlanner: {
		schema.EventUserMessage:      true,
		schema.EventAssistantMessage: true,
		schema.EventSystem:           true,
	},
	ScopeExecutor: {
		schema.EventUserMessage:      true,
		schema.EventAssistantMessage: true,
		schema.EventToolCall:         true,
		schema.EventToolResult:       true,
	},
}

// filterScope keeps the events visible to scope. The default scope sees everything.
func filterScope(events []schema.Event, scope Scope) []schema.Event {
	allowed, restricted := visibleTypes[scope]
	if !restricted {
		return events
	}
	out := make([]schema.Event, 0, len(events))
	for _, ev := range events {
		if allowed[ev.Type] {
			out = append(out, ev)
		}
	}
	return out
}

// CacheKey hashes the stable-prefix identity: agent, user and the first
// 100 runes of the learned instructions.
func CacheKey(agentID, userID, instructions string) string {
	r := []rune(instructions)
	if len(r) > cacheKeyInstructionRunes {
		r = r[:cacheKeyInstructionRunes]
	}
	h := sha256.New()
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(string(r)))
	return hex.EncodeToString(h.Sum(nil))
}
