// Package llmutils holds small text helpers for prompts and model output.
package llmutils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/roadmate/roadmate/internal/schema"
)

var reThink = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Truncate shortens s to at most n characters (runes), adding "..." if it was truncated.
func Truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// StripThink removes <think>…</think> blocks that some models embed.
func StripThink(s string) string {
	return strings.TrimSpace(reThink.ReplaceAllString(s, ""))
}

// StringOrDefault returns s if it's not empty, or def if s is empty.
func StringOrDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}

// ToolHint generates a short hint string for a list of tool calls, e.g. `web_fetch("https://...")`.
func ToolHint(tcs []schema.ToolCallRequest) string {
	parts := make([]string, 0, len(tcs))
	for _, tc := range tcs {
		var firstVal string
		for _, v := range tc.Arguments {
			if s, ok := v.(string); ok {
				firstVal = s
			}
			break
		}
		if firstVal == "" {
			parts = append(parts, tc.Name)
			continue
		}
		parts = append(parts, fmt.Sprintf("%s(%q)", tc.Name, Truncate(firstVal, 40)))
	}
	return strings.Join(parts, ", ")
}
