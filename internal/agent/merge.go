package agent

import (
	"cmp"
	"slices"
	"strings"

	"github.com/roadmate/roadmate/internal/schema"
)

// MergeSummaries folds next (the newest extraction) into prev:
//   - goals, open threads and topics are concatenated and de-duplicated in
//     first-seen order
//   - decisions and actions are concatenated as-is
//   - entities merge by name and preferences by text, keeping the higher
//     relevance/confidence
//   - sentiment is taken from next
func MergeSummaries(prev, next schema.SessionSummary) schema.SessionSummary {
	prev.Normalize()
	next.Normalize()

	return schema.SessionSummary{
		Goals:              dedupe(prev.Goals, next.Goals),
		DecisionsMade:      concat(prev.DecisionsMade, next.DecisionsMade),
		KeyEntities:        mergeEntities(prev.KeyEntities, next.KeyEntities),
		OpenThreads:        dedupe(prev.OpenThreads, next.OpenThreads),
		UserSentiment:      next.UserSentiment,
		TopicsDiscussed:    dedupe(prev.TopicsDiscussed, next.TopicsDiscussed),
		ActionsTaken:       concat(prev.ActionsTaken, next.ActionsTaken),
		LearnedPreferences: mergePreferences(prev.LearnedPreferences, next.LearnedPreferences),
	}
}

func concat[T any](a, b []T) []T {
	out := make([]T, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func dedupe(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range concat(a, b) {
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func mergeKey(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// mergeEntities keeps one entity per name. Ties on relevance go to the
// lexicographically smaller type so the result does not depend on argument
// order.
func mergeEntities(a, b []schema.Entity) []schema.Entity {
	best := make(map[string]schema.Entity, len(a)+len(b))
	for _, e := range concat(a, b) {
		k := mergeKey(e.Name)
		cur, seen := best[k]
		if !seen || e.Relevance > cur.Relevance ||
			(e.Relevance == cur.Relevance && entityBefore(e, cur)) {
			best[k] = e
		}
	}
	out := make([]schema.Entity, 0, len(best))
	for _, e := range best {
		out = append(out, e)
	}
	slices.SortFunc(out, func(x, y schema.Entity) int {
		if c := cmp.Compare(y.Relevance, x.Relevance); c != 0 {
			return c
		}
		return cmp.Compare(mergeKey(x.Name), mergeKey(y.Name))
	})
	return out
}

func entityBefore(x, y schema.Entity) bool {
	if x.Type != y.Type {
		return x.Type < y.Type
	}
	return x.Name < y.Name
}

// mergePreferences keeps one preference per text, preferring the higher
// confidence.
func mergePreferences(a, b []schema.Preference) []schema.Preference {
	best := make(map[string]schema.Preference, len(a)+len(b))
	for _, p := range concat(a, b) {
		k := mergeKey(p.Preference)
		cur, seen := best[k]
		if !seen || p.Confidence > cur.Confidence ||
			(p.Confidence == cur.Confidence && p.Preference < cur.Preference) {
			best[k] = p
		}
	}
	out := make([]schema.Preference, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	slices.SortFunc(out, func(x, y schema.Preference) int {
		if c := cmp.Compare(y.Confidence, x.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(mergeKey(x.Preference), mergeKey(y.Preference))
	})
	return out
}
