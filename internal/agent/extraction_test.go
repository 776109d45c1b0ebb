package agent

import "testing"

func TestFirstJSONObject(t *testing.T) {
	tests := []struct {
		name, in, want string
		ok             bool
	}{
		{"plain", `{"a":1}`, `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`, true},
		{"prose around", `Here you go: {"a":"x"} thanks`, `{"a":"x"}`, true},
		{"brace in string", `{"a":"}{","b":"\"}"}`, `{"a":"}{","b":"\"}"}`, true},
		{"first of two", `{"a":1} {"b":2}`, `{"a":1}`, true},
		{"no object", `no json here`, "", false},
		{"unbalanced", `{"a":{"b":1}`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := firstJSONObject(tt.in)
			if ok != tt.ok || got != tt.want {
				t.Errorf("firstJSONObject(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}
