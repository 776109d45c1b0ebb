package tools

import (
	"encoding/json"
	"sort"

	"github.com/roadmate/roadmate/internal/schema"
)

var emptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// ToolList is a named set of tools offered to one LLM loop.
type ToolList struct {
	tools map[string]schema.Tool
}

func NewToolList(ts ...schema.Tool) *ToolList {
	list := ToolList{tools: make(map[string]schema.Tool, len(ts))}
	for _, t := range ts {
		list.tools[t.Name()] = t
	}
	return &list
}

// Get returns the tool with the given name, or nil if not found.
func (r *ToolList) Get(name string) schema.Tool {
	return r.tools[name]
}

// Add registers a new tool, replacing any existing tool with the same name.
func (r *ToolList) Add(t schema.Tool) schema.Tool {
	if r.tools == nil {
		r.tools = make(map[string]schema.Tool)
	}
	r.tools[t.Name()] = t
	return t
}

// Len returns the number of tools.
func (r *ToolList) Len() int { return len(r.tools) }

// Names returns the tool names in sorted order.
func (r *ToolList) Names() []string {
	names := make([]string, 0, len(r.tools))
	for k := range r.tools {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Select returns the subset of tools named in names. Unknown names are
// ignored. An empty names list selects every tool.
func (r *ToolList) Select(names []string) *ToolList {
	if len(names) == 0 {
		out := NewToolList()
		for k, t := range r.tools {
			out.tools[k] = t
		}
		return out
	}
	out := NewToolList()
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out.tools[n] = t
		}
	}
	return out
}

// Definitions returns the function declarations for every tool, sorted by name.
func (r *ToolList) Definitions() []schema.ToolDefinition {
	list := make([]schema.ToolDefinition, 0, len(r.tools))
	for _, name := range r.Names() {
		t := r.tools[name]
		params := t.Parameters()
		if !json.Valid(params) {
			params = emptyObjectSchema
		}
		list = append(list, schema.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  params,
		})
	}
	return list
}
