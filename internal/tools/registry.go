// Package tools holds the LLM-callable tools available to executor steps.
package tools

import (
	"sort"

	"github.com/roadmate/roadmate/internal/schema"
)

// ToolName is the canonical name of a built-in tool.
type ToolName string

const (
	ToolWebFetch     ToolName = "web_fetch"
	ToolReadArtifact ToolName = "read_artifact"
	ToolSearchMemory ToolName = "search_memory"
)

// Registry holds a set of named tools and exposes them for execution.
type Registry struct {
	tools map[string]schema.Tool
}

// GetTool returns the tool with the given name, or nil.
func (r *Registry) GetTool(name ToolName) schema.Tool {
	return r.tools[string(name)]
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for k := range r.tools {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// AllTools returns a ToolList holding every registered tool.
func (r *Registry) AllTools() *ToolList {
	return NewToolList(r.Tools()...)
}

// Tools returns the registered tools as a slice sorted by name.
func (r *Registry) Tools() []schema.Tool {
	out := make([]schema.Tool, 0, len(r.tools))
	for _, name := range r.Names() {
		out = append(out, r.tools[name])
	}
	return out
}
