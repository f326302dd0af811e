// Package tools implements the tool surface (spec.md §4's component 7 /
// §6): a thin dispatcher mapping named tool calls onto the executor,
// A.L.A.N., and NEVERHANG. Adapted in shape from the teacher's
// ToolRegistry/ToolDefinition/Execute pattern, but reading/writing
// line-delimited JSON-RPC over stdio instead of HTTP/SSE (SPEC_FULL.md
// §5.7) — only the dispatch shape is reused, the transport is new.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/CLIAIMONITOR/internal/apierr"
)

// ToolDefinition describes one callable tool for tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// HandlerFunc executes one tool call given its raw JSON arguments and
// returns the text payload the protocol sends back to the caller.
type HandlerFunc func(argsRaw json.RawMessage) (string, error)

type registeredTool struct {
	def     ToolDefinition
	handler HandlerFunc
}

// Registry holds every tool this service exposes.
type Registry struct {
	order []string
	tools map[string]registeredTool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registeredTool)}
}

// Register adds a tool definition and its handler.
func (r *Registry) Register(def ToolDefinition, handler HandlerFunc) {
	r.tools[def.Name] = registeredTool{def: def, handler: handler}
	r.order = append(r.order, def.Name)
}

// List returns every registered tool definition, in registration order.
func (r *Registry) List() []ToolDefinition {
	defs := make([]ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].def)
	}
	return defs
}

// Execute dispatches name with argsRaw, converting any handler panic into an
// InternalError rather than letting it propagate (spec.md §3.2 / §7: tool
// handlers never panic the process).
func (r *Registry) Execute(name string, argsRaw json.RawMessage) (text string, err error) {
	tool, ok := r.tools[name]
	if !ok {
		return "", apierr.New(apierr.KindValidation, fmt.Sprintf("unknown tool %q", name))
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = apierr.New(apierr.KindInternal, fmt.Sprintf("tool %q panicked: %v", name, rec))
		}
	}()

	return tool.handler(argsRaw)
}
