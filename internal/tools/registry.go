// Package tools exposes storage operations as schema-described callables an
// LLM can invoke during generation. The layer owns input validation and
// dispatch only; all business logic stays in the stores it wraps.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Result is the uniform outcome of a tool invocation. Failures are data the
// model can reason about, never Go errors crossing the tool boundary.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count,omitempty"`
	Results any    `json:"results,omitempty"`
}

// Errorf builds a failed Result.
func Errorf(format string, args ...any) Result {
	return Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// Handler executes a tool for the given user with raw JSON arguments.
type Handler func(ctx context.Context, userID string, args json.RawMessage) Result

// Tool is one registered operation: a name and JSON-schema parameters for
// the model, plus the handler that runs it.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry maps tool names to tools. Dispatch is explicit lookup; an
// unknown name is a failed Result, not an error. Registries are built once
// at startup and safe for concurrent use afterwards.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any previous tool of the same name.
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Subset returns a registry restricted to the named tools; unknown names
// are skipped. Used to scope what a single chat turn may invoke.
func (r *Registry) Subset(names ...string) *Registry {
	sub := NewRegistry()
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			sub.Register(t)
		}
	}
	return sub
}

// Dispatch validates and runs the named tool. Safe to call any number of
// times within one turn.
func (r *Registry) Dispatch(ctx context.Context, userID, name string, args json.RawMessage) Result {
	t, ok := r.tools[name]
	if !ok {
		return Errorf("unknown tool: %s", name)
	}
	return t.Handler(ctx, userID, args)
}

// OpenAITools converts the registered tools to the provider's tool format,
// in registration order.
func (r *Registry) OpenAITools() []openai.Tool {
	out := make([]openai.Tool, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
