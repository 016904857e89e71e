// Package tools maps tool names to their parameter schema and execute function,
// and runs the function calls an LLM response asks for.
package tools

import (
	"context"
	"sync"

	"github.com/qninhdt/wyvern-ai/internal/schema"
)

// FunctionCall is a named invocation requested by a model response
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Result is what a tool returns to the orchestrator
type Result struct {
	// Visible results are folded into the narration shown to the player
	Visible bool   `json:"visible"`
	Text    string `json:"text"`
	Data    any    `json:"data,omitempty"`
}

// ExecuteFunc runs a tool against its raw arguments
type ExecuteFunc func(ctx context.Context, args map[string]any) (Result, error)

// Definition describes one callable tool
type Definition struct {
	Name        string
	Description string
	Parameters  *schema.Parameters
	Execute     ExecuteFunc
}

// Registry holds the tools offered to the model for one request
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
	order []string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Register adds a tool, replacing any tool with the same name
func (r *Registry) Register(def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = def
}

// Get returns the tool registered under name
func (r *Registry) Get(name string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	return def, ok
}

// List returns all tools in registration order
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name])
	}
	return defs
}

// Len returns the number of registered tools
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
