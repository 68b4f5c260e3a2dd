package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"minder/internal/llm"
)

// Tool is anything the model can invoke: a definition for the request and
// a Call that runs it. Domain failures come back as "Error: ..." strings so
// the model can read and react to them; a non-nil error aborts the turn.
type Tool interface {
	Definition() llm.ToolDefinition
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Registry holds the live tool set. MCP reloads swap entries at runtime,
// hence the lock.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool under its definition name, replacing any previous
// tool with that name.
func (r *Registry) Register(t Tool) {
	name := t.Definition().Function.Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tools == nil {
		r.tools = make(map[string]Tool)
	}
	r.tools[name] = t
}

// Unregister removes the named tools. Unknown names are ignored.
func (r *Registry) Unregister(names ...string) {
	if r == nil || len(names) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, name := range names {
		delete(r.tools, name)
	}
}

// Definitions returns every tool definition in name order, so the model
// sees a stable list across turns.
func (r *Registry) Definitions() []llm.ToolDefinition {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	defs := make([]llm.ToolDefinition, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

func (r *Registry) Call(ctx context.Context, name string, args json.RawMessage) (string, error) {
	if r == nil {
		return "", fmt.Errorf("tool registry is nil")
	}
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return t.Call(ctx, args)
}
