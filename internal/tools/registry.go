// Package tools holds the registry of named capabilities an agent may invoke,
// plus the executor that dispatches model-requested calls against a runtime.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wraithsec/wraith-cli/api/schemas"
	"github.com/wraithsec/wraith-cli/internal/runtime"
)

// ExecuteFunc runs one tool invocation. The returned string is fed back to the
// model verbatim; an error becomes a failed ToolResult, never a crash.
type ExecuteFunc func(ctx context.Context, args map[string]interface{}, rt runtime.Runtime) (string, error)

// Tool is a single named capability.
type Tool struct {
	Name        string
	Description string
	Schema      schemas.ToolSchema
	Category    string
	Enabled     bool
	Execute     ExecuteFunc
}

// Definition renders the tool for the model provider.
func (t *Tool) Definition() schemas.ToolDefinition {
	return schemas.ToolDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  t.Schema,
	}
}

// ValidateArguments checks args against the tool's schema: every required
// property must be present.
func (t *Tool) ValidateArguments(args map[string]interface{}) error {
	for _, req := range t.Schema.Required {
		if _, ok := args[req]; !ok {
			return fmt.Errorf("tool %q: missing required argument %q", t.Name, req)
		}
	}
	return nil
}

// Registry maps tool names to implementations. It is constructed once per
// process and passed explicitly to every component that needs it.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool. Duplicate names are an error so startup wiring
// mistakes surface immediately.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("cannot register a tool without a name")
	}
	if t.Execute == nil {
		return fmt.Errorf("tool %q has no execute function", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q is already registered", t.Name)
	}
	r.tools[t.Name] = t
	return nil
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted names of all enabled tools.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name, t := range r.tools {
		if t.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Unregister removes a tool. Missing names are an error.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return fmt.Errorf("tool %q is not registered", name)
	}
	delete(r.tools, name)
	return nil
}

// SetEnabled toggles a tool without removing it. Returns false if the tool
// does not exist.
func (r *Registry) SetEnabled(name string, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tools[name]
	if !ok {
		return false
	}
	t.Enabled = enabled
	return true
}

// All returns every registered tool, enabled or not, sorted by name.
func (r *Registry) All() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ByCategory returns the enabled tools in one category, sorted by name.
func (r *Registry) ByCategory(category string) []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Tool, 0)
	for _, t := range r.tools {
		if t.Enabled && t.Category == category {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Definitions returns provider-facing definitions for enabled tools, sorted by
// name for deterministic prompts. Names listed in exclude are left out.
func (r *Registry) Definitions(exclude ...string) []schemas.ToolDefinition {
	skip := make(map[string]bool, len(exclude))
	for _, name := range exclude {
		skip[name] = true
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]schemas.ToolDefinition, 0, len(r.tools))
	for name, t := range r.tools {
		if !t.Enabled || skip[name] {
			continue
		}
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
