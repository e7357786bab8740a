package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Result is the structured outcome of a tool execution. Success is always
// set; Data carries tool-specific fields the orchestrator persists as the
// task's output.
type Result struct {
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
	// Permanent marks a failure retrying cannot fix (e.g. the lead has
	// no email address). The orchestrator fails such tasks immediately
	// instead of burning the retry budget.
	Permanent bool           `json:"permanent,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Delayed reports whether the tool asked the orchestrator to reschedule
// the task instead of completing it.
func (r *Result) Delayed() bool {
	return r != nil && r.Data != nil && r.Data["delayed"] == true
}

// Escalated reports whether the tool routed the task to a human.
func (r *Result) Escalated() bool {
	return r != nil && r.Data != nil && r.Data["escalated"] == true
}

// Ok builds a successful result from data fields.
func Ok(data map[string]any) *Result {
	return &Result{Success: true, Data: data}
}

// Fail builds a retryable failure.
func Fail(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// FailPermanent builds a non-retryable failure.
func FailPermanent(format string, args ...any) *Result {
	return &Result{Success: false, Permanent: true, Error: fmt.Sprintf(format, args...)}
}

// ExecFunc performs a tool's single externally-visible side effect.
type ExecFunc func(ctx context.Context, params map[string]any) (*Result, error)

// Tool is a named capability with a parameter schema and an executor.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
	Execute     ExecFunc       `json:"-"`
}

// Registry maps tool names to capabilities.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Descriptions renders "name: description" lines for the decision prompt.
func (r *Registry) Descriptions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	lines := make([]string, 0, len(names))
	for _, n := range names {
		lines = append(lines, fmt.Sprintf("%s: %s", n, r.tools[n].Description))
	}
	return lines
}

// Execute runs a tool by name. Unknown tools are a permanent failure —
// the decision layer already constrained the action to a closed list, so
// an unknown name means a decision bug, not a transient condition.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (*Result, error) {
	t, ok := r.Get(name)
	if !ok {
		return FailPermanent("unknown tool: %s", name), nil
	}
	res, err := t.Execute(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	if res == nil {
		res = Fail("tool %s returned no result", name)
	}
	return res, nil
}

// strParam extracts a required string parameter.
func strParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key].(string)
	return v, ok && v != ""
}

// numParam extracts a numeric parameter, tolerating JSON float64.
func numParam(params map[string]any, key string) (int, bool) {
	switch v := params[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}
