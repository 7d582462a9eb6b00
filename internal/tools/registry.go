// Package tools implements the tool surface exposed to agents: shell
// execution behind the security gate, web fetch, long-term memory access,
// operator messaging, sub-agent spawning, and time lookup.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nightshift-run/nightshift/internal/llm"
)

// Tool is one callable function exposed to the model.
type Tool interface {
	// Name is the identifier used in tool call requests.
	Name() string

	// Description tells the model what the tool does.
	Description() string

	// Parameters is a JSON Schema object describing the arguments.
	Parameters() map[string]any

	// Execute runs the tool. args is the raw JSON argument object.
	Execute(ctx context.Context, args string) (string, error)
}

// Registry is a thread-safe collection of tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	if t.Name() == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Definitions renders the registry as provider tool definitions.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

// Result is the outcome of executing one tool call.
type Result struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Execute runs a tool call with the given per-call timeout. Unknown tools
// and execution failures are reported in the result rather than as an
// error: the model sees the failure and can react to it.
func (r *Registry) Execute(ctx context.Context, call llm.ToolCall, timeout time.Duration) Result {
	res := Result{ToolCallID: call.ID}
	start := time.Now()
	defer func() {
		res.DurationMs = time.Since(start).Milliseconds()
	}()

	tool, ok := r.Get(call.Name)
	if !ok {
		res.Error = fmt.Sprintf("unknown tool: %s", call.Name)
		return res
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	content, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		res.Error = err.Error()
		res.Content = content
		return res
	}
	res.Content = content
	return res
}

func parseArgs(args string, v any) error {
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), v); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}
