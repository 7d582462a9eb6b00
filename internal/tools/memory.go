package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/nightshift-run/nightshift/internal/memory"
)

// MemorySaveTool persists a fact into the agent's long-term memory.
type MemorySaveTool struct {
	longterm *memory.LongTerm
	scopeKey string
}

// NewMemorySaveTool creates the tool bound to one memory scope.
func NewMemorySaveTool(lt *memory.LongTerm, scopeKey string) *MemorySaveTool {
	return &MemorySaveTool{longterm: lt, scopeKey: scopeKey}
}

func (t *MemorySaveTool) Name() string { return "memory_save" }

func (t *MemorySaveTool) Description() string {
	return "Save a fact to long-term memory so future runs can recall it."
}

func (t *MemorySaveTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The fact to remember, as a short self-contained sentence.",
			},
			"title": map[string]any{
				"type":        "string",
				"description": "Optional short label for the fact.",
			},
			"tags": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Optional tags to group related facts.",
			},
		},
		"required": []string{"content"},
	}
}

type memorySaveArgs struct {
	Content string   `json:"content"`
	Title   string   `json:"title"`
	Tags    []string `json:"tags"`
}

func (t *MemorySaveTool) Execute(_ context.Context, args string) (string, error) {
	var a memorySaveArgs
	if err := parseArgs(args, &a); err != nil {
		return "", err
	}
	if err := t.longterm.SaveEntry(t.scopeKey, a.Title, a.Content, a.Tags); err != nil {
		return "", err
	}
	return "saved", nil
}

// MemorySearchTool recalls facts from long-term memory.
type MemorySearchTool struct {
	longterm *memory.LongTerm
	scopeKey string
}

// NewMemorySearchTool creates the tool bound to one memory scope.
func NewMemorySearchTool(lt *memory.LongTerm, scopeKey string) *MemorySearchTool {
	return &MemorySearchTool{longterm: lt, scopeKey: scopeKey}
}

func (t *MemorySearchTool) Name() string { return "memory_search" }

func (t *MemorySearchTool) Description() string {
	return "Search long-term memory for previously saved facts."
}

func (t *MemorySearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Text to search for. Leave empty to get the most recent facts.",
			},
			"limit": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results (default 10).",
			},
		},
	}
}

type memorySearchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func (t *MemorySearchTool) Execute(_ context.Context, args string) (string, error) {
	var a memorySearchArgs
	if err := parseArgs(args, &a); err != nil {
		return "", err
	}

	entries, err := t.longterm.Search(t.scopeKey, a.Query, a.Limit)
	if err != nil {
		return "", fmt.Errorf("search memory: %w", err)
	}
	if len(entries) == 0 {
		return "no matching memories", nil
	}

	var b strings.Builder
	for i, e := range entries {
		if e.Title != "" {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, e.Title, e.Content)
		} else {
			fmt.Fprintf(&b, "%d. %s\n", i+1, e.Content)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
