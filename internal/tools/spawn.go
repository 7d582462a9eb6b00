package tools

import (
	"context"
	"fmt"
	"strings"
)

// Spawner starts a delegated task and returns an acknowledgement. The
// executor implements this; the indirection keeps the tool free of the
// execution loop's dependencies.
type Spawner interface {
	Spawn(ctx context.Context, task string) (string, error)
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc func(ctx context.Context, task string) (string, error)

func (f SpawnerFunc) Spawn(ctx context.Context, task string) (string, error) {
	return f(ctx, task)
}

// SpawnTool delegates a self-contained subtask to a sub-agent that runs
// concurrently with the parent. The parent sees the sub-agent's final answer
// at its join point, before it produces its own final answer.
type SpawnTool struct {
	spawner Spawner
}

// NewSpawnTool creates the tool.
func NewSpawnTool(s Spawner) *SpawnTool {
	return &SpawnTool{spawner: s}
}

func (t *SpawnTool) Name() string { return "spawn_subagent" }

func (t *SpawnTool) Description() string {
	return "Delegate a self-contained subtask to a sub-agent running in parallel. Its result is delivered to you before your final answer. Use for work that benefits from a fresh context."
}

func (t *SpawnTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "Complete description of the subtask, including everything the sub-agent needs to know.",
			},
		},
		"required": []string{"task"},
	}
}

type spawnArgs struct {
	Task string `json:"task"`
}

func (t *SpawnTool) Execute(ctx context.Context, args string) (string, error) {
	var a spawnArgs
	if err := parseArgs(args, &a); err != nil {
		return "", err
	}
	a.Task = strings.TrimSpace(a.Task)
	if a.Task == "" {
		return "", fmt.Errorf("task is required")
	}
	return t.spawner.Spawn(ctx, a.Task)
}
