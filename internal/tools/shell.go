package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nightshift-run/nightshift/internal/logger"
	"github.com/nightshift-run/nightshift/internal/sandbox"
	"github.com/nightshift-run/nightshift/internal/secrets"
)

// CommandGate authorizes a command before it runs. The executor wires the
// policy engine and approval manager behind this; a returned error means
// the command must not run.
type CommandGate interface {
	Authorize(ctx context.Context, command string) error
}

// GateFunc adapts a function to the CommandGate interface.
type GateFunc func(ctx context.Context, command string) error

func (f GateFunc) Authorize(ctx context.Context, command string) error {
	return f(ctx, command)
}

// ShellTool executes shell commands through the security gate.
type ShellTool struct {
	gate    CommandGate
	runner  sandbox.Runner
	secrets *secrets.Store
	workDir string
	timeout time.Duration
	log     *logger.Logger
}

// ShellConfig configures the shell tool.
type ShellConfig struct {
	WorkDir string
	Timeout time.Duration
}

// NewShellTool creates the tool. secrets may be nil when no secret
// resolution is wanted.
func NewShellTool(gate CommandGate, runner sandbox.Runner, sec *secrets.Store, cfg ShellConfig, log *logger.Logger) *ShellTool {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ShellTool{
		gate:    gate,
		runner:  runner,
		secrets: sec,
		workDir: cfg.WorkDir,
		timeout: cfg.Timeout,
		log:     log,
	}
}

func (t *ShellTool) Name() string { return "shell" }

func (t *ShellTool) Description() string {
	return "Execute a shell command. Commands are checked against the security policy; some require operator approval before running."
}

func (t *ShellTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute. Examples: ls -la, git status, df -h. Use $SECRET_NAME to reference stored secrets.",
			},
		},
		"required": []string{"command"},
	}
}

type shellArgs struct {
	Command string `json:"command"`
}

// Execute implements Tool. The command is authorized first, then secrets
// are resolved, and the output is redacted before it returns to the model.
func (t *ShellTool) Execute(ctx context.Context, args string) (string, error) {
	var a shellArgs
	if err := parseArgs(args, &a); err != nil {
		return "", err
	}
	a.Command = strings.TrimSpace(a.Command)
	if a.Command == "" {
		return "", fmt.Errorf("command is required")
	}

	if err := t.gate.Authorize(ctx, a.Command); err != nil {
		return "", err
	}

	resolved := a.Command
	if t.secrets != nil {
		resolved = t.secrets.Resolve(a.Command)
	}

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	t.log.Info("executing command", logger.Field{Key: "command", Value: a.Command})

	output, err := t.runner.Run(runCtx, resolved, t.workDir)
	if t.secrets != nil {
		output = t.secrets.Redact(output)
	}
	if err != nil {
		return output, err
	}
	if output == "" {
		return "(no output)", nil
	}
	return output, nil
}
