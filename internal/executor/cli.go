package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/nightshift-run/nightshift/internal/background"
	"github.com/nightshift-run/nightshift/internal/logger"
)

const maxCLIOutput = 1024 * 1024

// runCLI executes the agent's task as a local subprocess. The resolved input
// and any injected messages are written to the process's stdin; combined
// stdout and stderr become the run output.
func (e *Executor) runCLI(ctx context.Context, a *background.Agent, input string, injected []*background.Message) (*Result, error) {
	cli := a.CLI
	if cli == nil || cli.Binary == "" {
		return nil, fmt.Errorf("cli mode requires a binary")
	}

	timeout := e.cfg.RunTimeout
	if cli.TimeoutSec > 0 {
		timeout = time.Duration(cli.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdin strings.Builder
	stdin.WriteString(input)
	for _, m := range injected {
		stdin.WriteString("\n")
		stdin.WriteString(m.Content)
	}

	cmd := exec.CommandContext(ctx, cli.Binary, cli.Args...)
	cmd.Stdin = strings.NewReader(stdin.String())
	if cli.WorkDir != "" {
		cmd.Dir = cli.WorkDir
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	e.log.Debug("running cli task",
		logger.Field{Key: "agent_id", Value: a.ID},
		logger.Field{Key: "binary", Value: cli.Binary},
	)

	err := cmd.Run()
	output := out.String()
	if len(output) > maxCLIOutput {
		output = output[:maxCLIOutput] + "\n... (output truncated)"
	}

	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return &Result{Output: output}, ErrInterrupted
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Result{Output: output}, fmt.Errorf("cli task timed out after %s", timeout)
		}
		return &Result{Output: output}, fmt.Errorf("cli task failed: %w", err)
	}
	return &Result{Output: output}, nil
}
