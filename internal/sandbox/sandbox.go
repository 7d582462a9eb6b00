// Package sandbox runs approved shell commands, either directly on the host
// or inside a throwaway Docker container with resource limits.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/nightshift-run/nightshift/internal/logger"
)

// MaxOutputSize caps captured command output.
const MaxOutputSize = 1 * 1024 * 1024

// Runner executes one shell command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, command, workDir string) (string, error)
}

// LocalRunner executes commands on the host via sh -c. The caller bounds
// execution time through the context.
type LocalRunner struct {
	log *logger.Logger
}

// NewLocalRunner creates a host runner.
func NewLocalRunner(log *logger.Logger) *LocalRunner {
	return &LocalRunner{log: log}
}

// Run implements Runner.
func (r *LocalRunner) Run(ctx context.Context, command, workDir string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	if workDir != "" {
		cmd.Dir = workDir
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	output := truncateOutput(buf.String())

	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("command timed out")
	}
	if err != nil {
		r.log.Debug("command failed",
			logger.Field{Key: "command", Value: command},
			logger.Field{Key: "error", Value: err.Error()},
		)
		return output, fmt.Errorf("command failed: %w", err)
	}
	return output, nil
}

func truncateOutput(s string) string {
	if len(s) <= MaxOutputSize {
		return strings.TrimRight(s, "\n")
	}
	return s[:MaxOutputSize] + "\n[output truncated]"
}
