// Package background defines the persistent model for background agents:
// the agent record itself, its lifecycle status machine, run events, and
// messages injected into a waiting agent.
package background

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nightshift-run/nightshift/internal/schedule"
)

// Status is the lifecycle state of a background agent.
type Status string

const (
	// StatusActive means the agent is armed and waiting for its next run.
	StatusActive Status = "active"
	// StatusRunning means a run is currently executing.
	StatusRunning Status = "running"
	// StatusCompleted is terminal: a one-shot agent finished successfully.
	StatusCompleted Status = "completed"
	// StatusFailed is terminal: the agent will never be scheduled again.
	StatusFailed Status = "failed"
	// StatusInterrupted means the last run was cancelled by an operator.
	StatusInterrupted Status = "interrupted"
	// StatusPaused means scheduling is suspended until an explicit resume.
	StatusPaused Status = "paused"
)

// ExecutionMode selects how the agent's task is executed.
type ExecutionMode string

const (
	// ModeAPI runs the task through the LLM provider reasoning loop.
	ModeAPI ExecutionMode = "api"
	// ModeCLI runs the task as a local subprocess.
	ModeCLI ExecutionMode = "cli"
)

// CLIConfig describes the subprocess for ModeCLI agents.
type CLIConfig struct {
	Binary     string   `json:"binary"`
	Args       []string `json:"args,omitempty"`
	WorkDir    string   `json:"work_dir,omitempty"`
	TimeoutSec int      `json:"timeout_sec,omitempty"`
}

// MemoryScope controls whether long-term memory is shared across all
// background agents bound to the same base agent, or private to one.
type MemoryScope string

const (
	ScopeSharedAgent MemoryScope = "shared_agent"
	ScopePerAgent    MemoryScope = "per_background_agent"
)

// MemoryConfig tunes the working-memory window for an agent's runs.
type MemoryConfig struct {
	MaxMessages       int         `json:"max_messages"`
	PersistOnComplete bool        `json:"persist_on_complete"`
	Scope             MemoryScope `json:"scope"`
}

// DefaultMemoryConfig matches what new agents get when no config is supplied.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		MaxMessages:       100,
		PersistOnComplete: true,
		Scope:             ScopeSharedAgent,
	}
}

// NotificationConfig controls where run outcomes are delivered.
type NotificationConfig struct {
	Enabled   bool   `json:"enabled"`
	Channel   string `json:"channel,omitempty"`
	ChatID    string `json:"chat_id,omitempty"`
	OnSuccess bool   `json:"on_success"`
	OnFailure bool   `json:"on_failure"`
}

// Agent is a scheduled background task bound to a base agent definition.
// All timestamps are milliseconds since the Unix epoch.
type Agent struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Description   string             `json:"description,omitempty"`
	AgentID       string             `json:"agent_id"`
	Input         string             `json:"input"`
	InputTemplate string             `json:"input_template,omitempty"`
	Schedule      schedule.Schedule  `json:"schedule"`
	Mode          ExecutionMode      `json:"execution_mode"`
	CLI           *CLIConfig         `json:"cli,omitempty"`
	Memory        MemoryConfig       `json:"memory"`
	Notification  NotificationConfig `json:"notification"`

	Status    Status `json:"status"`
	NextRunAt int64  `json:"next_run_at,omitempty"`
	LastRunAt int64  `json:"last_run_at,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`

	SuccessCount    int     `json:"success_count"`
	FailureCount    int     `json:"failure_count"`
	TotalTokensUsed int64   `json:"total_tokens_used"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
	LastError       string  `json:"last_error,omitempty"`
}

// New creates an agent in Active status with its first run computed from the
// schedule. The schedule must already be validated.
func New(name, agentID, input string, sched schedule.Schedule) *Agent {
	now := time.Now().UnixMilli()
	return &Agent{
		ID:        uuid.NewString(),
		Name:      name,
		AgentID:   agentID,
		Input:     input,
		Schedule:  sched,
		Mode:      ModeAPI,
		Memory:    DefaultMemoryConfig(),
		Status:    StatusActive,
		NextRunAt: sched.Next(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Validate checks the agent record for configuration errors.
func (a *Agent) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("agent name is required")
	}
	if a.AgentID == "" {
		return fmt.Errorf("base agent id is required")
	}
	if err := a.Schedule.Validate(); err != nil {
		return fmt.Errorf("schedule: %w", err)
	}
	switch a.Mode {
	case ModeAPI:
	case ModeCLI:
		if a.CLI == nil || a.CLI.Binary == "" {
			return fmt.Errorf("cli mode requires a binary")
		}
	default:
		return fmt.Errorf("unknown execution mode: %q", a.Mode)
	}
	if a.Memory.MaxMessages <= 0 {
		return fmt.Errorf("memory.max_messages must be positive")
	}
	return nil
}

// Terminal reports whether the agent will never run again.
func (a *Agent) Terminal() bool {
	return a.Status == StatusCompleted || a.Status == StatusFailed
}

// Due reports whether the agent should be picked up by the scheduler at now.
func (a *Agent) Due(now int64) bool {
	return a.Status == StatusActive && a.NextRunAt > 0 && a.NextRunAt <= now
}

// SetRunning transitions Active -> Running. The scheduler calls this when it
// claims the agent for a run.
func (a *Agent) SetRunning(now int64) error {
	if a.Status != StatusActive {
		return fmt.Errorf("cannot start run from status %q", a.Status)
	}
	a.Status = StatusRunning
	a.LastRunAt = now
	a.UpdatedAt = now
	return nil
}

// SetCompleted records a successful run. One-shot agents become Completed;
// recurring agents re-arm with a freshly computed next run.
func (a *Agent) SetCompleted(now int64) {
	a.SuccessCount++
	a.LastError = ""
	a.UpdatedAt = now
	if a.Schedule.Recurring() {
		a.Status = StatusActive
		a.NextRunAt = a.nextRun(now)
	} else {
		a.Status = StatusCompleted
		a.NextRunAt = 0
	}
}

// SetFailed records a run that exhausted its retries. Recurring agents still
// re-arm: a failed 9am report runs again tomorrow. A one-shot agent had its
// one run either way, so it ends Completed; the failure stays visible in
// failure_count and last_error.
func (a *Agent) SetFailed(now int64, runErr string) {
	a.FailureCount++
	a.LastError = runErr
	a.UpdatedAt = now
	if a.Schedule.Recurring() {
		a.Status = StatusActive
		a.NextRunAt = a.nextRun(now)
	} else {
		a.Status = StatusCompleted
		a.NextRunAt = 0
	}
}

// SetInterrupted records an operator-cancelled run. The schedule stays armed
// for recurring agents so a stop does not kill the series.
func (a *Agent) SetInterrupted(now int64) {
	a.Status = StatusInterrupted
	a.UpdatedAt = now
	if a.Schedule.Recurring() {
		a.NextRunAt = a.nextRun(now)
	} else {
		a.NextRunAt = 0
	}
}

// nextRun computes the re-arm time after a run. An unanchored interval series
// advances from the fire time, not the completion time, so run duration does
// not drift the series.
func (a *Agent) nextRun(now int64) int64 {
	if a.Schedule.Type == schedule.KindInterval && a.Schedule.StartAt == nil && a.LastRunAt > 0 {
		return a.LastRunAt + a.Schedule.IntervalMs
	}
	return a.Schedule.Next(now)
}

// Pause suspends scheduling. Pausing an already-paused agent is a no-op. A
// running agent can be paused as well: the in-flight run finishes and its
// outcome is recorded, but the agent is parked instead of re-armed.
func (a *Agent) Pause(now int64) error {
	switch a.Status {
	case StatusPaused:
		return nil
	case StatusActive, StatusInterrupted, StatusRunning:
		a.Status = StatusPaused
		a.UpdatedAt = now
		return nil
	default:
		return fmt.Errorf("cannot pause agent in status %q", a.Status)
	}
}

// Resume re-arms a paused agent. The next run is recomputed from now, so a
// fire time missed during the pause is not replayed.
func (a *Agent) Resume(now int64) error {
	if a.Status != StatusPaused {
		return fmt.Errorf("cannot resume agent in status %q", a.Status)
	}
	a.Status = StatusActive
	a.NextRunAt = a.Schedule.Next(now)
	a.UpdatedAt = now
	return nil
}

// Rearm recomputes the next run after an interrupted state, returning the
// agent to Active. Used by "start" on an Interrupted agent.
func (a *Agent) Rearm(now int64) error {
	switch a.Status {
	case StatusActive:
		return nil
	case StatusInterrupted, StatusPaused:
		a.Status = StatusActive
		a.NextRunAt = a.Schedule.Next(now)
		a.UpdatedAt = now
		return nil
	default:
		return fmt.Errorf("cannot re-arm agent in status %q", a.Status)
	}
}

// RecordUsage accumulates token and cost counters from a finished run.
func (a *Agent) RecordUsage(tokens int64, costUSD float64) {
	a.TotalTokensUsed += tokens
	a.TotalCostUSD += costUSD
}

// ResolveInput renders the effective task input. When an input template is
// set, {{input}} and {{now}} placeholders are substituted; otherwise the raw
// input is used as-is.
func (a *Agent) ResolveInput(now time.Time) string {
	if a.InputTemplate == "" {
		return a.Input
	}
	out := a.InputTemplate
	out = strings.ReplaceAll(out, "{{input}}", a.Input)
	out = strings.ReplaceAll(out, "{{now}}", now.UTC().Format(time.RFC3339))
	out = strings.ReplaceAll(out, "{{date}}", now.UTC().Format("2006-01-02"))
	return out
}

func (a *Agent) String() string {
	b, _ := json.Marshal(a)
	return string(b)
}
