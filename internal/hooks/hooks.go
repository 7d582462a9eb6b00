// Package hooks reacts to run lifecycle events with configured actions:
// calling a webhook, running a script, messaging an operator, or triggering
// another agent. Hook failures are logged and counted but never affect the
// run that fired them.
package hooks

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Event is a run lifecycle moment hooks can subscribe to.
type Event string

const (
	EventTaskStarted   Event = "task_started"
	EventTaskCompleted Event = "task_completed"
	EventTaskFailed    Event = "task_failed"
	EventTaskCancelled Event = "task_cancelled"
)

// ActionType discriminates the hook action variants.
type ActionType string

const (
	ActionWebhook     ActionType = "webhook"
	ActionScript      ActionType = "script"
	ActionSendMessage ActionType = "send_message"
	ActionRunTask     ActionType = "run_task"
)

// Action is the tagged action variant. Exactly one field group applies,
// selected by Type.
type Action struct {
	Type ActionType `json:"type" yaml:"type"`

	// Webhook
	URL     string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// Script
	Command    string `json:"command,omitempty" yaml:"command,omitempty"`
	TimeoutSec int    `json:"timeout_sec,omitempty" yaml:"timeout_sec,omitempty"`

	// SendMessage
	Channel string `json:"channel,omitempty" yaml:"channel,omitempty"`
	ChatID  string `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	Text    string `json:"text,omitempty" yaml:"text,omitempty"`

	// RunTask
	TargetAgentID string `json:"target_agent_id,omitempty" yaml:"target_agent_id,omitempty"`
	Input         string `json:"input,omitempty" yaml:"input,omitempty"`
}

// Filter narrows which runs a hook fires for. Zero value matches all.
type Filter struct {
	// TaskNamePattern is a glob matched against the agent's name.
	TaskNamePattern string `json:"task_name_pattern,omitempty" yaml:"task_name_pattern,omitempty"`
	// AgentID matches one specific background agent.
	AgentID string `json:"agent_id,omitempty" yaml:"agent_id,omitempty"`
	// SuccessOnly skips runs that did not succeed.
	SuccessOnly bool `json:"success_only,omitempty" yaml:"success_only,omitempty"`
}

// Hook binds an event and filter to an action.
type Hook struct {
	ID      string `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Event   Event  `json:"event" yaml:"event"`
	Filter  Filter `json:"filter" yaml:"filter"`
	Action  Action `json:"action" yaml:"action"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

// New creates an enabled hook with a fresh id.
func New(name string, event Event, action Action) *Hook {
	return &Hook{
		ID:      uuid.NewString(),
		Name:    name,
		Event:   event,
		Action:  action,
		Enabled: true,
	}
}

// Validate checks the hook configuration.
func (h *Hook) Validate() error {
	switch h.Event {
	case EventTaskStarted, EventTaskCompleted, EventTaskFailed, EventTaskCancelled:
	default:
		return fmt.Errorf("unknown hook event: %q", h.Event)
	}
	switch h.Action.Type {
	case ActionWebhook:
		if h.Action.URL == "" {
			return fmt.Errorf("webhook action requires a url")
		}
	case ActionScript:
		if h.Action.Command == "" {
			return fmt.Errorf("script action requires a command")
		}
	case ActionSendMessage:
		if h.Action.Text == "" {
			return fmt.Errorf("send_message action requires text")
		}
	case ActionRunTask:
		if h.Action.TargetAgentID == "" {
			return fmt.Errorf("run_task action requires a target agent id")
		}
	default:
		return fmt.Errorf("unknown hook action: %q", h.Action.Type)
	}
	return nil
}

// Context carries run details into hook actions and template placeholders.
type Context struct {
	Event      Event  `json:"event"`
	TaskID     string `json:"task_id"`
	TaskName   string `json:"task_name"`
	AgentID    string `json:"agent_id"`
	Success    bool   `json:"success"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// JSON renders the context as the webhook payload.
func (c Context) JSON() ([]byte, error) {
	return json.Marshal(c)
}
