// Package events streams run progress to observers. Every event is tagged
// with the run that produced it, and the bus drops events from superseded
// runs so a consumer never sees output from a run that was already replaced.
package events

import (
	"time"
)

// Type classifies run stream events.
type Type string

const (
	TypeRunStarted       Type = "run_started"
	TypeToolCallStart    Type = "tool_call_start"
	TypeToolCallEnd      Type = "tool_call_end"
	TypeToken            Type = "token"
	TypeApprovalRequired Type = "approval_required"
	TypeRunCompleted     Type = "run_completed"
	TypeRunFailed        Type = "run_failed"
	TypeRunCancelled     Type = "run_cancelled"
)

// Event is one entry in a run's progress stream.
type Event struct {
	Type    Type   `json:"type"`
	AgentID string `json:"agent_id"`
	RunID   string `json:"run_id"`

	Tool     string `json:"tool,omitempty"`
	ToolArgs string `json:"tool_args,omitempty"`
	Text     string `json:"text,omitempty"`
	Error    string `json:"error,omitempty"`

	Tokens     int64   `json:"tokens,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	DurationMs int64   `json:"duration_ms,omitempty"`

	Timestamp int64 `json:"timestamp"`
}

// New creates an event stamped with the current time.
func New(typ Type, agentID, runID string) Event {
	return Event{
		Type:      typ,
		AgentID:   agentID,
		RunID:     runID,
		Timestamp: time.Now().UnixMilli(),
	}
}

// Terminal reports whether the event ends its run's stream.
func (e Event) Terminal() bool {
	switch e.Type {
	case TypeRunCompleted, TypeRunFailed, TypeRunCancelled:
		return true
	}
	return false
}
