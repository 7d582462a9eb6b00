package background

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies run events in an agent's history.
type EventType string

const (
	EventRunStarted     EventType = "run_started"
	EventRunCompleted   EventType = "run_completed"
	EventRunFailed      EventType = "run_failed"
	EventRunInterrupted EventType = "run_interrupted"
	EventRetryScheduled EventType = "retry_scheduled"
	EventApprovalNeeded EventType = "approval_needed"
)

// Event is one entry in an agent's append-only run history.
type Event struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	RunID      string    `json:"run_id,omitempty"`
	Type       EventType `json:"type"`
	Message    string    `json:"message,omitempty"`
	Output     string    `json:"output,omitempty"`
	Error      string    `json:"error,omitempty"`
	Tokens     int64     `json:"tokens,omitempty"`
	CostUSD    float64   `json:"cost_usd,omitempty"`
	DurationMs int64     `json:"duration_ms,omitempty"`
	CreatedAt  int64     `json:"created_at"`
}

// NewEvent creates a timestamped event for the given agent.
func NewEvent(agentID string, typ EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Type:      typ,
		CreatedAt: time.Now().UnixMilli(),
	}
}
