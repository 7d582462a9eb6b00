// Package approval implements the operator approval gate. When policy marks
// a command as requiring approval, the run suspends here until an operator
// responds or the timeout elapses. A timeout counts as a denial.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nightshift-run/nightshift/internal/logger"
)

// Request is a pending approval for one command.
type Request struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	RunID     string    `json:"run_id"`
	Command   string    `json:"command"`
	Reason    string    `json:"reason"`
	Status    string    `json:"status"` // pending, approved, denied, timeout
	CreatedAt time.Time `json:"created_at"`
}

// ErrTimedOut is returned by Wait when no operator responded in time.
var ErrTimedOut = fmt.Errorf("approval timed out")

// Manager tracks pending approvals and routes operator responses to the
// blocked runs waiting on them.
type Manager struct {
	mu       sync.Mutex
	pending  map[string]chan bool
	requests map[string]*Request
	timeout  time.Duration
	log      *logger.Logger
}

// NewManager creates a manager with the given response timeout.
func NewManager(timeout time.Duration, log *logger.Logger) *Manager {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Manager{
		pending:  make(map[string]chan bool),
		requests: make(map[string]*Request),
		timeout:  timeout,
		log:      log,
	}
}

// Create registers a new approval request and returns it.
func (m *Manager) Create(agentID, runID, command, reason string) *Request {
	req := &Request{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		RunID:     runID,
		Command:   command,
		Reason:    reason,
		Status:    "pending",
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.pending[req.ID] = make(chan bool, 1)
	m.requests[req.ID] = req
	m.mu.Unlock()

	m.log.Info("approval requested",
		logger.Field{Key: "approval_id", Value: req.ID},
		logger.Field{Key: "agent_id", Value: agentID},
		logger.Field{Key: "command", Value: command},
	)
	return req
}

// Wait blocks until the request is answered, the timeout elapses, or ctx is
// cancelled. A timeout resolves to denial with ErrTimedOut; cancellation
// returns the context error so the caller can tell a stop from a denial.
func (m *Manager) Wait(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	ch, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("no pending approval: %s", id)
	}

	timer := time.NewTimer(m.timeout)
	defer timer.Stop()

	select {
	case approved := <-ch:
		status := "denied"
		if approved {
			status = "approved"
		}
		m.resolve(id, status)
		return approved, nil
	case <-timer.C:
		m.resolve(id, "timeout")
		m.log.Warn("approval timed out", logger.Field{Key: "approval_id", Value: id})
		return false, ErrTimedOut
	case <-ctx.Done():
		m.resolve(id, "timeout")
		return false, ctx.Err()
	}
}

// Respond delivers an operator decision for a pending request.
func (m *Manager) Respond(id string, approved bool) error {
	m.mu.Lock()
	ch, ok := m.pending[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("no pending approval: %s", id)
	}

	select {
	case ch <- approved:
	default:
	}
	return nil
}

// Pending lists requests still waiting for a response.
func (m *Manager) Pending() []*Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Request, 0, len(m.pending))
	for id := range m.pending {
		if req, ok := m.requests[id]; ok {
			out = append(out, req)
		}
	}
	return out
}

func (m *Manager) resolve(id, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, id)
	if req, ok := m.requests[id]; ok {
		req.Status = status
		delete(m.requests, id)
	}
}
