// Package service is the management surface over the agent store and
// scheduler: the CLI and any transport talk to this facade rather than to
// the underlying layers.
package service

import (
	"fmt"
	"time"

	"github.com/nightshift-run/nightshift/internal/approval"
	"github.com/nightshift-run/nightshift/internal/background"
	"github.com/nightshift-run/nightshift/internal/hooks"
	"github.com/nightshift-run/nightshift/internal/logger"
	"github.com/nightshift-run/nightshift/internal/memory"
	"github.com/nightshift-run/nightshift/internal/schedule"
	"github.com/nightshift-run/nightshift/internal/store"
)

// ControlAction is an operator command against one agent.
type ControlAction string

const (
	ControlStart  ControlAction = "start"
	ControlPause  ControlAction = "pause"
	ControlResume ControlAction = "resume"
	ControlStop   ControlAction = "stop"
	ControlRunNow ControlAction = "run_now"
)

// Runner is the scheduler operations the service needs.
type Runner interface {
	RunNow(agentID string) error
	CancelRun(agentID string) error
	Running(agentID string) bool
	Kick()
}

// Service exposes agent, hook, and approval management.
type Service struct {
	store    *store.Store
	runner   Runner
	approval *approval.Manager
	log      *logger.Logger
}

// New creates the service.
func New(st *store.Store, runner Runner, appr *approval.Manager, log *logger.Logger) *Service {
	return &Service{store: st, runner: runner, approval: appr, log: log}
}

// CreateParams describes a new background agent.
type CreateParams struct {
	Name          string
	Description   string
	AgentID       string
	Input         string
	InputTemplate string
	Schedule      schedule.Schedule
	Mode          background.ExecutionMode
	CLI           *background.CLIConfig
	Memory        *background.MemoryConfig
	Notification  background.NotificationConfig
}

// CreateAgent validates and persists a new agent in Active status.
func (s *Service) CreateAgent(p CreateParams) (*background.Agent, error) {
	a := background.New(p.Name, p.AgentID, p.Input, p.Schedule)
	a.Description = p.Description
	a.InputTemplate = p.InputTemplate
	a.Notification = p.Notification
	if p.Mode != "" {
		a.Mode = p.Mode
	}
	a.CLI = p.CLI
	if p.Memory != nil {
		a.Memory = *p.Memory
	}

	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}
	if a.NextRunAt == 0 && !a.Schedule.Recurring() {
		return nil, fmt.Errorf("invalid agent configuration: run time is in the past")
	}
	if err := s.store.SaveAgent(a); err != nil {
		return nil, err
	}

	s.log.Info("agent created",
		logger.Field{Key: "id", Value: a.ID},
		logger.Field{Key: "name", Value: a.Name},
	)
	s.runner.Kick()
	return a, nil
}

// UpdateParams carries the fields an update may change. Nil fields are left
// untouched.
type UpdateParams struct {
	Name          *string
	Description   *string
	Input         *string
	InputTemplate *string
	Schedule      *schedule.Schedule
}

// UpdateAgent applies a partial update to an existing agent. Updates are
// rejected while a run is in flight. A schedule change recomputes the next
// run time; a paused agent stays parked until it is resumed.
func (s *Service) UpdateAgent(id string, p UpdateParams) (*background.Agent, error) {
	if s.runner.Running(id) {
		return nil, fmt.Errorf("agent %s has a run in flight; stop it before updating", id)
	}
	a, err := s.store.GetAgent(id)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		a.Name = *p.Name
	}
	if p.Description != nil {
		a.Description = *p.Description
	}
	if p.Input != nil {
		a.Input = *p.Input
	}
	if p.InputTemplate != nil {
		a.InputTemplate = *p.InputTemplate
	}

	now := time.Now().UnixMilli()
	if p.Schedule != nil {
		a.Schedule = *p.Schedule
		switch a.Status {
		case background.StatusPaused:
			a.NextRunAt = 0
		default:
			a.Status = background.StatusActive
			a.NextRunAt = a.Schedule.Next(now)
			if a.NextRunAt == 0 && !a.Schedule.Recurring() {
				return nil, fmt.Errorf("invalid agent configuration: run time is in the past")
			}
		}
	}
	a.UpdatedAt = now

	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent configuration: %w", err)
	}
	if err := s.store.SaveAgent(a); err != nil {
		return nil, err
	}

	s.log.Info("agent updated",
		logger.Field{Key: "id", Value: a.ID},
		logger.Field{Key: "name", Value: a.Name},
	)
	s.runner.Kick()
	return a, nil
}

// GetAgent loads one agent.
func (s *Service) GetAgent(id string) (*background.Agent, error) {
	return s.store.GetAgent(id)
}

// ListAgents returns agents, optionally filtered to one status. An empty
// status means all.
func (s *Service) ListAgents(status background.Status) ([]*background.Agent, error) {
	if status == "" {
		return s.store.ListAgents()
	}
	return s.store.ListByStatus(status)
}

// DeleteAgent removes an agent, its history, and its private memory scope. A
// run in flight is cancelled first. Shared-scope memory outlives the agent.
func (s *Service) DeleteAgent(id string) error {
	if s.runner.Running(id) {
		if err := s.runner.CancelRun(id); err != nil {
			return err
		}
	}
	if err := s.store.DeleteAgent(id); err != nil {
		return err
	}
	scope := memory.ScopeKey(background.MemoryConfig{Scope: background.ScopePerAgent}, "", id)
	if n, err := s.store.ClearMemory(scope); err != nil {
		s.log.Error("clear agent memory", err, logger.Field{Key: "agent_id", Value: id})
	} else if n > 0 {
		s.log.Info("agent memory cleared",
			logger.Field{Key: "agent_id", Value: id},
			logger.Field{Key: "entries", Value: n},
		)
	}
	return nil
}

// Control applies an operator command to one agent.
func (s *Service) Control(id string, action ControlAction) error {
	a, err := s.store.GetAgent(id)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()

	switch action {
	case ControlStart:
		if err := a.Rearm(now); err != nil {
			return err
		}
	case ControlPause:
		if err := a.Pause(now); err != nil {
			return err
		}
	case ControlResume:
		if err := a.Resume(now); err != nil {
			return err
		}
	case ControlStop:
		return s.runner.CancelRun(id)
	case ControlRunNow:
		return s.runner.RunNow(id)
	default:
		return fmt.Errorf("unknown control action: %q", action)
	}

	if err := s.store.SaveAgent(a); err != nil {
		return err
	}
	s.runner.Kick()
	return nil
}

// Progress returns an agent's most recent run events, newest first.
func (s *Service) Progress(id string, limit int) ([]*background.Event, error) {
	if _, err := s.store.GetAgent(id); err != nil {
		return nil, err
	}
	return s.store.ListEvents(id, limit)
}

// SendMessage queues a message for injection into the agent's next run.
func (s *Service) SendMessage(agentID, content string) (*background.Message, error) {
	a, err := s.store.GetAgent(agentID)
	if err != nil {
		return nil, err
	}
	if a.Terminal() {
		return nil, fmt.Errorf("agent %s will not run again", agentID)
	}
	m := background.NewMessage(agentID, content)
	if err := s.store.SaveMessage(m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListMessages returns an agent's recent messages, newest first.
func (s *Service) ListMessages(agentID string, limit int) ([]*background.Message, error) {
	return s.store.ListMessages(agentID, limit)
}

// CreateHook validates and persists a hook.
func (s *Service) CreateHook(h *hooks.Hook) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("invalid hook: %w", err)
	}
	return s.store.SaveHook(h)
}

// ListHooks returns all hooks.
func (s *Service) ListHooks() ([]*hooks.Hook, error) {
	return s.store.ListHooks()
}

// SetHookEnabled toggles a hook.
func (s *Service) SetHookEnabled(id string, enabled bool) error {
	h, err := s.store.GetHook(id)
	if err != nil {
		return err
	}
	h.Enabled = enabled
	return s.store.SaveHook(h)
}

// DeleteHook removes a hook.
func (s *Service) DeleteHook(id string) error {
	return s.store.DeleteHook(id)
}

// PendingApprovals lists approvals waiting for an operator.
func (s *Service) PendingApprovals() []*approval.Request {
	return s.approval.Pending()
}

// RespondApproval resolves a pending approval.
func (s *Service) RespondApproval(id string, approved bool) error {
	return s.approval.Respond(id, approved)
}
