package hooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/nightshift-run/nightshift/internal/logger"
	"github.com/nightshift-run/nightshift/internal/metrics"
	"github.com/nightshift-run/nightshift/internal/notify"
	"github.com/nightshift-run/nightshift/internal/sandbox"
)

const (
	defaultScriptTimeout  = 30 * time.Second
	defaultWebhookTimeout = 10 * time.Second
)

// TaskRunner triggers a run of another agent. Implemented by the scheduler.
type TaskRunner interface {
	RunTask(ctx context.Context, agentID, input string) error
}

// TaskRunnerFunc adapts a function to TaskRunner.
type TaskRunnerFunc func(ctx context.Context, agentID, input string) error

func (f TaskRunnerFunc) RunTask(ctx context.Context, agentID, input string) error {
	return f(ctx, agentID, input)
}

// Engine dispatches hook actions. All action failures are logged and
// counted, then swallowed.
type Engine struct {
	client   *http.Client
	runner   sandbox.Runner
	channels *notify.Registry
	tasks    TaskRunner
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// NewEngine creates a hook engine. runner, channels, tasks and m may be nil;
// actions that need a missing collaborator fail with a logged error.
func NewEngine(runner sandbox.Runner, channels *notify.Registry, tasks TaskRunner, m *metrics.Metrics, log *logger.Logger) *Engine {
	return &Engine{
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		runner:   runner,
		channels: channels,
		tasks:    tasks,
		metrics:  m,
		log:      log,
	}
}

// SetTaskRunner installs the run_task collaborator. The scheduler is built
// after the engine, so this is wired late.
func (e *Engine) SetTaskRunner(tasks TaskRunner) {
	e.tasks = tasks
}

// Fire runs every matching hook for the event described by hctx.
func (e *Engine) Fire(ctx context.Context, hooks []*Hook, hctx Context) {
	for _, h := range hooks {
		if !e.matches(h, hctx) {
			continue
		}
		if err := e.dispatch(ctx, h, hctx); err != nil {
			e.record(h, "error")
			e.log.Warn("hook failed",
				logger.Field{Key: "hook", Value: h.Name},
				logger.Field{Key: "action", Value: string(h.Action.Type)},
				logger.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		e.record(h, "ok")
		e.log.Debug("hook fired",
			logger.Field{Key: "hook", Value: h.Name},
			logger.Field{Key: "action", Value: string(h.Action.Type)},
		)
	}
}

func (e *Engine) record(h *Hook, outcome string) {
	if e.metrics != nil {
		e.metrics.HookExecutions.WithLabelValues(string(h.Action.Type), outcome).Inc()
	}
}

func (e *Engine) matches(h *Hook, hctx Context) bool {
	if !h.Enabled || h.Event != hctx.Event {
		return false
	}
	f := h.Filter
	if f.AgentID != "" && f.AgentID != hctx.AgentID {
		return false
	}
	if f.SuccessOnly && !hctx.Success {
		return false
	}
	if f.TaskNamePattern != "" {
		ok, err := path.Match(f.TaskNamePattern, hctx.TaskName)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

func (e *Engine) dispatch(ctx context.Context, h *Hook, hctx Context) error {
	switch h.Action.Type {
	case ActionWebhook:
		return e.webhook(ctx, h.Action, hctx)
	case ActionScript:
		return e.script(ctx, h.Action, hctx)
	case ActionSendMessage:
		return e.sendMessage(ctx, h.Action, hctx)
	case ActionRunTask:
		return e.runTask(ctx, h.Action, hctx)
	default:
		return fmt.Errorf("unknown hook action: %q", h.Action.Type)
	}
}

func (e *Engine) webhook(ctx context.Context, a Action, hctx Context) error {
	body, err := hctx.JSON()
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range a.Headers {
		req.Header.Set(k, v)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (e *Engine) script(ctx context.Context, a Action, hctx Context) error {
	if e.runner == nil {
		return fmt.Errorf("no script runner configured")
	}

	timeout := defaultScriptTimeout
	if a.TimeoutSec > 0 {
		timeout = time.Duration(a.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, err := e.runner.Run(ctx, Render(a.Command, hctx), "")
	return err
}

func (e *Engine) sendMessage(ctx context.Context, a Action, hctx Context) error {
	if e.channels == nil {
		return fmt.Errorf("no notification channels configured")
	}
	return e.channels.Get(a.Channel).Send(ctx, a.ChatID, Render(a.Text, hctx))
}

func (e *Engine) runTask(ctx context.Context, a Action, hctx Context) error {
	if e.tasks == nil {
		return fmt.Errorf("no task runner configured")
	}
	return e.tasks.RunTask(ctx, a.TargetAgentID, Render(a.Input, hctx))
}

// Render expands {{placeholder}} occurrences from the hook context.
func Render(s string, hctx Context) string {
	r := strings.NewReplacer(
		"{{event}}", string(hctx.Event),
		"{{task_id}}", hctx.TaskID,
		"{{task_name}}", hctx.TaskName,
		"{{agent_id}}", hctx.AgentID,
		"{{success}}", strconv.FormatBool(hctx.Success),
		"{{output}}", hctx.Output,
		"{{error}}", hctx.Error,
		"{{duration}}", strconv.FormatInt(hctx.DurationMs, 10),
	)
	return r.Replace(s)
}
