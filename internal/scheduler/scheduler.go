// Package scheduler drives background agents through their lifecycle: a
// poll loop claims due agents, hands runs to the worker pool, and a result
// loop applies outcomes, schedules retries, fires hooks, and sends
// notifications.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nightshift-run/nightshift/internal/background"
	"github.com/nightshift-run/nightshift/internal/executor"
	"github.com/nightshift-run/nightshift/internal/hooks"
	"github.com/nightshift-run/nightshift/internal/logger"
	"github.com/nightshift-run/nightshift/internal/metrics"
	"github.com/nightshift-run/nightshift/internal/notify"
	"github.com/nightshift-run/nightshift/internal/retry"
	"github.com/nightshift-run/nightshift/internal/store"
	"github.com/nightshift-run/nightshift/internal/workers"
)

// DefaultTickInterval is how often the scheduler scans for due agents.
const DefaultTickInterval = 1 * time.Second

// Config tunes the scheduler.
type Config struct {
	TickInterval time.Duration
	Retry        retry.Config
}

func (c Config) normalized() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	return c
}

// Scheduler owns the run lifecycle for all background agents.
type Scheduler struct {
	cfg      Config
	store    *store.Store
	exec     *executor.Executor
	pool     *workers.Pool
	hooks    *hooks.Engine
	channels *notify.Registry
	metrics  *metrics.Metrics
	log      *logger.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // agent id -> in-flight run cancel
	runIDs  map[string]string             // agent id -> in-flight run id
	retries map[string]*retry.State       // agent id -> retry state
	results sync.Map                      // run id -> *executor.Result

	kick chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	stopOnce sync.Once
}

// New creates a scheduler. hookEngine, channels and m may be nil.
func New(
	cfg Config,
	st *store.Store,
	exec *executor.Executor,
	pool *workers.Pool,
	hookEngine *hooks.Engine,
	channels *notify.Registry,
	m *metrics.Metrics,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:      cfg.normalized(),
		store:    st,
		exec:     exec,
		pool:     pool,
		hooks:    hookEngine,
		channels: channels,
		metrics:  m,
		log:      log,
		cancels:  make(map[string]context.CancelFunc),
		runIDs:   make(map[string]string),
		retries:  make(map[string]*retry.State),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Start recovers stale runs, starts the worker pool, and begins ticking.
func (s *Scheduler) Start(ctx context.Context) error {
	recovered, err := s.store.RecoverStaleRunning(time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("recover stale runs: %w", err)
	}
	if recovered > 0 {
		s.log.Info("recovered stale running agents", logger.Field{Key: "count", Value: recovered})
	}

	s.pool.Start()

	s.wg.Add(2)
	go s.tickLoop(ctx)
	go s.resultLoop(ctx)

	s.log.Info("scheduler started", logger.Field{Key: "tick", Value: s.cfg.TickInterval.String()})
	return nil
}

// Stop shuts the scheduler down. In-flight runs finish first: the pool is
// drained before the result loop is released.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.pool.Stop()
		s.wg.Wait()
		s.log.Info("scheduler stopped")
	})
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.tick(ctx)
		case <-s.kick:
			s.tick(ctx)
		}
	}
}

// tick claims every due agent and submits its run. The claim (Active ->
// Running, persisted) happens before submission, so a second tick can never
// pick the same agent up again.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UnixMilli()
	due, err := s.store.ListDue(now)
	if err != nil {
		s.log.Error("list due agents", err)
		return
	}
	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(s.pool.QueueDepth()))
	}

	for _, a := range due {
		if err := s.dispatch(ctx, a, now); err != nil {
			s.log.Error("dispatch run", err, logger.Field{Key: "agent_id", Value: a.ID})
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, a *background.Agent, now int64) error {
	if err := a.SetRunning(now); err != nil {
		return err
	}
	if err := s.store.SaveAgent(a); err != nil {
		return err
	}

	runID := uuid.NewString()
	agent := a
	task := workers.Task{
		ID:      runID,
		AgentID: agent.ID,
		Run: func(taskCtx context.Context) (string, error) {
			runCtx, cancel := context.WithCancel(taskCtx)
			s.registerRun(agent.ID, runID, cancel)
			defer s.unregisterRun(agent.ID, runID)

			res, err := s.exec.Run(runCtx, agent, runID)
			if res != nil {
				s.results.Store(runID, res)
			}
			if err != nil {
				return "", err
			}
			return res.Output, nil
		},
	}

	if !s.pool.TrySubmit(task) {
		// Pool saturated: release the claim so the next tick retries.
		agent.Status = background.StatusActive
		agent.UpdatedAt = time.Now().UnixMilli()
		if err := s.store.SaveAgent(agent); err != nil {
			return fmt.Errorf("release claim: %w", err)
		}
		s.log.Warn("worker pool saturated, run deferred",
			logger.Field{Key: "agent_id", Value: agent.ID})
		return nil
	}

	if s.metrics != nil {
		s.metrics.RunsStarted.Inc()
	}
	ev := background.NewEvent(agent.ID, background.EventRunStarted)
	ev.RunID = runID
	if err := s.store.AppendEvent(ev); err != nil {
		s.log.Warn("record run start", logger.Field{Key: "error", Value: err.Error()})
	}
	s.fireHooks(ctx, hooks.Context{
		Event:    hooks.EventTaskStarted,
		TaskID:   runID,
		TaskName: agent.Name,
		AgentID:  agent.ID,
	})
	return nil
}

func (s *Scheduler) registerRun(agentID, runID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[agentID] = cancel
	s.runIDs[agentID] = runID
}

func (s *Scheduler) unregisterRun(agentID, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runIDs[agentID] == runID {
		delete(s.cancels, agentID)
		delete(s.runIDs, agentID)
	}
}

// CancelRun stops an agent's in-flight run. The run observes the
// cancellation at its next suspension point; a tool call already executing
// finishes first.
func (s *Scheduler) CancelRun(agentID string) error {
	s.mu.Lock()
	cancel, ok := s.cancels[agentID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("agent %s has no run in flight", agentID)
	}
	cancel()
	return nil
}

// Running reports whether the agent has a run in flight.
func (s *Scheduler) Running(agentID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.cancels[agentID]
	return ok
}

// RunNow pulls an agent's next run to the present. The agent must be
// schedulable; the run starts on the next tick, which is kicked immediately.
func (s *Scheduler) RunNow(agentID string) error {
	a, err := s.store.GetAgent(agentID)
	if err != nil {
		return err
	}
	if a.Status != background.StatusActive {
		if err := a.Rearm(time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("run now: %w", err)
		}
	}
	a.NextRunAt = time.Now().UnixMilli()
	a.UpdatedAt = a.NextRunAt
	if err := s.store.SaveAgent(a); err != nil {
		return err
	}
	s.Kick()
	return nil
}

// RunTask implements hooks.TaskRunner: a hook can trigger another agent,
// optionally queueing rendered input as an operator message first.
func (s *Scheduler) RunTask(_ context.Context, agentID, input string) error {
	if input != "" {
		if err := s.store.SaveMessage(background.NewMessage(agentID, input)); err != nil {
			return err
		}
	}
	return s.RunNow(agentID)
}

// Kick nudges the tick loop without waiting for the ticker.
func (s *Scheduler) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Scheduler) resultLoop(ctx context.Context) {
	defer s.wg.Done()
	for r := range s.pool.Results() {
		s.applyResult(ctx, r)
	}
}

// applyResult folds one finished run back into the agent record: success
// re-arms or completes, interruption parks the agent, and failure either
// schedules a retry or records the final failure.
func (s *Scheduler) applyResult(ctx context.Context, r workers.Result) {
	a, err := s.store.GetAgent(r.AgentID)
	if err != nil {
		s.log.Error("load agent for result", err, logger.Field{Key: "agent_id", Value: r.AgentID})
		return
	}
	now := time.Now().UnixMilli()
	wasPaused := a.Status == background.StatusPaused

	var usage *executor.Result
	if v, ok := s.results.LoadAndDelete(r.TaskID); ok {
		usage = v.(*executor.Result)
		a.RecordUsage(int64(usage.Usage.TotalTokens), usage.Usage.CostUSD)
	}
	if s.metrics != nil {
		s.metrics.RunDuration.Observe(r.Duration.Seconds())
	}

	switch {
	case r.Err == nil:
		s.applySuccess(ctx, a, r, usage, now)
	case errors.Is(r.Err, executor.ErrInterrupted):
		s.applyInterruption(ctx, a, r, now)
	default:
		s.applyFailure(ctx, a, r, now)
	}

	// An operator pause during the run wins over re-arming: the outcome is
	// recorded above, then the agent is parked until an explicit resume.
	if wasPaused && !a.Terminal() {
		delete(s.retries, a.ID)
		a.Status = background.StatusPaused
		a.NextRunAt = 0
		a.UpdatedAt = time.Now().UnixMilli()
		if err := s.store.SaveAgent(a); err != nil {
			s.log.Error("park paused agent", err, logger.Field{Key: "agent_id", Value: a.ID})
		}
	}
}

func (s *Scheduler) applySuccess(ctx context.Context, a *background.Agent, r workers.Result, usage *executor.Result, now int64) {
	a.SetCompleted(now)
	delete(s.retries, a.ID)
	if err := s.store.SaveAgent(a); err != nil {
		s.log.Error("save agent", err, logger.Field{Key: "agent_id", Value: a.ID})
	}
	if s.metrics != nil {
		s.metrics.RunsCompleted.Inc()
	}

	ev := background.NewEvent(a.ID, background.EventRunCompleted)
	ev.RunID = r.TaskID
	ev.Output = r.Output
	ev.DurationMs = r.Duration.Milliseconds()
	if usage != nil {
		ev.Tokens = int64(usage.Usage.TotalTokens)
		ev.CostUSD = usage.Usage.CostUSD
	}
	s.appendEvent(ev)

	s.log.Info("run completed",
		logger.Field{Key: "agent_id", Value: a.ID},
		logger.Field{Key: "run_id", Value: r.TaskID},
		logger.Field{Key: "duration", Value: r.Duration.String()},
	)

	s.fireHooks(ctx, hooks.Context{
		Event:      hooks.EventTaskCompleted,
		TaskID:     r.TaskID,
		TaskName:   a.Name,
		AgentID:    a.ID,
		Success:    true,
		Output:     r.Output,
		DurationMs: r.Duration.Milliseconds(),
	})
	if a.Notification.Enabled && a.Notification.OnSuccess {
		s.notifyOutcome(ctx, a, fmt.Sprintf("✅ %s completed: %s", a.Name, clip(r.Output, 500)))
	}
}

func (s *Scheduler) applyInterruption(ctx context.Context, a *background.Agent, r workers.Result, now int64) {
	a.SetInterrupted(now)
	delete(s.retries, a.ID)
	if err := s.store.SaveAgent(a); err != nil {
		s.log.Error("save agent", err, logger.Field{Key: "agent_id", Value: a.ID})
	}
	if s.metrics != nil {
		s.metrics.RunsCancelled.Inc()
	}

	ev := background.NewEvent(a.ID, background.EventRunInterrupted)
	ev.RunID = r.TaskID
	s.appendEvent(ev)

	s.log.Info("run interrupted",
		logger.Field{Key: "agent_id", Value: a.ID},
		logger.Field{Key: "run_id", Value: r.TaskID},
	)

	s.fireHooks(ctx, hooks.Context{
		Event:      hooks.EventTaskCancelled,
		TaskID:     r.TaskID,
		TaskName:   a.Name,
		AgentID:    a.ID,
		DurationMs: r.Duration.Milliseconds(),
	})
}

func (s *Scheduler) applyFailure(ctx context.Context, a *background.Agent, r workers.Result, now int64) {
	state, ok := s.retries[a.ID]
	if !ok {
		st := retry.NewState()
		state = &st
		s.retries[a.ID] = state
	}

	if retry.IsRetryable(r.Err) && state.RecordFailure(s.cfg.Retry, now, r.Err) {
		// Another attempt is scheduled: the agent stays Active with its
		// next run pulled to the retry time.
		a.Status = background.StatusActive
		a.NextRunAt = state.NextRetryAt
		a.LastError = r.Err.Error()
		a.UpdatedAt = now
		if err := s.store.SaveAgent(a); err != nil {
			s.log.Error("save agent", err, logger.Field{Key: "agent_id", Value: a.ID})
		}
		if s.metrics != nil {
			s.metrics.RunsRetried.Inc()
		}

		ev := background.NewEvent(a.ID, background.EventRetryScheduled)
		ev.RunID = r.TaskID
		ev.Error = r.Err.Error()
		ev.Message = fmt.Sprintf("retry %d of %d at %s",
			state.Attempt, s.cfg.Retry.MaxAttempts,
			time.UnixMilli(state.NextRetryAt).UTC().Format(time.RFC3339))
		s.appendEvent(ev)

		s.log.Warn("run failed, retry scheduled",
			logger.Field{Key: "agent_id", Value: a.ID},
			logger.Field{Key: "attempt", Value: state.Attempt},
			logger.Field{Key: "error", Value: r.Err.Error()},
		)
		return
	}

	// Permanent failure or retries exhausted.
	delete(s.retries, a.ID)
	a.SetFailed(now, r.Err.Error())
	if err := s.store.SaveAgent(a); err != nil {
		s.log.Error("save agent", err, logger.Field{Key: "agent_id", Value: a.ID})
	}
	if s.metrics != nil {
		s.metrics.RunsFailed.Inc()
	}

	ev := background.NewEvent(a.ID, background.EventRunFailed)
	ev.RunID = r.TaskID
	ev.Error = r.Err.Error()
	ev.DurationMs = r.Duration.Milliseconds()
	s.appendEvent(ev)

	s.log.Error("run failed", r.Err,
		logger.Field{Key: "agent_id", Value: a.ID},
		logger.Field{Key: "run_id", Value: r.TaskID},
	)

	s.fireHooks(ctx, hooks.Context{
		Event:      hooks.EventTaskFailed,
		TaskID:     r.TaskID,
		TaskName:   a.Name,
		AgentID:    a.ID,
		Error:      r.Err.Error(),
		DurationMs: r.Duration.Milliseconds(),
	})
	if a.Notification.Enabled && a.Notification.OnFailure {
		s.notifyOutcome(ctx, a, fmt.Sprintf("❌ %s failed: %s", a.Name, clip(r.Err.Error(), 500)))
	}
}

func (s *Scheduler) appendEvent(ev *background.Event) {
	if err := s.store.AppendEvent(ev); err != nil {
		s.log.Warn("record event",
			logger.Field{Key: "type", Value: string(ev.Type)},
			logger.Field{Key: "error", Value: err.Error()},
		)
	}
}

func (s *Scheduler) fireHooks(ctx context.Context, hctx hooks.Context) {
	if s.hooks == nil {
		return
	}
	enabled, err := s.store.EnabledHooks()
	if err != nil {
		s.log.Warn("load hooks", logger.Field{Key: "error", Value: err.Error()})
		return
	}
	if len(enabled) == 0 {
		return
	}
	s.hooks.Fire(ctx, enabled, hctx)
}

func (s *Scheduler) notifyOutcome(ctx context.Context, a *background.Agent, text string) {
	if s.channels == nil {
		return
	}
	if err := s.channels.Get(a.Notification.Channel).Send(ctx, a.Notification.ChatID, text); err != nil {
		s.log.Warn("send notification",
			logger.Field{Key: "agent_id", Value: a.ID},
			logger.Field{Key: "error", Value: err.Error()},
		)
	}
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
