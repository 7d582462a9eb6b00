// Package executor runs one background agent task to completion: it builds
// the per-run tool registry, drives the reason-act loop against the LLM
// provider, gates shell commands through policy and approval, and streams
// progress on the event bus.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nightshift-run/nightshift/internal/approval"
	"github.com/nightshift-run/nightshift/internal/background"
	"github.com/nightshift-run/nightshift/internal/events"
	"github.com/nightshift-run/nightshift/internal/llm"
	"github.com/nightshift-run/nightshift/internal/logger"
	"github.com/nightshift-run/nightshift/internal/memory"
	"github.com/nightshift-run/nightshift/internal/metrics"
	"github.com/nightshift-run/nightshift/internal/notify"
	"github.com/nightshift-run/nightshift/internal/policy"
	"github.com/nightshift-run/nightshift/internal/sandbox"
	"github.com/nightshift-run/nightshift/internal/secrets"
	"github.com/nightshift-run/nightshift/internal/store"
	"github.com/nightshift-run/nightshift/internal/tools"
)

const (
	// DefaultRunTimeout bounds one run end to end.
	DefaultRunTimeout = 300 * time.Second
	// DefaultMaxSteps bounds the reason-act loop.
	DefaultMaxSteps = 20
	// DefaultToolTimeout bounds a single tool call.
	DefaultToolTimeout = 60 * time.Second

	maxSubAgentSteps = 8
)

// ErrInterrupted marks a run stopped by an operator rather than a failure.
var ErrInterrupted = errors.New("run interrupted")

// Config tunes the executor.
type Config struct {
	Model       string
	Temperature float64
	MaxTokens   int
	RunTimeout  time.Duration
	MaxSteps    int
	ToolTimeout time.Duration
}

func (c Config) normalized() Config {
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	if c.MaxSteps <= 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	return c
}

// Result is the outcome of one run.
type Result struct {
	Output string
	Usage  llm.Usage
	Steps  int
}

// Executor coordinates single runs. One executor serves all agents; per-run
// state (working memory, tool registry) is built fresh for each run.
type Executor struct {
	cfg      Config
	provider llm.Provider
	store    *store.Store
	bus      *events.Bus
	policy   policy.Evaluator
	approval *approval.Manager
	runner   sandbox.Runner
	secrets  *secrets.Store
	channels *notify.Registry
	metrics  *metrics.Metrics
	log      *logger.Logger
}

// New creates an executor. bus, secrets, channels and m may be nil.
func New(
	cfg Config,
	provider llm.Provider,
	st *store.Store,
	bus *events.Bus,
	pol policy.Evaluator,
	appr *approval.Manager,
	runner sandbox.Runner,
	sec *secrets.Store,
	channels *notify.Registry,
	m *metrics.Metrics,
	log *logger.Logger,
) *Executor {
	return &Executor{
		cfg:      cfg.normalized(),
		provider: provider,
		store:    st,
		bus:      bus,
		policy:   pol,
		approval: appr,
		runner:   runner,
		secrets:  sec,
		channels: channels,
		metrics:  m,
		log:      log,
	}
}

// Run executes one run of the agent. The returned error is nil on success,
// ErrInterrupted when the operator cancelled mid-run, and the run failure
// otherwise. Progress is streamed on the bus under runID.
func (e *Executor) Run(ctx context.Context, a *background.Agent, runID string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
	defer cancel()

	if e.bus != nil {
		e.bus.BeginRun(a.ID, runID)
		defer e.bus.EndRun(a.ID, runID)
	}
	e.publish(events.New(events.TypeRunStarted, a.ID, runID))

	start := time.Now()
	res, err := e.execute(ctx, a, runID)
	elapsed := time.Since(start)

	switch {
	case errors.Is(err, ErrInterrupted):
		ev := events.New(events.TypeRunCancelled, a.ID, runID)
		ev.DurationMs = elapsed.Milliseconds()
		e.publish(ev)
	case err != nil:
		ev := events.New(events.TypeRunFailed, a.ID, runID)
		ev.Error = err.Error()
		ev.DurationMs = elapsed.Milliseconds()
		e.publish(ev)
	default:
		ev := events.New(events.TypeRunCompleted, a.ID, runID)
		ev.Tokens = int64(res.Usage.TotalTokens)
		ev.CostUSD = res.Usage.CostUSD
		ev.DurationMs = elapsed.Milliseconds()
		e.publish(ev)
	}
	return res, err
}

func (e *Executor) execute(ctx context.Context, a *background.Agent, runID string) (*Result, error) {
	input := a.ResolveInput(time.Now())

	injected, err := e.deliverQueued(a.ID)
	if err != nil {
		return nil, err
	}

	var res *Result
	if a.Mode == background.ModeCLI {
		res, err = e.runCLI(ctx, a, input, injected)
	} else {
		res, err = e.runAPI(ctx, a, runID, input, injected)
	}
	if err != nil {
		return res, err
	}

	e.consumeDelivered(injected)
	return res, nil
}

// deliverQueued marks an agent's queued messages delivered and returns them
// for injection into the run.
func (e *Executor) deliverQueued(agentID string) ([]*background.Message, error) {
	msgs, err := e.store.QueuedMessages(agentID)
	if err != nil {
		return nil, fmt.Errorf("load queued messages: %w", err)
	}
	for _, m := range msgs {
		m.MarkDelivered()
		if err := e.store.SaveMessage(m); err != nil {
			return nil, fmt.Errorf("deliver message: %w", err)
		}
	}
	return msgs, nil
}

// consumeDelivered is called after a successful run so a redelivered message
// is never injected twice.
func (e *Executor) consumeDelivered(msgs []*background.Message) {
	for _, m := range msgs {
		m.MarkConsumed()
		if err := e.store.SaveMessage(m); err != nil {
			e.log.Warn("mark message consumed",
				logger.Field{Key: "message_id", Value: m.ID},
				logger.Field{Key: "error", Value: err.Error()},
			)
		}
	}
}

func (e *Executor) runAPI(ctx context.Context, a *background.Agent, runID, input string, injected []*background.Message) (*Result, error) {
	scopeKey := memory.ScopeKey(a.Memory, a.AgentID, a.ID)
	working := memory.NewWorking(e.systemPrompt(a), a.Memory.MaxMessages)
	subs := &subAgentGroup{}
	registry := e.buildRegistry(ctx, a, runID, scopeKey, subs)

	working.Append(llm.Message{Role: llm.RoleUser, Content: input})
	for _, m := range injected {
		working.Append(llm.Message{
			Role:    llm.RoleUser,
			Content: "Message from operator: " + m.Content,
		})
	}

	res, err := e.loop(ctx, a.ID, runID, working, registry, e.cfg.MaxSteps, subs)
	if err != nil {
		return res, err
	}

	if a.Memory.PersistOnComplete && res.Output != "" {
		lt := memory.NewLongTerm(e.store)
		entry := fmt.Sprintf("[%s] %s", a.Name, res.Output)
		if err := lt.Save(scopeKey, entry); err != nil {
			e.log.Warn("persist run memory",
				logger.Field{Key: "agent_id", Value: a.ID},
				logger.Field{Key: "error", Value: err.Error()},
			)
		}
	}
	return res, nil
}

// subAgentResult is the outcome of one spawned sub-agent.
type subAgentResult struct {
	Task   string
	Output string
	Err    error
}

// subAgentGroup tracks sub-agents spawned during a run so the parent can
// join them before producing its final answer.
type subAgentGroup struct {
	wg   sync.WaitGroup
	mu   sync.Mutex
	done []subAgentResult
}

func (g *subAgentGroup) launch(run func() subAgentResult) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		r := run()
		g.mu.Lock()
		g.done = append(g.done, r)
		g.mu.Unlock()
	}()
}

// join waits for every launched sub-agent and drains their results.
func (g *subAgentGroup) join() []subAgentResult {
	g.wg.Wait()
	g.mu.Lock()
	defer g.mu.Unlock()
	out := g.done
	g.done = nil
	return out
}

// loop is the reason-act cycle: ask the model, execute any requested tool
// calls in order, feed results back, repeat. Cancellation is honored at the
// suspension points between provider and tool calls; a tool call already in
// flight finishes first. subs is nil for sub-agent runs, which cannot spawn.
func (e *Executor) loop(ctx context.Context, agentID, runID string, working *memory.Working, registry *tools.Registry, maxSteps int, subs *subAgentGroup) (*Result, error) {
	res := &Result{}

	var defs []llm.ToolDefinition
	if e.provider.SupportsToolCalling() {
		defs = registry.Definitions()
	}

	for step := 1; step <= maxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return res, interruption(err)
		}
		res.Steps = step

		if working.NeedsCompaction() {
			if err := working.Compact(ctx, e.summarizer()); err != nil {
				e.log.Warn("compaction failed", logger.Field{Key: "error", Value: err.Error()})
			}
		}

		resp, err := e.provider.Chat(ctx, llm.ChatRequest{
			Messages:    working.Messages(),
			Model:       e.cfg.Model,
			Temperature: e.cfg.Temperature,
			MaxTokens:   e.cfg.MaxTokens,
			Tools:       defs,
		})
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, interruption(ctxErr)
			}
			return res, fmt.Errorf("provider: %w", err)
		}
		res.Usage.Add(resp.Usage)
		e.countTokens(resp.Usage)

		working.Append(llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		if resp.Content != "" {
			ev := events.New(events.TypeToken, agentID, runID)
			ev.Text = resp.Content
			e.publish(ev)
		}

		if len(resp.ToolCalls) == 0 {
			// Join point: sub-agents still in flight finish here, and
			// their results get one more turn before the answer is final.
			if subs != nil {
				if joined := subs.join(); len(joined) > 0 {
					for _, sub := range joined {
						content := fmt.Sprintf("Sub-agent finished %q: %s", sub.Task, sub.Output)
						if sub.Err != nil {
							content = fmt.Sprintf("Sub-agent failed %q: %s", sub.Task, sub.Err)
						}
						working.Append(llm.Message{Role: llm.RoleUser, Content: content})
					}
					continue
				}
			}
			res.Output = resp.Content
			return res, nil
		}

		for _, call := range resp.ToolCalls {
			ev := events.New(events.TypeToolCallStart, agentID, runID)
			ev.Tool = call.Name
			ev.ToolArgs = call.Arguments
			e.publish(ev)

			out := registry.Execute(ctx, call, e.cfg.ToolTimeout)

			ev = events.New(events.TypeToolCallEnd, agentID, runID)
			ev.Tool = call.Name
			ev.Error = out.Error
			ev.DurationMs = out.DurationMs
			e.publish(ev)

			// Tool failures, gate refusals included, go back to the model
			// as observations; it decides whether to work around them.
			content := out.Content
			if out.Error != "" {
				content = "error: " + out.Error
			}
			working.Append(llm.Message{
				Role:       llm.RoleTool,
				ToolCallID: call.ID,
				Content:    content,
			})

			if err := ctx.Err(); err != nil {
				return res, interruption(err)
			}
		}
	}
	return res, fmt.Errorf("run exceeded %d reasoning steps", maxSteps)
}

// interruption maps context errors: cancellation is an operator stop, a
// deadline is a run failure.
func interruption(err error) error {
	if errors.Is(err, context.Canceled) {
		return ErrInterrupted
	}
	return fmt.Errorf("run timed out: %w", err)
}

func (e *Executor) systemPrompt(a *background.Agent) string {
	var b strings.Builder
	b.WriteString("You are a background agent named ")
	b.WriteString(a.Name)
	b.WriteString(", running unattended on a schedule.")
	if a.Description != "" {
		b.WriteString(" ")
		b.WriteString(a.Description)
	}
	b.WriteString(" Complete the task using the available tools, then reply with a concise final report.")
	return b.String()
}

// buildRegistry assembles the per-run tool set. Sub-agent runs get the same
// set minus spawn (subs nil), so delegation stays one level deep. runCtx is
// the run's context: spawned sub-agents outlive the tool call that started
// them, so they must not inherit its timeout.
func (e *Executor) buildRegistry(runCtx context.Context, a *background.Agent, runID, scopeKey string, subs *subAgentGroup) *tools.Registry {
	registry := tools.NewRegistry()

	gate := e.gate(a, runID)
	registry.Register(tools.NewShellTool(gate, e.runner, e.secrets, tools.ShellConfig{}, e.log))
	registry.Register(tools.NewFetchTool(e.secrets, e.log))
	registry.Register(tools.NewSystemTimeTool())

	lt := memory.NewLongTerm(e.store)
	registry.Register(tools.NewMemorySaveTool(lt, scopeKey))
	registry.Register(tools.NewMemorySearchTool(lt, scopeKey))

	if e.channels != nil && a.Notification.Channel != "" {
		channel := e.channels.Get(a.Notification.Channel)
		registry.Register(tools.NewMessageTool(channel, a.Notification.ChatID))
	}

	if subs != nil {
		registry.Register(tools.NewSpawnTool(tools.SpawnerFunc(func(_ context.Context, task string) (string, error) {
			subs.launch(func() subAgentResult {
				out, err := e.spawnSubAgent(runCtx, a, runID, scopeKey, task)
				return subAgentResult{Task: task, Output: out, Err: err}
			})
			return "sub-agent started; its result arrives before the final answer", nil
		})))
	}
	return registry
}

// spawnSubAgent runs a delegated task with fresh working memory and a
// restricted registry. It executes concurrently with the parent's loop; the
// parent sees only the final text, at the join point. Its usage is not folded
// into the parent's counters; the provider reports it per request.
func (e *Executor) spawnSubAgent(ctx context.Context, a *background.Agent, runID, scopeKey, task string) (string, error) {
	working := memory.NewWorking(
		"You are a sub-agent handling one delegated task. Finish it and reply with the result.",
		a.Memory.MaxMessages,
	)
	working.Append(llm.Message{Role: llm.RoleUser, Content: task})

	registry := e.buildRegistry(ctx, a, runID, scopeKey, nil)
	res, err := e.loop(ctx, a.ID, runID, working, registry, maxSubAgentSteps, nil)
	if err != nil {
		return "", fmt.Errorf("sub-agent: %w", err)
	}
	return res.Output, nil
}

// gate wires policy evaluation and the approval flow in front of the shell
// tool for one run.
func (e *Executor) gate(a *background.Agent, runID string) tools.CommandGate {
	return tools.GateFunc(func(ctx context.Context, command string) error {
		d := e.policy.Evaluate(command)
		switch d.Action {
		case policy.Allowed:
			return nil
		case policy.Blocked:
			if e.metrics != nil {
				e.metrics.CommandsBlocked.Inc()
			}
			e.log.Warn("command blocked",
				logger.Field{Key: "agent_id", Value: a.ID},
				logger.Field{Key: "pattern", Value: d.Pattern},
			)
			return fmt.Errorf("blocked by policy: %s", d.Reason)
		case policy.RequiresApproval:
			return e.awaitApproval(ctx, a, runID, command, d.Reason)
		default:
			return fmt.Errorf("blocked by policy: unknown action %q", d.Action)
		}
	})
}

func (e *Executor) awaitApproval(ctx context.Context, a *background.Agent, runID, command, reason string) error {
	req := e.approval.Create(a.ID, runID, command, reason)
	if e.metrics != nil {
		e.metrics.ApprovalsRequested.Inc()
	}

	ev := events.New(events.TypeApprovalRequired, a.ID, runID)
	ev.Text = command
	e.publish(ev)

	hist := background.NewEvent(a.ID, background.EventApprovalNeeded)
	hist.RunID = runID
	hist.Message = command
	if err := e.store.AppendEvent(hist); err != nil {
		e.log.Warn("record approval event", logger.Field{Key: "error", Value: err.Error()})
	}

	approved, err := e.approval.Wait(ctx, req.ID)
	if err != nil {
		if errors.Is(err, approval.ErrTimedOut) {
			if e.metrics != nil {
				e.metrics.ApprovalsTimedOut.Inc()
			}
			return fmt.Errorf("approval timed out for command: %s", command)
		}
		return err
	}
	if !approved {
		if e.metrics != nil {
			e.metrics.ApprovalsDenied.Inc()
		}
		return fmt.Errorf("approval denied for command: %s", command)
	}
	if e.metrics != nil {
		e.metrics.ApprovalsApproved.Inc()
	}
	return nil
}

// summarizer condenses conversation history through the same provider,
// without tools.
func (e *Executor) summarizer() memory.Summarizer {
	return memory.SummarizerFunc(func(ctx context.Context, messages []llm.Message) (string, error) {
		prompt := []llm.Message{
			{Role: llm.RoleSystem, Content: "Summarize the following conversation in a few sentences, keeping task-relevant facts, decisions, and results."},
		}
		for _, m := range messages {
			if m.Content == "" {
				continue
			}
			prompt = append(prompt, llm.Message{
				Role:    llm.RoleUser,
				Content: string(m.Role) + ": " + m.Content,
			})
		}
		resp, err := e.provider.Chat(ctx, llm.ChatRequest{
			Messages: prompt,
			Model:    e.cfg.Model,
		})
		if err != nil {
			return "", err
		}
		return resp.Content, nil
	})
}

func (e *Executor) publish(ev events.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ev); err != nil && !errors.Is(err, events.ErrStaleRun) {
		e.log.Debug("publish event", logger.Field{Key: "error", Value: err.Error()})
	}
}

func (e *Executor) countTokens(u llm.Usage) {
	if e.metrics != nil {
		e.metrics.TokensUsed.Add(float64(u.TotalTokens))
	}
}
