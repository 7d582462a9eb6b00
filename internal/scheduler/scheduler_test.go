package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshift-run/nightshift/internal/approval"
	"github.com/nightshift-run/nightshift/internal/background"
	"github.com/nightshift-run/nightshift/internal/executor"
	"github.com/nightshift-run/nightshift/internal/hooks"
	"github.com/nightshift-run/nightshift/internal/llm"
	"github.com/nightshift-run/nightshift/internal/logger"
	"github.com/nightshift-run/nightshift/internal/policy"
	"github.com/nightshift-run/nightshift/internal/retry"
	"github.com/nightshift-run/nightshift/internal/schedule"
	"github.com/nightshift-run/nightshift/internal/store"
	"github.com/nightshift-run/nightshift/internal/workers"
)

type fixture struct {
	sched    *Scheduler
	store    *store.Store
	provider *llm.MockProvider
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "scheduler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	provider := llm.NewMockProvider()
	exec := executor.New(
		executor.Config{RunTimeout: 30 * time.Second},
		provider, st, nil,
		policy.Default(), approval.NewManager(time.Minute, log),
		nil, nil, nil, nil, log,
	)
	pool := workers.NewPool(2, 10, log)
	engine := hooks.NewEngine(nil, nil, nil, nil, log)

	if cfg.TickInterval == 0 {
		cfg.TickInterval = 20 * time.Millisecond
	}
	sched := New(cfg, st, exec, pool, engine, nil, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, sched.Start(ctx))
	t.Cleanup(func() {
		cancel()
		sched.Stop()
	})
	return &fixture{sched: sched, store: st, provider: provider}
}

func saveDueAgent(t *testing.T, st *store.Store, sched schedule.Schedule) *background.Agent {
	t.Helper()
	a := background.New("digest", "base", "write it", sched)
	require.NoError(t, a.Validate())
	require.NoError(t, st.SaveAgent(a))
	return a
}

func saveDueIntervalAgent(t *testing.T, st *store.Store, interval time.Duration) *background.Agent {
	t.Helper()
	a := background.New("digest", "base", "write it", schedule.Interval(interval.Milliseconds()))
	require.NoError(t, a.Validate())
	a.NextRunAt = time.Now().UnixMilli()
	require.NoError(t, st.SaveAgent(a))
	return a
}

func waitForStatus(t *testing.T, st *store.Store, id string, want background.Status) *background.Agent {
	t.Helper()
	var got *background.Agent
	require.Eventually(t, func() bool {
		a, err := st.GetAgent(id)
		if err != nil {
			return false
		}
		got = a
		return a.Status == want
	}, 5*time.Second, 10*time.Millisecond, "agent never reached %s", want)
	return got
}

func TestSchedulerCompletesOneShot(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.ScriptText("done")
	a := saveDueAgent(t, f.store, schedule.Once(time.Now().UnixMilli()))

	got := waitForStatus(t, f.store, a.ID, background.StatusCompleted)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Zero(t, got.NextRunAt)

	events, err := f.store.ListEvents(a.ID, 10)
	require.NoError(t, err)
	var types []background.EventType
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, background.EventRunStarted)
	assert.Contains(t, types, background.EventRunCompleted)
}

func TestSchedulerRearmsRecurring(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.ScriptText("done")
	a := saveDueIntervalAgent(t, f.store, time.Hour)

	require.Eventually(t, func() bool {
		got, err := f.store.GetAgent(a.ID)
		return err == nil && got.SuccessCount == 1 && got.Status == background.StatusActive
	}, 5*time.Second, 10*time.Millisecond)

	got, err := f.store.GetAgent(a.ID)
	require.NoError(t, err)
	assert.Greater(t, got.NextRunAt, time.Now().UnixMilli())
}

func TestSchedulerRetriesTransientFailure(t *testing.T) {
	f := newFixture(t, Config{
		Retry: retry.Config{MaxAttempts: 1, InitialDelay: 30 * time.Millisecond, Multiplier: 2},
	})
	f.provider.
		ScriptError(errors.New("connection refused")).
		ScriptError(errors.New("connection refused"))
	a := saveDueAgent(t, f.store, schedule.Once(time.Now().UnixMilli()))

	// One retry is allowed; the failure after it is final. A one-shot that
	// had its run ends Completed, with the failure in the counters.
	got := waitForStatus(t, f.store, a.ID, background.StatusCompleted)
	assert.Contains(t, got.LastError, "connection refused")
	assert.Equal(t, 1, got.FailureCount)
	assert.Equal(t, 2, f.provider.CallCount())

	events, err := f.store.ListEvents(a.ID, 20)
	require.NoError(t, err)
	var retries int
	for _, e := range events {
		if e.Type == background.EventRetryScheduled {
			retries++
		}
	}
	assert.Equal(t, 1, retries)
}

func TestSchedulerPermanentFailureSkipsRetry(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.ScriptError(errors.New("401 invalid api key"))
	a := saveDueAgent(t, f.store, schedule.Once(time.Now().UnixMilli()))

	got := waitForStatus(t, f.store, a.ID, background.StatusCompleted)
	assert.Equal(t, 1, got.FailureCount)
	assert.Contains(t, got.LastError, "401")
	assert.Equal(t, 1, f.provider.CallCount())
}

func TestSchedulerRecurringSurvivesFailure(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.ScriptError(errors.New("400 bad request"))
	a := saveDueIntervalAgent(t, f.store, time.Hour)

	require.Eventually(t, func() bool {
		got, err := f.store.GetAgent(a.ID)
		return err == nil && got.FailureCount == 1 && got.Status == background.StatusActive
	}, 5*time.Second, 10*time.Millisecond)

	got, err := f.store.GetAgent(a.ID)
	require.NoError(t, err)
	assert.Greater(t, got.NextRunAt, time.Now().UnixMilli())
}

func TestSchedulerCancelRun(t *testing.T) {
	f := newFixture(t, Config{})
	a := background.New("sleeper", "base", "ignored", schedule.Once(time.Now().UnixMilli()))
	a.Mode = background.ModeCLI
	a.CLI = &background.CLIConfig{Binary: "sleep", Args: []string{"30"}}
	require.NoError(t, a.Validate())
	require.NoError(t, f.store.SaveAgent(a))

	require.Eventually(t, func() bool {
		return f.sched.Running(a.ID)
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, f.sched.CancelRun(a.ID))
	waitForStatus(t, f.store, a.ID, background.StatusInterrupted)

	assert.Error(t, f.sched.CancelRun(a.ID))
}

func TestSchedulerRunNow(t *testing.T) {
	f := newFixture(t, Config{})
	f.provider.ScriptText("done early")
	a := saveDueAgent(t, f.store, schedule.Once(time.Now().Add(time.Hour).UnixMilli()))

	require.NoError(t, f.sched.RunNow(a.ID))
	waitForStatus(t, f.store, a.ID, background.StatusCompleted)
}

func TestSchedulerFiresHooks(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	f := newFixture(t, Config{})
	h := hooks.New("on complete", hooks.EventTaskCompleted, hooks.Action{
		Type: hooks.ActionWebhook,
		URL:  srv.URL,
	})
	require.NoError(t, f.store.SaveHook(h))

	f.provider.ScriptText("done")
	a := saveDueAgent(t, f.store, schedule.Once(time.Now().UnixMilli()))

	waitForStatus(t, f.store, a.ID, background.StatusCompleted)
	require.Eventually(t, func() bool {
		return hits.Load() == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSchedulerPauseDuringRunParks(t *testing.T) {
	f := newFixture(t, Config{})
	a := background.New("pauser", "base", "ignored", schedule.Interval(time.Hour.Milliseconds()))
	a.Mode = background.ModeCLI
	a.CLI = &background.CLIConfig{Binary: "sleep", Args: []string{"0.3"}}
	require.NoError(t, a.Validate())
	a.NextRunAt = time.Now().UnixMilli()
	require.NoError(t, f.store.SaveAgent(a))

	require.Eventually(t, func() bool {
		return f.sched.Running(a.ID)
	}, 5*time.Second, 10*time.Millisecond)

	got, err := f.store.GetAgent(a.ID)
	require.NoError(t, err)
	require.NoError(t, got.Pause(time.Now().UnixMilli()))
	require.NoError(t, f.store.SaveAgent(got))

	// The in-flight run finishes and is recorded, but the agent is parked
	// instead of re-armed.
	require.Eventually(t, func() bool {
		parked, err := f.store.GetAgent(a.ID)
		return err == nil && parked.Status == background.StatusPaused && parked.SuccessCount == 1
	}, 5*time.Second, 10*time.Millisecond)

	parked, err := f.store.GetAgent(a.ID)
	require.NoError(t, err)
	assert.Zero(t, parked.NextRunAt)
}

func TestSchedulerPausedAgentNotPicked(t *testing.T) {
	f := newFixture(t, Config{})
	a := saveDueAgent(t, f.store, schedule.Once(time.Now().UnixMilli()))

	b := background.New("paused", "base", "never", schedule.Once(time.Now().UnixMilli()))
	require.NoError(t, b.Pause(time.Now().UnixMilli()))
	require.NoError(t, f.store.SaveAgent(b))

	f.provider.ScriptText("done")
	waitForStatus(t, f.store, a.ID, background.StatusCompleted)

	stillPaused, err := f.store.GetAgent(b.ID)
	require.NoError(t, err)
	assert.Equal(t, background.StatusPaused, stillPaused.Status)
	assert.Equal(t, 0, stillPaused.SuccessCount)
}
