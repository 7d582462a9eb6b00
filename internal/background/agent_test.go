package background

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshift-run/nightshift/internal/schedule"
)

func newTestAgent(t *testing.T, sched schedule.Schedule) *Agent {
	t.Helper()
	a := New("nightly-report", "reporter", "summarize yesterday", sched)
	require.NoError(t, a.Validate())
	return a
}

func TestNew_StartsActiveWithNextRun(t *testing.T) {
	future := time.Now().UnixMilli() + 60_000
	a := newTestAgent(t, schedule.Once(future))

	assert.Equal(t, StatusActive, a.Status)
	assert.Equal(t, future, a.NextRunAt)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, 100, a.Memory.MaxMessages)
}

func TestOnceAgent_CompletedIsTerminal(t *testing.T) {
	now := time.Now().UnixMilli()
	a := newTestAgent(t, schedule.Once(now+1000))

	require.NoError(t, a.SetRunning(now))
	a.SetCompleted(now + 5000)

	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, int64(0), a.NextRunAt)
	assert.True(t, a.Terminal())
	assert.Equal(t, 1, a.SuccessCount)
}

func TestOnceAgent_FailedRunStillCompletes(t *testing.T) {
	now := time.Now().UnixMilli()
	a := newTestAgent(t, schedule.Once(now+1000))

	require.NoError(t, a.SetRunning(now))
	a.SetFailed(now+5000, "provider unavailable")

	// A one-shot had its one run; the failure shows in the counters, not
	// in a separate terminal status.
	assert.Equal(t, StatusCompleted, a.Status)
	assert.Equal(t, int64(0), a.NextRunAt)
	assert.True(t, a.Terminal())
	assert.Equal(t, 1, a.FailureCount)
	assert.Equal(t, "provider unavailable", a.LastError)
}

func TestRecurringAgent_RearmsAfterFailure(t *testing.T) {
	a := newTestAgent(t, schedule.Interval(300_000))
	now := time.Now().UnixMilli()

	require.NoError(t, a.SetRunning(now))
	a.SetFailed(now+1000, "timeout")

	assert.Equal(t, StatusActive, a.Status)
	assert.Greater(t, a.NextRunAt, now)
	assert.Equal(t, 1, a.FailureCount)
}

func TestRecurringAgent_RearmsAfterCompletion(t *testing.T) {
	a := newTestAgent(t, schedule.Cron("0 9 * * *", ""))
	now := time.Now().UnixMilli()

	require.NoError(t, a.SetRunning(now))
	a.SetCompleted(now + 1000)

	assert.Equal(t, StatusActive, a.Status)
	assert.Greater(t, a.NextRunAt, now)
	assert.Empty(t, a.LastError)
}

func TestSetRunning_OnlyFromActive(t *testing.T) {
	a := newTestAgent(t, schedule.Interval(60_000))
	now := time.Now().UnixMilli()

	require.NoError(t, a.SetRunning(now))
	// A second claim must fail while the run is in flight.
	assert.Error(t, a.SetRunning(now))
}

func TestPauseResume(t *testing.T) {
	a := newTestAgent(t, schedule.Interval(60_000))
	now := time.Now().UnixMilli()

	require.NoError(t, a.Pause(now))
	assert.Equal(t, StatusPaused, a.Status)

	// Pausing again is a no-op.
	require.NoError(t, a.Pause(now))
	assert.Equal(t, StatusPaused, a.Status)

	require.NoError(t, a.Resume(now))
	assert.Equal(t, StatusActive, a.Status)
	assert.Greater(t, a.NextRunAt, now)
}

func TestPause_WhileRunning(t *testing.T) {
	a := newTestAgent(t, schedule.Interval(60_000))
	now := time.Now().UnixMilli()

	require.NoError(t, a.SetRunning(now))
	require.NoError(t, a.Pause(now))
	assert.Equal(t, StatusPaused, a.Status)

	require.NoError(t, a.Resume(now + 1000))
	assert.Equal(t, StatusActive, a.Status)
}

func TestIntervalNextRun_AnchoredAtFireTime(t *testing.T) {
	a := newTestAgent(t, schedule.Interval(300_000))
	fired := time.Now().UnixMilli()

	require.NoError(t, a.SetRunning(fired))
	a.SetCompleted(fired + 42_000) // the run took 42s

	assert.Equal(t, fired+300_000, a.NextRunAt)

	// An explicit start_at keeps the grid instead.
	start := fired - 10_000
	b := newTestAgent(t, schedule.Schedule{Type: schedule.KindInterval, IntervalMs: 300_000, StartAt: &start})
	require.NoError(t, b.SetRunning(fired))
	b.SetCompleted(fired + 42_000)
	assert.Equal(t, start+300_000, b.NextRunAt)
}

func TestInterrupted_KeepsRecurringSchedule(t *testing.T) {
	a := newTestAgent(t, schedule.Interval(60_000))
	now := time.Now().UnixMilli()

	require.NoError(t, a.SetRunning(now))
	a.SetInterrupted(now + 500)

	assert.Equal(t, StatusInterrupted, a.Status)
	assert.Greater(t, a.NextRunAt, now)

	require.NoError(t, a.Rearm(now+1000))
	assert.Equal(t, StatusActive, a.Status)
}

func TestDue(t *testing.T) {
	now := time.Now().UnixMilli()
	a := newTestAgent(t, schedule.Once(now+60_000))

	assert.False(t, a.Due(now))
	assert.True(t, a.Due(now+60_000))

	require.NoError(t, a.Pause(now))
	assert.False(t, a.Due(now+60_000))
}

func TestValidate(t *testing.T) {
	now := time.Now().UnixMilli()

	a := New("", "base", "input", schedule.Once(now+1000))
	assert.Error(t, a.Validate())

	a = New("name", "", "input", schedule.Once(now+1000))
	assert.Error(t, a.Validate())

	a = New("name", "base", "input", schedule.Interval(0))
	assert.Error(t, a.Validate())

	a = New("name", "base", "input", schedule.Once(now+1000))
	a.Mode = ModeCLI
	assert.Error(t, a.Validate(), "cli mode without binary")
	a.CLI = &CLIConfig{Binary: "/usr/bin/backup.sh"}
	assert.NoError(t, a.Validate())
}

func TestResolveInput_Template(t *testing.T) {
	now := time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC)
	a := newTestAgent(t, schedule.Interval(60_000))
	a.InputTemplate = "On {{date}}: {{input}}"

	assert.Equal(t, "On 2026-08-31: summarize yesterday", a.ResolveInput(now))

	a.InputTemplate = ""
	assert.Equal(t, "summarize yesterday", a.ResolveInput(now))
}

func TestRecordUsage(t *testing.T) {
	a := newTestAgent(t, schedule.Interval(60_000))
	a.RecordUsage(1200, 0.03)
	a.RecordUsage(800, 0.02)

	assert.Equal(t, int64(2000), a.TotalTokensUsed)
	assert.InDelta(t, 0.05, a.TotalCostUSD, 1e-9)
}

func TestMessageLifecycle(t *testing.T) {
	m := NewMessage("agent-1", "also check staging")
	assert.Equal(t, MessageQueued, m.Status)

	m.MarkDelivered()
	assert.Equal(t, MessageDelivered, m.Status)
	assert.NotZero(t, m.DeliveredAt)

	m.MarkConsumed()
	assert.Equal(t, MessageConsumed, m.Status)
}
