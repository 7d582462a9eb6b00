package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshift-run/nightshift/internal/logger"
)

func testBus(t *testing.T) *Bus {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	b := NewBus(16, log)
	b.Start()
	t.Cleanup(b.Stop)
	return b
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
		return Event{}
	}
}

func TestPublishSubscribe(t *testing.T) {
	b := testBus(t)
	ch, cancel := b.Subscribe()
	defer cancel()

	e := New(TypeRunStarted, "agent-1", "run-1")
	require.NoError(t, b.Publish(e))

	got := recv(t, ch)
	assert.Equal(t, TypeRunStarted, got.Type)
	assert.Equal(t, "run-1", got.RunID)
	assert.NotZero(t, got.Timestamp)
}

func TestPublish_NotStarted(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	b := NewBus(16, log)

	assert.ErrorIs(t, b.Publish(New(TypeToken, "a", "r")), ErrNotStarted)
}

func TestPublish_StaleRunFiltered(t *testing.T) {
	b := testBus(t)
	ch, cancel := b.Subscribe()
	defer cancel()

	b.BeginRun("agent-1", "run-2")

	// The superseded run's events are rejected.
	err := b.Publish(New(TypeToken, "agent-1", "run-1"))
	assert.ErrorIs(t, err, ErrStaleRun)

	// The active run passes through.
	require.NoError(t, b.Publish(New(TypeToken, "agent-1", "run-2")))
	assert.Equal(t, "run-2", recv(t, ch).RunID)

	// After the run ends, nothing is filtered for this agent.
	b.EndRun("agent-1", "run-2")
	require.NoError(t, b.Publish(New(TypeToken, "agent-1", "run-1")))
}

func TestSubscribeRun_FiltersAndCloses(t *testing.T) {
	b := testBus(t)
	ch, cancel := b.SubscribeRun("run-1")
	defer cancel()

	require.NoError(t, b.Publish(New(TypeRunStarted, "a", "run-1")))
	require.NoError(t, b.Publish(New(TypeToken, "a", "run-other")))
	require.NoError(t, b.Publish(New(TypeRunCompleted, "a", "run-1")))

	assert.Equal(t, TypeRunStarted, recv(t, ch).Type)
	assert.Equal(t, TypeRunCompleted, recv(t, ch).Type)

	// Channel closes after the terminal event.
	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after terminal event")
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	b := NewBus(1, log)
	b.Start()
	defer b.Stop()

	_, cancel := b.Subscribe()
	defer cancel()

	require.NoError(t, b.Publish(New(TypeToken, "a", "r")))
	require.NoError(t, b.Publish(New(TypeToken, "a", "r"))) // buffer full, dropped

	assert.Equal(t, int64(1), b.Dropped())
}

func TestTerminal(t *testing.T) {
	assert.True(t, Event{Type: TypeRunCompleted}.Terminal())
	assert.True(t, Event{Type: TypeRunFailed}.Terminal())
	assert.True(t, Event{Type: TypeRunCancelled}.Terminal())
	assert.False(t, Event{Type: TypeToolCallStart}.Terminal())
}
