package hooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshift-run/nightshift/internal/logger"
	"github.com/nightshift-run/nightshift/internal/notify"
)

func testEngine(t *testing.T, tasks TaskRunner) *Engine {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	return NewEngine(nil, notify.NewRegistry(log), tasks, nil, log)
}

func TestHookValidate(t *testing.T) {
	h := New("notify ops", EventTaskFailed, Action{Type: ActionSendMessage, Text: "{{task_name}} failed"})
	require.NoError(t, h.Validate())
	assert.NotEmpty(t, h.ID)
	assert.True(t, h.Enabled)

	bad := New("no url", EventTaskCompleted, Action{Type: ActionWebhook})
	assert.Error(t, bad.Validate())

	bad.Event = "task_finished"
	assert.Error(t, bad.Validate())
}

func TestRender(t *testing.T) {
	hctx := Context{
		Event:      EventTaskCompleted,
		TaskName:   "nightly-digest",
		Success:    true,
		DurationMs: 1500,
		Output:     "done",
	}
	got := Render("{{task_name}}: success={{success}} in {{duration}}ms: {{output}}", hctx)
	assert.Equal(t, "nightly-digest: success=true in 1500ms: done", got)
}

func TestEngineFilters(t *testing.T) {
	var ran []string
	tasks := TaskRunnerFunc(func(_ context.Context, agentID, _ string) error {
		ran = append(ran, agentID)
		return nil
	})
	e := testEngine(t, tasks)

	hooks := []*Hook{
		{
			ID: "h1", Name: "on any failure", Event: EventTaskFailed, Enabled: true,
			Action: Action{Type: ActionRunTask, TargetAgentID: "escalate"},
		},
		{
			ID: "h2", Name: "digest only", Event: EventTaskFailed, Enabled: true,
			Filter: Filter{TaskNamePattern: "digest-*"},
			Action: Action{Type: ActionRunTask, TargetAgentID: "digest-retry"},
		},
		{
			ID: "h3", Name: "disabled", Event: EventTaskFailed,
			Action: Action{Type: ActionRunTask, TargetAgentID: "never"},
		},
		{
			ID: "h4", Name: "success only", Event: EventTaskFailed, Enabled: true,
			Filter: Filter{SuccessOnly: true},
			Action: Action{Type: ActionRunTask, TargetAgentID: "never"},
		},
	}

	e.Fire(context.Background(), hooks, Context{
		Event:    EventTaskFailed,
		TaskName: "weekly-report",
		AgentID:  "bg-1",
	})
	assert.Equal(t, []string{"escalate"}, ran)
}

func TestEngineAgentIDFilter(t *testing.T) {
	var count int
	tasks := TaskRunnerFunc(func(context.Context, string, string) error {
		count++
		return nil
	})
	e := testEngine(t, tasks)

	hooks := []*Hook{{
		ID: "h1", Name: "one agent", Event: EventTaskCompleted, Enabled: true,
		Filter: Filter{AgentID: "bg-7"},
		Action: Action{Type: ActionRunTask, TargetAgentID: "next"},
	}}

	e.Fire(context.Background(), hooks, Context{Event: EventTaskCompleted, AgentID: "bg-1"})
	assert.Equal(t, 0, count)

	e.Fire(context.Background(), hooks, Context{Event: EventTaskCompleted, AgentID: "bg-7"})
	assert.Equal(t, 1, count)
}

func TestEngineWebhook(t *testing.T) {
	var got Context
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	e := testEngine(t, nil)
	hooks := []*Hook{{
		ID: "h1", Name: "webhook", Event: EventTaskCompleted, Enabled: true,
		Action: Action{
			Type:    ActionWebhook,
			URL:     srv.URL,
			Headers: map[string]string{"X-Token": "secret"},
		},
	}}

	e.Fire(context.Background(), hooks, Context{
		Event:    EventTaskCompleted,
		TaskID:   "run-1",
		TaskName: "nightly-digest",
		Success:  true,
	})

	assert.Equal(t, "run-1", got.TaskID)
	assert.Equal(t, "nightly-digest", got.TaskName)
	assert.True(t, got.Success)
}

func TestEngineSwallowsActionErrors(t *testing.T) {
	tasks := TaskRunnerFunc(func(context.Context, string, string) error {
		return errors.New("target agent not found")
	})
	e := testEngine(t, tasks)

	hooks := []*Hook{{
		ID: "h1", Name: "broken", Event: EventTaskFailed, Enabled: true,
		Action: Action{Type: ActionRunTask, TargetAgentID: "ghost"},
	}}

	// Must not panic or propagate.
	e.Fire(context.Background(), hooks, Context{Event: EventTaskFailed})
}
