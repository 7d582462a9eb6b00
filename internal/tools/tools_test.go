package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshift-run/nightshift/internal/llm"
	"github.com/nightshift-run/nightshift/internal/logger"
	"github.com/nightshift-run/nightshift/internal/memory"
	"github.com/nightshift-run/nightshift/internal/sandbox"
	"github.com/nightshift-run/nightshift/internal/secrets"
	"github.com/nightshift-run/nightshift/internal/store"
)

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stderr"})
	require.NoError(t, err)
	return log
}

var openGate = GateFunc(func(context.Context, string) error { return nil })

func TestRegistry_RegisterGetNames(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewSystemTimeTool()))

	_, ok := r.Get("system_time")
	assert.True(t, ok)
	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"system_time"}, r.Names())

	assert.Error(t, r.Register(nil))
}

func TestRegistry_Definitions(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(NewSystemTimeTool()))

	defs := r.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "system_time", defs[0].Name)
	assert.NotEmpty(t, defs[0].Description)
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	r := NewRegistry()
	res := r.Execute(context.Background(), llm.ToolCall{ID: "c1", Name: "nope"}, time.Second)
	assert.Equal(t, "c1", res.ToolCallID)
	assert.Contains(t, res.Error, "unknown tool")
}

func TestShellTool_Execute(t *testing.T) {
	log := testLog(t)
	tool := NewShellTool(openGate, sandbox.NewLocalRunner(log), nil, ShellConfig{}, log)

	out, err := tool.Execute(context.Background(), `{"command":"echo hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
}

func TestShellTool_GateDenies(t *testing.T) {
	log := testLog(t)
	gate := GateFunc(func(_ context.Context, cmd string) error {
		return fmt.Errorf("command blocked by policy: %s", cmd)
	})
	tool := NewShellTool(gate, sandbox.NewLocalRunner(log), nil, ShellConfig{}, log)

	_, err := tool.Execute(context.Background(), `{"command":"rm -rf /"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked by policy")
}

func TestShellTool_ResolvesAndRedactsSecrets(t *testing.T) {
	log := testLog(t)
	sec := secrets.NewStore()
	require.NoError(t, sec.Set("TOKEN", "s3cret"))

	var gotCommand string
	gate := GateFunc(func(_ context.Context, cmd string) error {
		gotCommand = cmd
		return nil
	})
	tool := NewShellTool(gate, sandbox.NewLocalRunner(log), sec, ShellConfig{}, log)

	out, err := tool.Execute(context.Background(), `{"command":"echo $TOKEN"}`)
	require.NoError(t, err)

	// The gate sees the unresolved command; the output is redacted.
	assert.Equal(t, "echo $TOKEN", gotCommand)
	assert.Equal(t, "[REDACTED]", out)
}

func TestShellTool_EmptyCommand(t *testing.T) {
	log := testLog(t)
	tool := NewShellTool(openGate, sandbox.NewLocalRunner(log), nil, ShellConfig{}, log)

	_, err := tool.Execute(context.Background(), `{"command":"  "}`)
	assert.Error(t, err)
}

func TestFetchTool_Markdown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><h1>Title</h1><p>Some <strong>bold</strong> text.</p><script>evil()</script></body></html>`)
	}))
	defer srv.Close()

	tool := NewFetchTool(nil, testLog(t))
	out, err := tool.Execute(context.Background(), fmt.Sprintf(`{"url":%q}`, srv.URL))
	require.NoError(t, err)
	assert.Contains(t, out, "# Title")
	assert.Contains(t, out, "**bold**")
	assert.NotContains(t, out, "evil()")
}

func TestFetchTool_JSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"ok","count":3}`)
	}))
	defer srv.Close()

	tool := NewFetchTool(nil, testLog(t))
	out, err := tool.Execute(context.Background(), fmt.Sprintf(`{"url":%q,"format":"json"}`, srv.URL))
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "ok"`)
}

func TestFetchTool_SecretHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	sec := secrets.NewStore()
	require.NoError(t, sec.Set("APIKEY", "k-123"))

	tool := NewFetchTool(sec, testLog(t))
	args := fmt.Sprintf(`{"url":%q,"format":"text","headers":{"Authorization":"Bearer $APIKEY"}}`, srv.URL)
	_, err := tool.Execute(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, "Bearer k-123", gotAuth)
}

func TestFetchTool_RejectsBadURL(t *testing.T) {
	tool := NewFetchTool(nil, testLog(t))
	_, err := tool.Execute(context.Background(), `{"url":"ftp://example.com"}`)
	assert.Error(t, err)
}

func TestFetchTool_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	tool := NewFetchTool(nil, testLog(t))
	_, err := tool.Execute(context.Background(), fmt.Sprintf(`{"url":%q,"format":"text"}`, srv.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func testLongTerm(t *testing.T) *memory.LongTerm {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "mem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return memory.NewLongTerm(s)
}

func TestMemoryTools_SaveThenSearch(t *testing.T) {
	lt := testLongTerm(t)
	save := NewMemorySaveTool(lt, "agent:reporter")
	search := NewMemorySearchTool(lt, "agent:reporter")

	out, err := save.Execute(context.Background(), `{"content":"deploys happen on Fridays"}`)
	require.NoError(t, err)
	assert.Equal(t, "saved", out)

	out, err = search.Execute(context.Background(), `{"query":"deploys"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "Fridays")

	out, err = search.Execute(context.Background(), `{"query":"nothing matches this"}`)
	require.NoError(t, err)
	assert.Equal(t, "no matching memories", out)
}

func TestMemoryTools_TitleAndTags(t *testing.T) {
	lt := testLongTerm(t)
	save := NewMemorySaveTool(lt, "agent:reporter")
	search := NewMemorySearchTool(lt, "agent:reporter")

	_, err := save.Execute(context.Background(),
		`{"content":"after 14:00 only","title":"deploy window","tags":["ops","schedule"]}`)
	require.NoError(t, err)

	// Tags are searchable and titles show up in the results.
	out, err := search.Execute(context.Background(), `{"query":"schedule"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "[deploy window] after 14:00 only")
}

type recordingSpawner struct{ tasks []string }

func (r *recordingSpawner) Spawn(_ context.Context, task string) (string, error) {
	r.tasks = append(r.tasks, task)
	return "subtask done", nil
}

func TestSpawnTool(t *testing.T) {
	sp := &recordingSpawner{}
	tool := NewSpawnTool(sp)

	out, err := tool.Execute(context.Background(), `{"task":"list stale branches"}`)
	require.NoError(t, err)
	assert.Equal(t, "subtask done", out)
	assert.Equal(t, []string{"list stale branches"}, sp.tasks)

	_, err = tool.Execute(context.Background(), `{"task":""}`)
	assert.Error(t, err)
}

func TestSystemTimeTool(t *testing.T) {
	out, err := NewSystemTimeTool().Execute(context.Background(), "")
	require.NoError(t, err)
	assert.Contains(t, out, "RFC3339:")
}

func TestRegistry_ExecuteTimeout(t *testing.T) {
	log := testLog(t)
	r := NewRegistry()
	tool := NewShellTool(openGate, sandbox.NewLocalRunner(log), nil, ShellConfig{Timeout: time.Minute}, log)
	require.NoError(t, r.Register(tool))

	res := r.Execute(context.Background(),
		llm.ToolCall{ID: "c1", Name: "shell", Arguments: `{"command":"sleep 5"}`},
		50*time.Millisecond)
	assert.NotEmpty(t, res.Error)
	assert.GreaterOrEqual(t, res.DurationMs, int64(40))
}
