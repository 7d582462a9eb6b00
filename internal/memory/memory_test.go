package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightshift-run/nightshift/internal/background"
	"github.com/nightshift-run/nightshift/internal/llm"
	"github.com/nightshift-run/nightshift/internal/store"
)

var countingSummarizer = SummarizerFunc(func(_ context.Context, msgs []llm.Message) (string, error) {
	return fmt.Sprintf("condensed %d messages", len(msgs)), nil
})

func TestWorking_AppendAndMessages(t *testing.T) {
	w := NewWorking("you are a reporter", 10)
	w.Append(llm.Message{Role: llm.RoleUser, Content: "summarize yesterday"})
	w.Append(llm.Message{Role: llm.RoleAssistant, Content: "on it"})

	msgs := w.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "you are a reporter", msgs[0].Content)
	assert.Equal(t, "on it", msgs[2].Content)
}

func TestWorking_CompactKeepsRecentHalf(t *testing.T) {
	w := NewWorking("sys", 10)
	for i := 0; i < 14; i++ {
		w.Append(llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("msg-%d", i)})
	}
	require.True(t, w.NeedsCompaction())

	require.NoError(t, w.Compact(context.Background(), countingSummarizer))

	assert.Equal(t, 5, w.Len())
	assert.Equal(t, "condensed 9 messages", w.Summary())

	// The tail is the newest messages, in order.
	msgs := w.Messages()
	assert.Equal(t, "msg-9", msgs[2].Content)
	assert.Equal(t, "msg-13", msgs[6].Content)
	// Summary message sits right after the system prompt.
	assert.Contains(t, msgs[1].Content, "condensed")
}

func TestWorking_CompactIsStable(t *testing.T) {
	w := NewWorking("sys", 10)
	for i := 0; i < 14; i++ {
		w.Append(llm.Message{Role: llm.RoleUser, Content: fmt.Sprintf("msg-%d", i)})
	}
	require.NoError(t, w.Compact(context.Background(), countingSummarizer))
	require.Equal(t, 1, w.Compactions())

	// Compacting again without new growth changes nothing.
	require.NoError(t, w.Compact(context.Background(), countingSummarizer))
	require.NoError(t, w.Compact(context.Background(), countingSummarizer))
	assert.Equal(t, 1, w.Compactions())
	assert.Equal(t, 5, w.Len())
}

func TestWorking_CompactFoldsPreviousSummary(t *testing.T) {
	var sawPrev bool
	s := SummarizerFunc(func(_ context.Context, msgs []llm.Message) (string, error) {
		for _, m := range msgs {
			if m.Role == llm.RoleSystem {
				sawPrev = true
			}
		}
		return "new summary", nil
	})

	w := NewWorking("sys", 4)
	for i := 0; i < 6; i++ {
		w.Append(llm.Message{Role: llm.RoleUser, Content: "x"})
	}
	require.NoError(t, w.Compact(context.Background(), countingSummarizer))

	for i := 0; i < 4; i++ {
		w.Append(llm.Message{Role: llm.RoleUser, Content: "y"})
	}
	require.NoError(t, w.Compact(context.Background(), s))

	assert.True(t, sawPrev, "previous summary should be handed to the summarizer")
	assert.Equal(t, "new summary", w.Summary())
}

func TestWorking_CompactError(t *testing.T) {
	failing := SummarizerFunc(func(context.Context, []llm.Message) (string, error) {
		return "", fmt.Errorf("provider unavailable")
	})

	w := NewWorking("sys", 2)
	for i := 0; i < 5; i++ {
		w.Append(llm.Message{Role: llm.RoleUser, Content: "x"})
	}

	assert.Error(t, w.Compact(context.Background(), failing))
	// Buffer untouched on failure.
	assert.Equal(t, 5, w.Len())
}

func TestWorking_Transcript(t *testing.T) {
	w := NewWorking("sys", 10)
	w.Append(llm.Message{Role: llm.RoleUser, Content: "check disk"})
	w.Append(llm.Message{Role: llm.RoleAssistant, Content: "disk at 40%"})

	tr := w.Transcript()
	assert.Contains(t, tr, "user: check disk")
	assert.Contains(t, tr, "assistant: disk at 40%")
}

func TestScopeKey(t *testing.T) {
	shared := background.MemoryConfig{Scope: background.ScopeSharedAgent}
	perBG := background.MemoryConfig{Scope: background.ScopePerAgent}

	assert.Equal(t, "agent:reporter", ScopeKey(shared, "reporter", "bg-1"))
	assert.Equal(t, "bg:bg-1", ScopeKey(perBG, "reporter", "bg-1"))
	// Two background agents in shared scope pool their memory.
	assert.Equal(t, ScopeKey(shared, "reporter", "bg-1"), ScopeKey(shared, "reporter", "bg-2"))
}

func testLongTerm(t *testing.T) *LongTerm {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "mem.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewLongTerm(s)
}

func TestLongTerm_SaveAndSearch(t *testing.T) {
	lt := testLongTerm(t)

	require.NoError(t, lt.Save("agent:reporter", "deploys happen on Fridays"))
	require.NoError(t, lt.Save("agent:reporter", "timezone is UTC"))
	require.NoError(t, lt.Save("agent:other", "Friday is pizza day"))

	got, err := lt.Search("agent:reporter", "friday", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "deploys happen on Fridays", got[0].Content)

	// Empty query returns recent entries.
	got, err = lt.Search("agent:reporter", "", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestLongTerm_SearchNormalizesUnicode(t *testing.T) {
	lt := testLongTerm(t)
	require.NoError(t, lt.Save("s", "release tag ｖ２ shipped"))

	got, err := lt.Search("s", "v2", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLongTerm_SearchMatchesTitleAndTags(t *testing.T) {
	lt := testLongTerm(t)

	require.NoError(t, lt.SaveEntry("s", "deploy window", "after 14:00 only", []string{"ops"}))
	require.NoError(t, lt.SaveEntry("s", "", "likes terse reports", []string{"style", "Reporting"}))

	got, err := lt.Search("s", "deploy", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "deploy window", got[0].Title)

	got, err = lt.Search("s", "reporting", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "likes terse reports", got[0].Content)
}

func TestLongTerm_DeleteAndClear(t *testing.T) {
	lt := testLongTerm(t)

	require.NoError(t, lt.Save("s", "one"))
	require.NoError(t, lt.Save("s", "two"))
	require.NoError(t, lt.Save("other", "kept"))

	entries, err := lt.Recent("s", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, lt.Delete("s", entries[0].ID))
	assert.ErrorIs(t, lt.Delete("s", entries[0].ID), store.ErrNotFound)

	n, err := lt.Clear("s")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	left, err := lt.Recent("other", 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}

func TestLongTerm_SaveEmptyRejected(t *testing.T) {
	lt := testLongTerm(t)
	assert.Error(t, lt.Save("s", "   "))
}

func TestLongTerm_SearchLimit(t *testing.T) {
	lt := testLongTerm(t)
	for i := 0; i < 15; i++ {
		require.NoError(t, lt.Save("s", fmt.Sprintf("note %d about builds", i)))
	}

	got, err := lt.Search("s", "builds", 0)
	require.NoError(t, err)
	assert.Len(t, got, DefaultSearchLimit)
}
