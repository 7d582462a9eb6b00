// Package memory manages conversation state for background runs: a bounded
// working buffer that compacts itself when it outgrows the configured
// window, and a long-term store that survives across runs.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nightshift-run/nightshift/internal/llm"
)

// Summarizer condenses a slice of messages into a short summary. The
// execution loop passes the LLM provider; tests pass a canned function.
type Summarizer interface {
	Summarize(ctx context.Context, messages []llm.Message) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, messages []llm.Message) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, messages []llm.Message) (string, error) {
	return f(ctx, messages)
}

// Working is the in-run conversation buffer. The system prompt is pinned,
// a running summary absorbs compacted history, and the tail holds the most
// recent messages verbatim.
type Working struct {
	mu          sync.Mutex
	system      llm.Message
	summary     string
	recent      []llm.Message
	maxMessages int
	compactions int
}

// NewWorking creates a buffer with the given system prompt and window size.
func NewWorking(systemPrompt string, maxMessages int) *Working {
	if maxMessages <= 0 {
		maxMessages = 100
	}
	return &Working{
		system:      llm.Message{Role: llm.RoleSystem, Content: systemPrompt},
		maxMessages: maxMessages,
	}
}

// Append adds a message to the buffer.
func (w *Working) Append(msg llm.Message) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recent = append(w.recent, msg)
}

// Len returns the number of buffered messages, excluding the pinned system
// prompt and summary.
func (w *Working) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.recent)
}

// NeedsCompaction reports whether the buffer has outgrown its window.
func (w *Working) NeedsCompaction() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.recent) > w.maxMessages
}

// Compact folds the oldest half of the buffer into the running summary,
// keeping the newest half verbatim. Repeated compaction of an unchanged
// buffer is a no-op: once within the window, the buffer stays as is.
func (w *Working) Compact(ctx context.Context, s Summarizer) error {
	w.mu.Lock()
	if len(w.recent) <= w.maxMessages {
		w.mu.Unlock()
		return nil
	}
	keep := w.maxMessages / 2
	if keep < 1 {
		keep = 1
	}
	cut := len(w.recent) - keep
	old := make([]llm.Message, cut)
	copy(old, w.recent[:cut])
	prevSummary := w.summary
	w.mu.Unlock()

	toSummarize := old
	if prevSummary != "" {
		toSummarize = append([]llm.Message{{
			Role:    llm.RoleSystem,
			Content: "Summary of earlier conversation: " + prevSummary,
		}}, old...)
	}

	summary, err := s.Summarize(ctx, toSummarize)
	if err != nil {
		return fmt.Errorf("summarize history: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.summary = summary
	w.recent = append([]llm.Message(nil), w.recent[cut:]...)
	w.compactions++
	return nil
}

// Messages renders the buffer as the message list for the next provider
// call: system prompt, then the summary (if any), then the recent tail.
func (w *Working) Messages() []llm.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	out := make([]llm.Message, 0, len(w.recent)+2)
	out = append(out, w.system)
	if w.summary != "" {
		out = append(out, llm.Message{
			Role:    llm.RoleSystem,
			Content: "Summary of earlier conversation: " + w.summary,
		})
	}
	out = append(out, w.recent...)
	return out
}

// Summary returns the current running summary.
func (w *Working) Summary() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.summary
}

// Compactions returns how many times the buffer has been compacted.
func (w *Working) Compactions() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.compactions
}

// Transcript renders the buffered conversation as plain text, used when
// persisting a completed run into long-term memory.
func (w *Working) Transcript() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	var b strings.Builder
	if w.summary != "" {
		b.WriteString("[summary] ")
		b.WriteString(w.summary)
		b.WriteString("\n")
	}
	for _, m := range w.recent {
		if m.Content == "" {
			continue
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
