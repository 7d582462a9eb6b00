package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a scriptable Provider for tests. Each Chat call returns
// the next queued turn; when the script runs out it returns a plain "done"
// response.
type MockProvider struct {
	mu    sync.Mutex
	turns []*ChatResponse
	errs  []error
	calls []ChatRequest
	model string
	fixed string
}

// NewMockProvider creates an empty mock. Queue turns with Script and
// ScriptError.
func NewMockProvider() *MockProvider {
	return &MockProvider{model: "mock-model"}
}

// NewFixedProvider returns a mock that always answers with the given text.
func NewFixedProvider(response string) *MockProvider {
	m := NewMockProvider()
	m.fixed = response
	return m
}

// Script queues a response turn.
func (m *MockProvider) Script(resp *ChatResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, resp)
	m.errs = append(m.errs, nil)
	return m
}

// ScriptText queues a plain text completion turn.
func (m *MockProvider) ScriptText(text string) *MockProvider {
	return m.Script(&ChatResponse{
		Content:      text,
		FinishReason: FinishReasonStop,
		Usage:        Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
}

// ScriptToolCall queues a turn requesting a single tool call.
func (m *MockProvider) ScriptToolCall(id, name, arguments string) *MockProvider {
	return m.Script(&ChatResponse{
		FinishReason: FinishReasonToolCalls,
		ToolCalls:    []ToolCall{{ID: id, Name: name, Arguments: arguments}},
		Usage:        Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	})
}

// ScriptError queues a failing turn.
func (m *MockProvider) ScriptError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, nil)
	m.errs = append(m.errs, err)
	return m
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)

	if len(m.turns) == 0 {
		if m.fixed != "" {
			return &ChatResponse{
				Content:      m.fixed,
				FinishReason: FinishReasonStop,
				Model:        m.model,
			}, nil
		}
		return &ChatResponse{
			Content:      "done",
			FinishReason: FinishReasonStop,
			Model:        m.model,
		}, nil
	}

	resp, err := m.turns[0], m.errs[0]
	m.turns = m.turns[1:]
	m.errs = m.errs[1:]
	if err != nil {
		return nil, err
	}
	if resp.Model == "" {
		resp.Model = m.model
	}
	return resp, nil
}

// Calls returns the requests Chat received, in order.
func (m *MockProvider) Calls() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChatRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Chat invocations.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockProvider) SupportsToolCalling() bool { return true }
func (m *MockProvider) DefaultModel() string      { return m.model }

// ErrProvider is a Provider that always fails with the given error.
type ErrProvider struct{ Err error }

func (p ErrProvider) Chat(context.Context, ChatRequest) (*ChatResponse, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return nil, fmt.Errorf("provider unavailable")
}
func (p ErrProvider) SupportsToolCalling() bool { return false }
func (p ErrProvider) DefaultModel() string      { return "error-model" }
