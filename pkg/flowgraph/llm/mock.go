package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by a scripted MockClient that has no steps left.
var ErrScriptExhausted = errors.New("mock script exhausted")

// MockStep is one scripted reply of a MockClient.
type MockStep struct {
	Response *CompletionResponse
	Err      error
}

// MockClient is a Client for tests. It records every request.
//
// By default it answers with a fixed text, cycles through WithResponses
// texts, or plays WithScript steps in order.
type MockClient struct {
	mu           sync.Mutex
	response     string
	responses    []string
	script       []MockStep
	err          error
	completeFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	index        int

	// Calls holds every request received, in order.
	Calls []CompletionRequest
}

// NewMockClient returns a mock that always answers with response.
func NewMockClient(response string) *MockClient {
	return &MockClient{response: response}
}

// WithResponses makes the mock cycle through responses.
func (m *MockClient) WithResponses(responses ...string) *MockClient {
	m.responses = responses
	return m
}

// WithScript makes the mock play steps in order, then fail with
// ErrScriptExhausted.
func (m *MockClient) WithScript(steps ...MockStep) *MockClient {
	m.script = steps
	return m
}

// WithError makes every call fail with err.
func (m *MockClient) WithError(err error) *MockClient {
	m.err = err
	return m
}

// WithCompleteFunc replaces the mock's behavior with fn.
func (m *MockClient) WithCompleteFunc(fn func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)) *MockClient {
	m.completeFunc = fn
	return m
}

// Complete implements Client.
func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)

	if err := ctx.Err(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if m.completeFunc != nil {
		fn := m.completeFunc
		m.mu.Unlock()
		return fn(ctx, req)
	}
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	if m.script != nil {
		if m.index >= len(m.script) {
			return nil, ErrScriptExhausted
		}
		step := m.script[m.index]
		m.index++
		if step.Err != nil {
			return nil, step.Err
		}
		resp := *step.Response
		return &resp, nil
	}

	content := m.response
	if len(m.responses) > 0 {
		content = m.responses[m.index%len(m.responses)]
		m.index++
	}

	inputTokens := 0
	for _, msg := range req.Messages {
		inputTokens += len(msg.Content)/4 + 1
	}
	outputTokens := len(content)/4 + 1

	return &CompletionResponse{
		Content:      content,
		Model:        req.Model,
		FinishReason: "stop",
		Usage: TokenUsage{
			InputTokens:  inputTokens,
			OutputTokens: outputTokens,
			TotalTokens:  inputTokens + outputTokens,
		},
	}, nil
}

// CallCount returns the number of calls received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or nil before the first call.
func (m *MockClient) LastCall() *CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	last := m.Calls[len(m.Calls)-1]
	return &last
}

// Reset clears recorded calls and rewinds responses.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.index = 0
}

// ToolCallResponse builds a response that requests the given tool calls.
func ToolCallResponse(calls ...ToolCall) *CompletionResponse {
	return &CompletionResponse{ToolCalls: calls, FinishReason: "tool_calls"}
}

// TextResponse builds a plain text response.
func TextResponse(content string) *CompletionResponse {
	return &CompletionResponse{Content: content, FinishReason: "stop"}
}
