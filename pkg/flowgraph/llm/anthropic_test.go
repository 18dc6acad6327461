package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	flowerrors "github.com/randalmurphal/medconsult/pkg/flowgraph/errors"
	"github.com/randalmurphal/medconsult/pkg/flowgraph/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAnthropicServer(t *testing.T, handler http.HandlerFunc) *llm.Anthropic {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	client, err := llm.NewAnthropic(llm.ModelConfig{
		Provider: llm.ProviderAnthropic,
		Model:    "claude-sonnet-4-5",
		BaseURL:  ts.URL,
		APIKey:   "test-key",
	}, llm.WithHTTPClient(ts.Client()))
	require.NoError(t, err)
	return client
}

func TestAnthropic_Complete(t *testing.T) {
	var body map[string]any
	client := newAnthropicServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-5",
			"content": [
				{"type": "text", "text": "Let me check."},
				{"type": "tool_use", "id": "toolu_1", "name": "search_guidelines", "input": {"query": "fever"}}
			],
			"stop_reason": "tool_use",
			"stop_sequence": null,
			"usage": {"input_tokens": 10, "output_tokens": 5}
		}`)
	})

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		SystemPrompt: "You are a clinician.",
		Messages:     []llm.Message{llm.UserMessage("fever")},
	})
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", resp.Content)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "toolu_1", resp.ToolCalls[0].ID)
	assert.JSONEq(t, `{"query":"fever"}`, string(resp.ToolCalls[0].Arguments))
	assert.Equal(t, 15, resp.Usage.TotalTokens)

	assert.Equal(t, "claude-sonnet-4-5", body["model"])
	assert.NotNil(t, body["system"])
}

func TestAnthropic_Error(t *testing.T) {
	client := newAnthropicServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
	})

	_, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{llm.UserMessage("hi")},
	})
	require.Error(t, err)

	var httpErr *flowerrors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.True(t, llm.IsRetryable(err))
}
