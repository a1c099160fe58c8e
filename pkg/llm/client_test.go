package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapProviderName(t *testing.T) {
	tests := []struct {
		name         string
		providerName string
		model        string
		baseURL      string
		want         string
	}{
		{"explicit provider", "Anthropic", "gpt-4", "", "anthropic"},
		{"detect anthropic by model", "", "claude-sonnet-4-20250514", "", "anthropic"},
		{"detect openai by model", "", "gpt-4o", "", "openai"},
		{"detect ollama by port", "", "llama3", "http://localhost:11434", "ollama"},
		{"default to openai", "", "unknown-model", "", "openai"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapProviderName(tt.providerName, tt.model, tt.baseURL)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEndpointURL(t *testing.T) {
	assert.Equal(t, "https://api.openai.com/v1/chat/completions", endpointURL("", "openai"))
	assert.Equal(t, "https://api.anthropic.com/v1/messages", endpointURL("", "anthropic"))
	assert.Equal(t, "http://x/v1/messages", endpointURL("http://x/v1/", "anthropic"))
	assert.Equal(t, "http://x/v1/chat/completions", endpointURL("http://x/v1", "openai"))
}

func TestChat_OpenAIRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req["model"])

		fmt.Fprint(w, `{"id":"r1","choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":1,"total_tokens":6}}`)
	}))
	defer srv.Close()

	c := NewClientWithProvider(srv.URL, "test-key", "gpt-4o", "openai")
	c.gollmLLM = nil

	resp, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.GetContent())
	assert.Equal(t, "stop", resp.GetFinishReason())
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestChat_AnthropicTranslation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var req anthropicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		// System message is lifted to the top-level field.
		assert.Equal(t, "you are a navigator", req.System)
		assert.Len(t, req.Messages, 1)

		fmt.Fprint(w, `{"id":"m1","content":[{"type":"text","text":"done"}],"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":2}}`)
	}))
	defer srv.Close()

	c := NewClientWithProvider(srv.URL, "test-key", "claude-sonnet-4-20250514", "anthropic")
	c.gollmLLM = nil

	resp, err := c.Chat(context.Background(), []Message{
		{Role: "system", Content: "you are a navigator"},
		{Role: "user", Content: "go"},
	}, Params{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.GetContent())
	assert.Equal(t, 12, resp.Usage.TotalTokens)
}

func TestChat_NonRetryableAPIError(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"type":"authentication_error","message":"bad key"}}`)
	}))
	defer srv.Close()

	c := NewClientWithProvider(srv.URL, "bad", "gpt-4o", "openai")
	c.gollmLLM = nil

	_, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, Params{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad key")
	assert.Equal(t, 1, calls, "401 must not be retried")
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		isCtxLen bool
		isRate   bool
	}{
		{"nil error", nil, false, false},
		{"context length error", fmt.Errorf("context_length_exceeded"), true, false},
		{"rate limit error", fmt.Errorf("429 Too Many Requests"), false, true},
		{"other error", fmt.Errorf("timeout"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.isCtxLen, IsContextLengthError(tt.err))
			assert.Equal(t, tt.isRate, IsRateLimitError(tt.err))
		})
	}
}

func TestExtractJSONBlock(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "Here you go:\n```json\n{\"a\":1}\n```\ntrailing prose", `{"a":1}`, false},
		{"prose around braces", `I think {"a":1} works`, `{"a":1}`, false},
		{"fenced wins over earlier brace", "{oops\n```json\n{\"b\":2}\n```", `{"b":2}`, false},
		{"nothing", "no json here", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSONBlock(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestModelSupportsVision(t *testing.T) {
	assert.True(t, modelSupportsVision("gpt-4o"))
	assert.True(t, modelSupportsVision("claude-sonnet-4-20250514"))
	assert.False(t, modelSupportsVision("llama3"))
}
