package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.LLMConfig{}
	cfg.SetDefaults()
	cfg.Host = srv.URL
	cfg.APIKey = "test-key"
	cfg.MaxRetries = 0
	return NewOpenAIProvider(cfg)
}

func TestGenerateParsesToolCalls(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "system prompt", req.Messages[0].Content)

		_, _ = w.Write([]byte(`{
			"choices": [{
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "web_fetch", "arguments": "{\"url\":\"https://example.com\"}"}
					}]
				},
				"finish_reason": "tool_calls"
			}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	})

	resp, err := provider.Generate(context.Background(), Request{
		System:   "system prompt",
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "fetch example.com"}},
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "web_fetch", resp.ToolCalls[0].Name)
	assert.Equal(t, "https://example.com", resp.ToolCalls[0].Arguments["url"])
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestGenerateStripsThinking(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices": [{"message": {"role": "assistant", "content": "<think>let me reason</think>The answer is 4."}}],
			"usage": {"total_tokens": 8}
		}`))
	})

	resp, err := provider.Generate(context.Background(), Request{
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "2+2?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "The answer is 4.", resp.Text)
	assert.Equal(t, "let me reason", resp.Thinking)
}

func TestGenerateTranslatesRateLimit(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := provider.Generate(context.Background(), Request{
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, protocol.ErrLLMRateLimited, protocol.KindOf(err))
}

func TestGenerateStreaming(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"total_tokens\":3}}\n\n" +
				"data: [DONE]\n\n"))
	})

	ch, err := provider.GenerateStreaming(context.Background(), Request{
		Messages: []protocol.Message{{Role: protocol.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var sawDone bool
	for chunk := range ch {
		switch chunk.Type {
		case "text":
			text += chunk.Text
		case "done":
			sawDone = true
			assert.Equal(t, 3, chunk.Usage.TotalTokens)
		case "error":
			t.Fatalf("unexpected error chunk: %v", chunk.Err)
		}
	}
	assert.Equal(t, "Hello", text)
	assert.True(t, sawDone)
}

func TestStripThinkingVariants(t *testing.T) {
	tests := []struct {
		name         string
		in           string
		wantClean    string
		wantThinking string
	}{
		{"no thinking", "plain answer", "plain answer", ""},
		{"single block", "<think>hmm</think>yes", "yes", "hmm"},
		{"multiple blocks", "<think>a</think>mid<think>b</think>end", "midend", "a\nb"},
		{"unterminated block", "prefix<think>cut off", "prefix", "cut off"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, thinking := StripThinking(tt.in)
			assert.Equal(t, tt.wantClean, clean)
			assert.Equal(t, tt.wantThinking, thinking)
		})
	}
}

func TestProviderRegistry(t *testing.T) {
	r := NewProviderRegistry()

	cfg := config.LLMConfig{}
	cfg.SetDefaults()
	llm, err := r.Create(cfg)
	require.NoError(t, err)
	assert.Equal(t, cfg.Model, llm.ModelName())

	cfg.Provider = "nope"
	_, err = r.Create(cfg)
	assert.Error(t, err)
}
