package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/repurpose/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		Provider:          ProviderOpenAI,
		APIKey:            "  sk-test\n",
		BaseURL:           baseURL,
		Model:             "gpt-4o-mini",
		RequestTimeout:    5 * time.Second,
		DefaultRetryAfter: 30 * time.Second,
	}
}

func TestOpenAIComplete(t *testing.T) {
	t.Parallel()

	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1700000000,
			"model": "gpt-4o-mini-2024-07-18",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "  a thread  "}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(openAIConfig(srv.URL+"/v1"), nil)
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), Request{
		Model: "gpt-4o-mini",
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "source text"},
		},
		Temperature: 0.7,
		MaxTokens:   800,
	})
	require.NoError(t, err)

	assert.Equal(t, "  a thread  ", resp.Text)
	assert.Equal(t, Usage{PromptTokens: 12, CompletionTokens: 5, TotalTokens: 17}, resp.Usage)
	assert.Equal(t, "gpt-4o-mini-2024-07-18", resp.Model)

	require.NotNil(t, body)
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.InDelta(t, 800, body["max_tokens"], 0)
	messages, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "user", messages[1].(map[string]any)["role"])
}

func TestOpenAIErrorClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		status         int
		header         map[string]string
		message        string
		wantKind       Kind
		wantRetryAfter time.Duration
	}{
		{
			name:           "rate limited with header",
			status:         http.StatusTooManyRequests,
			header:         map[string]string{"Retry-After": "7"},
			message:        "Rate limit reached. Please try again in 20s.",
			wantKind:       KindRateLimited,
			wantRetryAfter: 7 * time.Second,
		},
		{
			name:           "rate limited with text hint",
			status:         http.StatusTooManyRequests,
			message:        "Rate limit reached. Please try again in 20s.",
			wantKind:       KindRateLimited,
			wantRetryAfter: 20 * time.Second,
		},
		{
			name:           "rate limited without hint",
			status:         http.StatusTooManyRequests,
			message:        "Too many requests",
			wantKind:       KindRateLimited,
			wantRetryAfter: 30 * time.Second,
		},
		{
			name:     "bad key",
			status:   http.StatusUnauthorized,
			message:  "Incorrect API key provided",
			wantKind: KindUnauthenticated,
		},
		{
			name:     "overloaded",
			status:   http.StatusServiceUnavailable,
			message:  "The server is overloaded",
			wantKind: KindServiceUnavailable,
		},
		{
			name:     "bad request",
			status:   http.StatusBadRequest,
			message:  "max_tokens is too large",
			wantKind: KindGenericAPIError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				for k, v := range tt.header {
					w.Header().Set(k, v)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				payload, _ := json.Marshal(map[string]any{
					"error": map[string]any{"message": tt.message, "type": "error", "code": "x", "param": nil},
				})
				_, _ = w.Write(payload)
			}))
			defer srv.Close()

			client, err := NewOpenAIClient(openAIConfig(srv.URL+"/v1"), nil)
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), Request{
				Model:    "gpt-4o-mini",
				Messages: []Message{{Role: RoleUser, Content: "hi"}},
			})
			require.Error(t, err)

			var llmErr *Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.wantKind, llmErr.Kind)
			assert.Equal(t, tt.status, llmErr.StatusCode)
			assert.Equal(t, tt.message, llmErr.Message)
			assert.Equal(t, tt.wantRetryAfter, llmErr.RetryAfter)
			assert.Equal(t, int32(1), calls.Load(), "client must not retry internally")
		})
	}
}

func TestNewOpenAIClientRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAIClient(config.LLMConfig{APIKey: " \n"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewClientUnknownProvider(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), config.LLMConfig{Provider: "anthropic", APIKey: "k"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
