package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
)

func newOpenAIServer(t *testing.T, status int, check func(req openai.ChatCompletionRequest), reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req openai.ChatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if check != nil {
			check(req)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Role: "assistant", Content: reply}}},
		})
	}))
}

func TestOpenAILLM_Generate(t *testing.T) {
	server := newOpenAIServer(t, http.StatusOK, func(req openai.ChatCompletionRequest) {
		assert.Equal(t, "Qwen/Qwen2.5-Math-7B-Instruct", req.Model)
		require.Len(t, req.Messages, 3)
		assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
		assert.Equal(t, openai.ChatMessageRoleUser, req.Messages[1].Role)
		assert.Equal(t, openai.ChatMessageRoleAssistant, req.Messages[2].Role)
		assert.Equal(t, 256, req.MaxTokens)
		assert.InDelta(t, 0.7, req.Temperature, 1e-6)
	}, `\boxed{5}`)
	defer server.Close()

	llm, err := NewOpenAILLM("test-key", "Qwen/Qwen2.5-Math-7B-Instruct", WithBaseURL(server.URL+"/v1/"))
	require.NoError(t, err)

	got, err := llm.Generate(context.Background(), []core.Message{
		{Role: core.RoleSystem, Content: "You are a math expert."},
		{Role: core.RoleUser, Content: "Solve x + 5 = 10"},
		{Role: core.RoleAssistant, Content: "<tool_call>...</tool_call><tool_result>5</tool_result>"},
	}, core.WithMaxTokens(256))
	require.NoError(t, err)
	assert.Equal(t, `\boxed{5}`, got)
}

func TestOpenAILLM_CompleteSendsZeroTemperature(t *testing.T) {
	server := newOpenAIServer(t, http.StatusOK, func(req openai.ChatCompletionRequest) {
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "route me", req.Messages[0].Content)
		assert.Greater(t, req.Temperature, float32(0))
		assert.Less(t, req.Temperature, float32(1e-6))
	}, `{"type":"chat","content":"hi"}`)
	defer server.Close()

	llm, err := NewOpenAILLM("test-key", "gpt-4o-mini", WithBaseURL(server.URL+"/v1"))
	require.NoError(t, err)

	got, err := llm.Complete(context.Background(), "route me", core.WithTemperature(0))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"chat","content":"hi"}`, got)
}

func TestOpenAILLM_RateLimit(t *testing.T) {
	server := newOpenAIServer(t, http.StatusTooManyRequests, nil, "")
	defer server.Close()

	llm, err := NewOpenAILLM("test-key", "gpt-4o-mini", WithBaseURL(server.URL+"/v1"))
	require.NoError(t, err)

	_, err = llm.Complete(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.RateLimitExceeded), "got %v", err)
}

func TestNewOpenRouterLLM(t *testing.T) {
	_, err := NewOpenRouterLLM("", "m")
	assert.True(t, errors.HasCode(err, errors.ConfigurationError))

	llm, err := NewOpenRouterLLM("key", "qwen/qwen-2.5-72b-instruct")
	require.NoError(t, err)
	assert.Equal(t, "openrouter", llm.ProviderName())
	assert.Equal(t, "qwen/qwen-2.5-72b-instruct", llm.ModelID())
}
