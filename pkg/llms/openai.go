package llms

import (
	"context"
	"math"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
)

// The base URL for the OpenRouter API.
const openRouterBaseURL = "https://openrouter.ai/api/v1"

// OpenAILLM talks to any OpenAI-compatible chat completions endpoint, such
// as OpenAI itself, OpenRouter or a vLLM server hosting a math model.
type OpenAILLM struct {
	client   *openai.Client
	provider string
	model    string
}

var (
	_ core.Generator = (*OpenAILLM)(nil)
	_ core.Completer = (*OpenAILLM)(nil)
	_ core.ModelInfo = (*OpenAILLM)(nil)
)

// OpenAIOption configures an OpenAILLM.
type OpenAIOption func(*openai.ClientConfig)

// WithBaseURL points the client at another OpenAI-compatible server.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openai.ClientConfig) {
		if url != "" {
			c.BaseURL = strings.TrimSuffix(url, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(client *http.Client) OpenAIOption {
	return func(c *openai.ClientConfig) {
		c.HTTPClient = client
	}
}

// NewOpenAILLM creates a client for model. apiKey may be empty for local
// servers that do not authenticate.
func NewOpenAILLM(apiKey, model string, opts ...OpenAIOption) (*OpenAILLM, error) {
	if model == "" {
		return nil, errors.New(errors.ConfigurationError, "openai model name is required")
	}
	cfg := openai.DefaultConfig(strings.TrimSpace(apiKey))
	for _, opt := range opts {
		opt(&cfg)
	}
	return &OpenAILLM{
		client:   openai.NewClientWithConfig(cfg),
		provider: "openai",
		model:    model,
	}, nil
}

// NewOpenRouterLLM creates an OpenAI-compatible client for OpenRouter.
func NewOpenRouterLLM(apiKey, model string, opts ...OpenAIOption) (*OpenAILLM, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ConfigurationError, "OpenRouter API key is required")
	}
	llm, err := NewOpenAILLM(apiKey, model, append([]OpenAIOption{WithBaseURL(openRouterBaseURL)}, opts...)...)
	if err != nil {
		return nil, err
	}
	llm.provider = "openrouter"
	return llm, nil
}

func (o *OpenAILLM) ProviderName() string { return o.provider }
func (o *OpenAILLM) ModelID() string      { return o.model }

// Generate implements core.Generator.
func (o *OpenAILLM) Generate(ctx context.Context, messages []core.Message, options ...core.GenerateOption) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openAIRole(m.Role), Content: m.Content})
	}
	return o.chat(ctx, msgs, core.ApplyGenerateOptions(options...))
}

// Complete implements core.Completer as a single user turn.
func (o *OpenAILLM) Complete(ctx context.Context, prompt string, options ...core.GenerateOption) (string, error) {
	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: prompt}}
	return o.chat(ctx, msgs, core.ApplyGenerateOptions(options...))
}

func (o *OpenAILLM) chat(ctx context.Context, msgs []openai.ChatCompletionMessage, opts *core.GenerateOptions) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    msgs,
		MaxTokens:   opts.MaxTokens,
		Temperature: float32(opts.Temperature),
		Stop:        opts.StopSequences,
	}
	if req.Temperature == 0 {
		// A zero temperature is dropped by omitempty.
		req.Temperature = math.SmallestNonzeroFloat32
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, apiErrorCode(err), "chat completion failed"),
			errors.Fields{"provider": o.provider, "model": o.model},
		)
	}
	if len(resp.Choices) == 0 {
		return "", errors.WithFields(
			errors.New(errors.InvalidResponse, "no choices in response"),
			errors.Fields{"provider": o.provider, "model": o.model},
		)
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIRole(r core.Role) string {
	switch r {
	case core.RoleSystem:
		return openai.ChatMessageRoleSystem
	case core.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	default:
		return openai.ChatMessageRoleUser
	}
}

func apiErrorCode(err error) errors.ErrorCode {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return errors.RateLimitExceeded
	}
	return errors.LLMGenerationFailed
}
