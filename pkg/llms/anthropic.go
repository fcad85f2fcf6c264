package llms

import (
	"context"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
)

// AnthropicLLM uses the Messages API.
type AnthropicLLM struct {
	client anthropic.Client
	model  string
}

var (
	_ core.Generator = (*AnthropicLLM)(nil)
	_ core.Completer = (*AnthropicLLM)(nil)
	_ core.ModelInfo = (*AnthropicLLM)(nil)
)

// NewAnthropicLLM creates a client for model. Extra request options, such
// as option.WithBaseURL, are passed to the SDK.
func NewAnthropicLLM(apiKey, model string, opts ...option.RequestOption) (*AnthropicLLM, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ConfigurationError, "Anthropic API key is required")
	}
	if model == "" {
		return nil, errors.New(errors.ConfigurationError, "anthropic model name is required")
	}
	return &AnthropicLLM{
		client: anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		model:  model,
	}, nil
}

func (a *AnthropicLLM) ProviderName() string { return "anthropic" }
func (a *AnthropicLLM) ModelID() string      { return a.model }

// Generate implements core.Generator. System messages are lifted into the
// system parameter; consecutive turns of the same role are sent as-is.
func (a *AnthropicLLM) Generate(ctx context.Context, messages []core.Message, options ...core.GenerateOption) (string, error) {
	var system []anthropic.TextBlockParam
	msgs := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case core.RoleAssistant:
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return a.send(ctx, system, msgs, core.ApplyGenerateOptions(options...))
}

// Complete implements core.Completer as a single user turn.
func (a *AnthropicLLM) Complete(ctx context.Context, prompt string, options ...core.GenerateOption) (string, error) {
	msgs := []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))}
	return a.send(ctx, nil, msgs, core.ApplyGenerateOptions(options...))
}

func (a *AnthropicLLM) send(ctx context.Context, system []anthropic.TextBlockParam, msgs []anthropic.MessageParam, opts *core.GenerateOptions) (string, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(opts.MaxTokens),
		Messages:    msgs,
		System:      system,
		Temperature: anthropic.Float(opts.Temperature),
	}
	if len(opts.StopSequences) > 0 {
		params.StopSequences = opts.StopSequences
	}

	msg, err := a.client.Messages.New(ctx, params)
	if err != nil {
		code := errors.LLMGenerationFailed
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusTooManyRequests {
			code = errors.RateLimitExceeded
		}
		return "", errors.WithFields(
			errors.Wrap(err, code, "message request failed"),
			errors.Fields{"provider": "anthropic", "model": a.model},
		)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}
