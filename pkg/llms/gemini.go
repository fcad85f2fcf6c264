package llms

import (
	"context"
	"strings"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
)

// GeminiLLM is the Google Gemini engine, used by default for routing.
type GeminiLLM struct {
	client *genai.Client
	model  string
}

var (
	_ core.Generator = (*GeminiLLM)(nil)
	_ core.Completer = (*GeminiLLM)(nil)
	_ core.ModelInfo = (*GeminiLLM)(nil)
)

// NewGeminiLLM creates a client for model.
func NewGeminiLLM(ctx context.Context, apiKey, model string, opts ...option.ClientOption) (*GeminiLLM, error) {
	if apiKey == "" {
		return nil, errors.New(errors.ConfigurationError, "missing GOOGLE_API_KEY or GEMINI_API_KEY")
	}
	if model == "" {
		return nil, errors.New(errors.ConfigurationError, "gemini model name is required")
	}
	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ConfigurationError, "gemini init")
	}
	return &GeminiLLM{client: client, model: model}, nil
}

func (g *GeminiLLM) ProviderName() string { return "google" }
func (g *GeminiLLM) ModelID() string      { return g.model }

// Close releases the underlying client.
func (g *GeminiLLM) Close() error { return g.client.Close() }

func (g *GeminiLLM) configure(opts *core.GenerateOptions) *genai.GenerativeModel {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(float32(opts.Temperature))
	model.SetMaxOutputTokens(int32(opts.MaxTokens))
	if len(opts.StopSequences) > 0 {
		model.StopSequences = opts.StopSequences
	}
	return model
}

// Complete implements core.Completer.
func (g *GeminiLLM) Complete(ctx context.Context, prompt string, options ...core.GenerateOption) (string, error) {
	model := g.configure(core.ApplyGenerateOptions(options...))
	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.LLMGenerationFailed, "gemini generate"),
			errors.Fields{"provider": "google", "model": g.model},
		)
	}
	return responseText(resp)
}

// Generate implements core.Generator. System messages become the system
// instruction and the remaining turns are replayed as chat history.
func (g *GeminiLLM) Generate(ctx context.Context, messages []core.Message, options ...core.GenerateOption) (string, error) {
	if len(messages) == 0 {
		return "", errors.New(errors.InvalidInput, "no messages to send")
	}
	model := g.configure(core.ApplyGenerateOptions(options...))

	var system []genai.Part
	var turns []core.Message
	for _, m := range messages {
		if m.Role == core.RoleSystem {
			system = append(system, genai.Text(m.Content))
			continue
		}
		turns = append(turns, m)
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: system}
	}
	if len(turns) == 0 {
		return "", errors.New(errors.InvalidInput, "no user or assistant messages to send")
	}

	session := model.StartChat()
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == core.RoleAssistant {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	resp, err := session.SendMessage(ctx, genai.Text(turns[len(turns)-1].Content))
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.LLMGenerationFailed, "gemini chat"),
			errors.Fields{"provider": "google", "model": g.model},
		)
	}
	return responseText(resp)
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New(errors.InvalidResponse, "gemini: empty response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}
