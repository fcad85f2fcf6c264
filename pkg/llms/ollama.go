package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/utils"
)

// DefaultOllamaHost is used when no endpoint is given.
const DefaultOllamaHost = "http://localhost:11434"

// Sampling defaults applied to every Ollama request.
var defaultSampling = map[string]any{
	"top_p":          0.9,
	"top_k":          50,
	"repeat_penalty": 1.1,
}

// OllamaLLM talks to an Ollama server. Generate uses /api/chat and
// Complete uses /api/generate.
type OllamaLLM struct {
	host   string
	model  string
	client *http.Client
}

var (
	_ core.Generator = (*OllamaLLM)(nil)
	_ core.Completer = (*OllamaLLM)(nil)
	_ core.ModelInfo = (*OllamaLLM)(nil)
)

// NewOllamaLLM creates a new OllamaLLM instance.
func NewOllamaLLM(endpoint, model string) (*OllamaLLM, error) {
	if model == "" {
		return nil, errors.New(errors.ConfigurationError, "ollama model name is required")
	}
	if endpoint == "" {
		endpoint = DefaultOllamaHost
	}
	return &OllamaLLM{
		host:   strings.TrimSuffix(endpoint, "/"),
		model:  model,
		client: &http.Client{Timeout: 10 * time.Minute},
	}, nil
}

func (o *OllamaLLM) ProviderName() string { return "ollama" }
func (o *OllamaLLM) ModelID() string      { return o.model }

// Host returns the server endpoint.
func (o *OllamaLLM) Host() string { return o.host }

func (o *OllamaLLM) options(opts *core.GenerateOptions) map[string]any {
	out := make(map[string]any, len(defaultSampling)+3)
	for k, v := range defaultSampling {
		out[k] = v
	}
	out["num_predict"] = opts.MaxTokens
	out["temperature"] = opts.Temperature
	if len(opts.StopSequences) > 0 {
		out["stop"] = opts.StopSequences
	}
	return out
}

// Generate implements core.Generator.
func (o *OllamaLLM) Generate(ctx context.Context, messages []core.Message, options ...core.GenerateOption) (string, error) {
	opts := core.ApplyGenerateOptions(options...)
	stream := false

	req := api.ChatRequest{
		Model:    o.model,
		Messages: make([]api.Message, 0, len(messages)),
		Stream:   &stream,
		Options:  o.options(opts),
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, api.Message{Role: string(m.Role), Content: m.Content})
	}

	var resp api.ChatResponse
	if err := o.post(ctx, "/api/chat", req, &resp); err != nil {
		return "", err
	}
	return resp.Message.Content, nil
}

// Complete implements core.Completer.
func (o *OllamaLLM) Complete(ctx context.Context, prompt string, options ...core.GenerateOption) (string, error) {
	opts := core.ApplyGenerateOptions(options...)
	stream := false

	req := api.GenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: o.options(opts),
	}

	var resp api.GenerateResponse
	if err := o.post(ctx, "/api/generate", req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

func (o *OllamaLLM) post(ctx context.Context, path string, body, out any) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to marshal request body"),
			errors.Fields{"model": o.model},
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.host+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.InvalidInput, "failed to create request"),
			errors.Fields{"model": o.model},
		)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.LLMGenerationFailed, "failed to send request"),
			errors.Fields{"model": o.model, "endpoint": path},
		)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.LLMGenerationFailed, "failed to read response body"),
			errors.Fields{"model": o.model},
		)
	}

	if resp.StatusCode != http.StatusOK {
		code := errors.LLMGenerationFailed
		if resp.StatusCode == http.StatusTooManyRequests {
			code = errors.RateLimitExceeded
		}
		return errors.WithFields(
			errors.New(code, fmt.Sprintf("API request failed with status code %d", resp.StatusCode)),
			errors.Fields{
				"model":         o.model,
				"status_code":   resp.StatusCode,
				"response_body": utils.TruncateString(string(data), 200),
			})
	}

	if err := json.Unmarshal(data, out); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.InvalidResponse, "failed to unmarshal response"),
			errors.Fields{
				"resp":  utils.TruncateString(string(data), 50),
				"model": o.model,
			})
	}
	return nil
}
