package llms

import (
	"context"
	"fmt"
	"strings"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
)

// Provider names accepted in model ids.
const (
	ProviderOllama     = "ollama"
	ProviderOpenAI     = "openai"
	ProviderVLLM       = "vllm"
	ProviderLlamacpp   = "llamacpp"
	ProviderOpenRouter = "openrouter"
	ProviderAnthropic  = "anthropic"
	ProviderGoogle     = "google"
)

// DefaultLlamacppURL is the llama.cpp server's OpenAI-compatible endpoint.
const DefaultLlamacppURL = "http://localhost:8080/v1"

// LLM is an engine usable both as the solver's generator and as the
// router's decision engine.
type LLM interface {
	core.Generator
	core.Completer
	core.ModelInfo
}

// ModelSpec is a parsed model id.
type ModelSpec struct {
	Provider string
	Model    string
	// Host is set for ollama ids that name a server.
	Host string
}

func (s ModelSpec) String() string {
	if s.Host != "" {
		return fmt.Sprintf("%s:%s:%s", s.Provider, s.Host, s.Model)
	}
	return s.Provider + ":" + s.Model
}

// Credentials carries API keys and endpoints for the providers.
type Credentials struct {
	OpenAIKey     string
	OpenAIBaseURL string
	AnthropicKey  string
	GoogleKey     string
	OpenRouterKey string
	OllamaHost    string
}

// ParseModelID splits "provider:model". Supported ollama forms:
//
//	ollama:<model_name>
//	ollama:<host>:<model_name>
//	ollama:<host>:<port>:<model_name>
//	ollama:http(s)://<host>:<port>:<model_name>
//
// "gemini" is accepted as an alias for google.
func ParseModelID(id string) (ModelSpec, error) {
	provider, rest, ok := strings.Cut(strings.TrimSpace(id), ":")
	if !ok || provider == "" || rest == "" {
		return ModelSpec{}, invalidModelID(id, "use '<provider>:<model_name>'")
	}
	provider = strings.ToLower(provider)
	if provider == "gemini" {
		provider = ProviderGoogle
	}

	switch provider {
	case ProviderOllama:
		return parseOllama(id, rest)
	case ProviderOpenAI, ProviderVLLM, ProviderLlamacpp, ProviderOpenRouter, ProviderAnthropic, ProviderGoogle:
		return ModelSpec{Provider: provider, Model: rest}, nil
	default:
		return ModelSpec{}, errors.WithFields(
			errors.New(errors.ConfigurationError, "unsupported model provider"),
			errors.Fields{"model_id": id, "provider": provider},
		)
	}
}

func parseOllama(id, input string) (ModelSpec, error) {
	const usage = "use 'ollama:<model_name>' or 'ollama:<host>:<model_name>'"

	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		// Find the last colon to separate host from model
		lastColon := strings.LastIndex(input, ":")
		host, model := input[:lastColon], input[lastColon+1:]
		if model == "" || host == "http" || host == "https" {
			return ModelSpec{}, invalidModelID(id, usage)
		}
		return ModelSpec{Provider: ProviderOllama, Host: host, Model: model}, nil
	}

	if !strings.Contains(input, ":") {
		return ModelSpec{Provider: ProviderOllama, Model: input}, nil
	}

	// Assume the last part is the model name
	parts := strings.Split(input, ":")
	model := parts[len(parts)-1]
	host := strings.Join(parts[:len(parts)-1], ":")
	if host == "" || model == "" {
		return ModelSpec{}, invalidModelID(id, usage)
	}
	return ModelSpec{Provider: ProviderOllama, Host: "http://" + host, Model: model}, nil
}

func invalidModelID(id, hint string) error {
	return errors.WithFields(
		errors.New(errors.ConfigurationError, "invalid model ID format: "+hint),
		errors.Fields{"model_id": id},
	)
}

// NewLLM creates the engine named by id.
func NewLLM(ctx context.Context, id string, creds Credentials) (LLM, error) {
	spec, err := ParseModelID(id)
	if err != nil {
		return nil, err
	}

	var llm LLM
	switch spec.Provider {
	case ProviderOllama:
		host := spec.Host
		if host == "" {
			host = creds.OllamaHost
		}
		llm, err = NewOllamaLLM(host, spec.Model)
	case ProviderOpenAI:
		llm, err = NewOpenAILLM(creds.OpenAIKey, spec.Model, WithBaseURL(creds.OpenAIBaseURL))
	case ProviderVLLM:
		if creds.OpenAIBaseURL == "" {
			return nil, errors.WithFields(
				errors.New(errors.ConfigurationError, "vllm requires a base URL"),
				errors.Fields{"model_id": id},
			)
		}
		llm, err = newCompatible(ProviderVLLM, creds.OpenAIKey, spec.Model, creds.OpenAIBaseURL)
	case ProviderLlamacpp:
		baseURL := creds.OpenAIBaseURL
		if baseURL == "" {
			baseURL = DefaultLlamacppURL
		}
		llm, err = newCompatible(ProviderLlamacpp, creds.OpenAIKey, spec.Model, baseURL)
	case ProviderOpenRouter:
		llm, err = NewOpenRouterLLM(creds.OpenRouterKey, spec.Model)
	case ProviderAnthropic:
		llm, err = NewAnthropicLLM(creds.AnthropicKey, spec.Model)
	case ProviderGoogle:
		llm, err = NewGeminiLLM(ctx, creds.GoogleKey, spec.Model)
	}

	if err != nil {
		return nil, err
	}
	return llm, nil
}

func newCompatible(provider, apiKey, model, baseURL string) (*OpenAILLM, error) {
	llm, err := NewOpenAILLM(apiKey, model, WithBaseURL(baseURL))
	if err != nil {
		return nil, err
	}
	llm.provider = provider
	return llm, nil
}

// NewGenerator creates the solver's generation engine.
func NewGenerator(ctx context.Context, id string, creds Credentials) (core.Generator, error) {
	llm, err := NewLLM(ctx, id, creds)
	if err != nil {
		return nil, err
	}
	return llm, nil
}

// NewCompleter creates the router's decision engine.
func NewCompleter(ctx context.Context, id string, creds Credentials) (core.Completer, error) {
	llm, err := NewLLM(ctx, id, creds)
	if err != nil {
		return nil, err
	}
	return llm, nil
}
