package core

import "context"

// Role tags a dialogue message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of a dialogue.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// GenerateOptions carries per-call generation parameters.
type GenerateOptions struct {
	MaxTokens     int
	Temperature   float64
	StopSequences []string
}

// GenerateOption configures a generation call.
type GenerateOption func(*GenerateOptions)

// NewGenerateOptions returns the defaults used when no options are given.
func NewGenerateOptions() *GenerateOptions {
	return &GenerateOptions{
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
	}
}

// ApplyGenerateOptions builds options from defaults plus opts.
func ApplyGenerateOptions(opts ...GenerateOption) *GenerateOptions {
	o := NewGenerateOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(n int) GenerateOption {
	return func(o *GenerateOptions) {
		if n > 0 {
			o.MaxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) GenerateOption {
	return func(o *GenerateOptions) {
		if t >= 0 {
			o.Temperature = t
		}
	}
}

// WithStopSequences sets stop sequences.
func WithStopSequences(stop ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.StopSequences = stop
	}
}

// Generator is the text-generation engine used by the solver. It receives
// the whole dialogue and returns raw model text.
type Generator interface {
	Generate(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)
}

// Completer is the decision-making engine. It receives a single prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error) {
	return f(ctx, messages, opts...)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string, opts ...GenerateOption) (string, error) {
	return f(ctx, prompt, opts...)
}

// ModelInfo is implemented by engines that can describe themselves.
type ModelInfo interface {
	ProviderName() string
	ModelID() string
}
