package modules

import (
	"context"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/logging"
	"github.com/scottdavis/mathagent/pkg/toolcall"
)

// IterationLimitWarning marks a result whose tool loop was cut off.
const IterationLimitWarning = "iteration limit reached"

const malformedCallMessage = "malformed tool call: missing tool name"

// ToolInvocation is one entry of the audit trail.
type ToolInvocation struct {
	Tool   string          `json:"tool"`
	Params map[string]any  `json:"params"`
	Result core.ToolResult `json:"result"`
}

// GenerationResult is the outcome of one bounded generation loop.
type GenerationResult struct {
	FinalAnswer  string           `json:"final_answer"`
	Trail        []ToolInvocation `json:"tool_calls"`
	Iterations   int              `json:"iterations"`
	Warning      string           `json:"warning,omitempty"`
	Conversation []core.Message   `json:"conversation"`
}

// ToolsUsed reports whether any tool was invoked.
func (r *GenerationResult) ToolsUsed() bool { return len(r.Trail) > 0 }

// Limited reports whether the loop stopped on the iteration bound.
func (r *GenerationResult) Limited() bool { return r.Warning == IterationLimitWarning }

// Solution is the result of solving one problem statement.
type Solution struct {
	Problem     string           `json:"problem"`
	Answer      string           `json:"answer"`
	FinalAnswer string           `json:"final_answer"`
	Trail       []ToolInvocation `json:"tool_calls"`
	ToolsUsed   bool             `json:"tools_used"`
	Iterations  int              `json:"iterations"`
	Warning     string           `json:"warning,omitempty"`
}

// SolveObserver is notified after every completed generation loop.
type SolveObserver interface {
	ObserveSolve(iterations int, limited bool)
}

// Solver drives generation and tool execution.
type Solver struct {
	generator     core.Generator
	router        *toolcall.Router
	prompts       *PromptSet
	extract       AnswerExtractor
	maxIterations int
	toolsEnabled  bool
	genOpts       []core.GenerateOption
	observer      SolveObserver
	routerOpts    []toolcall.Option
	logger        *logging.Logger
}

// SolverOption configures a Solver.
type SolverOption func(*Solver)

// WithPromptSet replaces the built-in prompts.
func WithPromptSet(p *PromptSet) SolverOption {
	return func(s *Solver) {
		s.prompts = p
	}
}

// WithAnswerExtractor replaces ExtractChatMLAnswer.
func WithAnswerExtractor(fn AnswerExtractor) SolverOption {
	return func(s *Solver) {
		s.extract = fn
	}
}

// WithSolveObserver registers an observer, typically metrics.
func WithSolveObserver(o SolveObserver) SolverOption {
	return func(s *Solver) {
		s.observer = o
	}
}

// WithRouterOptions passes options through to the tool call router.
func WithRouterOptions(opts ...toolcall.Option) SolverOption {
	return func(s *Solver) {
		s.routerOpts = append(s.routerOpts, opts...)
	}
}

// WithSolverLogger sets the logger.
func WithSolverLogger(l *logging.Logger) SolverOption {
	return func(s *Solver) {
		s.logger = l
	}
}

// NewSolver builds a solver from config. Tool calls are resolved against
// registry.
func NewSolver(config *core.Config, registry *core.Registry, opts ...SolverOption) (*Solver, error) {
	if config == nil || config.Generator == nil {
		return nil, errors.New(errors.ConfigurationError, "solver requires a generator")
	}
	if registry == nil {
		registry = core.NewRegistry()
	}

	s := &Solver{
		generator:     config.Generator,
		extract:       ExtractChatMLAnswer,
		maxIterations: config.MaxIterations,
		toolsEnabled:  config.ToolsEnabled,
		genOpts:       config.GenerateOptions(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxIterations <= 0 {
		s.maxIterations = core.DefaultMaxIterations
	}
	if s.logger == nil {
		s.logger = logging.GetLogger()
	}
	if s.prompts == nil {
		s.prompts = NewPromptSet(registry)
	}

	routerOpts := []toolcall.Option{toolcall.WithLogger(s.logger)}
	if config.ToolTimeout > 0 {
		routerOpts = append(routerOpts, toolcall.WithTimeout(config.ToolTimeout))
	}
	s.router = toolcall.NewRouter(registry, append(routerOpts, s.routerOpts...)...)
	return s, nil
}

// Registry returns the registry the solver's tool calls use.
func (s *Solver) Registry() *core.Registry { return s.router.Registry() }

// ToolsEnabled reports whether the tool loop is on by default.
func (s *Solver) ToolsEnabled() bool { return s.toolsEnabled }

// Generate runs the bounded tool loop over messages. Tool failures and
// malformed calls are injected into the dialogue; only generator failures
// and cancellation are returned as errors.
func (s *Solver) Generate(ctx context.Context, messages []core.Message, opts ...core.GenerateOption) (*GenerationResult, error) {
	return s.generate(ctx, messages, s.toolsEnabled, opts...)
}

func (s *Solver) generate(ctx context.Context, messages []core.Message, useTools bool, opts ...core.GenerateOption) (*GenerationResult, error) {
	conversation := make([]core.Message, len(messages), len(messages)+s.maxIterations)
	copy(conversation, messages)

	genOpts := make([]core.GenerateOption, 0, len(s.genOpts)+len(opts))
	genOpts = append(append(genOpts, s.genOpts...), opts...)

	result := &GenerationResult{Trail: []ToolInvocation{}}

	if !useTools {
		answer, err := s.generateOnce(ctx, conversation, genOpts, 0)
		if err != nil {
			return nil, err
		}
		result.FinalAnswer = answer
		result.Conversation = conversation
		s.observe(result)
		return result, nil
	}

	var answer string
	for result.Iterations < s.maxIterations {
		if err := ctx.Err(); err != nil {
			return nil, errors.WithFields(
				errors.Wrap(err, errors.Canceled, "generation canceled"),
				errors.Fields{"iteration": result.Iterations},
			)
		}

		var err error
		answer, err = s.generateOnce(ctx, conversation, genOpts, result.Iterations)
		if err != nil {
			return nil, err
		}

		if !toolcall.Detect(answer) {
			result.FinalAnswer = answer
			result.Conversation = conversation
			s.observe(result)
			return result, nil
		}

		var augmented string
		if call, ok := toolcall.Parse(answer); ok {
			s.logger.Debug(ctx, "iteration %d: calling tool %s", result.Iterations+1, call.ToolName)
			toolResult := s.router.Execute(ctx, call)
			result.Trail = append(result.Trail, ToolInvocation{
				Tool:   call.ToolName,
				Params: call.Params,
				Result: toolResult,
			})
			augmented = toolcall.Inject(answer, toolResult)
		} else {
			s.logger.Warn(ctx, "iteration %d: %s", result.Iterations+1, malformedCallMessage)
			augmented = toolcall.InjectError(answer, malformedCallMessage)
		}

		conversation = append(conversation, core.Message{Role: core.RoleAssistant, Content: augmented})
		result.Iterations++
	}

	s.logger.Warn(ctx, "%s after %d iterations", IterationLimitWarning, result.Iterations)
	result.FinalAnswer = answer
	result.Warning = IterationLimitWarning
	result.Conversation = conversation
	s.observe(result)
	return result, nil
}

func (s *Solver) generateOnce(ctx context.Context, conversation []core.Message, opts []core.GenerateOption, iteration int) (string, error) {
	raw, err := s.generator.Generate(ctx, conversation, opts...)
	if err != nil {
		return "", errors.WithFields(
			errors.Wrap(err, errors.LLMGenerationFailed, "generation failed"),
			errors.Fields{"iteration": iteration},
		)
	}
	return s.extract(raw), nil
}

func (s *Solver) observe(result *GenerationResult) {
	if s.observer != nil {
		s.observer.ObserveSolve(result.Iterations, result.Limited())
	}
}

// SolveOptions are per-request overrides for Solve.
type SolveOptions struct {
	Prompt      string
	UseTools    *bool
	MaxTokens   int
	Temperature *float64
}

// SolveOption configures a Solve call.
type SolveOption func(*SolveOptions)

// WithPrompt selects a named system prompt, or supplies literal prompt text.
func WithPrompt(name string) SolveOption {
	return func(o *SolveOptions) {
		o.Prompt = name
	}
}

// WithTools overrides whether the tool loop runs.
func WithTools(enabled bool) SolveOption {
	return func(o *SolveOptions) {
		o.UseTools = &enabled
	}
}

// WithSolveMaxTokens overrides the token limit.
func WithSolveMaxTokens(n int) SolveOption {
	return func(o *SolveOptions) {
		o.MaxTokens = n
	}
}

// WithSolveTemperature overrides the sampling temperature.
func WithSolveTemperature(t float64) SolveOption {
	return func(o *SolveOptions) {
		o.Temperature = &t
	}
}

// Solve answers a standalone problem statement.
func (s *Solver) Solve(ctx context.Context, problem string, opts ...SolveOption) (*Solution, error) {
	o := SolveOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	useTools := s.toolsEnabled
	if o.UseTools != nil {
		useTools = *o.UseTools
	}
	if o.Prompt == "" {
		o.Prompt = PromptDefault
		if useTools {
			o.Prompt = PromptWithTools
		}
	}

	messages, err := s.prompts.Messages(problem, o.Prompt)
	if err != nil {
		return nil, err
	}

	var genOpts []core.GenerateOption
	if o.MaxTokens > 0 {
		genOpts = append(genOpts, core.WithMaxTokens(o.MaxTokens))
	}
	if o.Temperature != nil {
		genOpts = append(genOpts, core.WithTemperature(*o.Temperature))
	}

	s.logger.Info(ctx, "solving problem (tools=%t, prompt=%s)", useTools, o.Prompt)
	gen, err := s.generate(ctx, messages, useTools, genOpts...)
	if err != nil {
		return nil, err
	}

	return &Solution{
		Problem:     problem,
		Answer:      gen.FinalAnswer,
		FinalAnswer: FinalAnswer(gen.FinalAnswer),
		Trail:       gen.Trail,
		ToolsUsed:   gen.ToolsUsed(),
		Iterations:  gen.Iterations,
		Warning:     gen.Warning,
	}, nil
}

// Process implements Module. It reads "problem" and returns the solution
// fields keyed by their JSON names.
func (s *Solver) Process(ctx context.Context, inputs map[string]any) (map[string]any, error) {
	problem, ok := inputs["problem"].(string)
	if !ok || problem == "" {
		return nil, errors.WithFields(
			errors.New(errors.InvalidInput, "missing problem input"),
			errors.Fields{"inputs": len(inputs)},
		)
	}

	solution, err := s.Solve(ctx, problem)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"answer":       solution.Answer,
		"final_answer": solution.FinalAnswer,
		"tool_calls":   solution.Trail,
		"tools_used":   solution.ToolsUsed,
		"iterations":   solution.Iterations,
		"warning":      solution.Warning,
	}, nil
}
