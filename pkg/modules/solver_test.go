package modules

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scottdavis/mathagent/internal/testutil"
	"github.com/scottdavis/mathagent/pkg/core"
	apperrors "github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/toolcall"
	"github.com/scottdavis/mathagent/pkg/tools"
)

func newRegistry(t *testing.T, ts ...core.Tool) *core.Registry {
	t.Helper()
	registry := core.NewRegistry(core.WithRegistryLogger(testutil.QuietLogger()))
	registry.MustRegister(ts...)
	return registry
}

func newSolver(t *testing.T, gen core.Generator, registry *core.Registry, configure ...func(*core.Config)) *Solver {
	t.Helper()
	config := core.NewConfig().WithGenerator(gen)
	for _, fn := range configure {
		fn(config)
	}
	solver, err := NewSolver(config, registry, WithSolverLogger(testutil.QuietLogger()))
	require.NoError(t, err)
	return solver
}

type recordingObserver struct {
	iterations []int
	limited    []bool
}

func (r *recordingObserver) ObserveSolve(iterations int, limited bool) {
	r.iterations = append(r.iterations, iterations)
	r.limited = append(r.limited, limited)
}

func TestNewSolverRequiresGenerator(t *testing.T) {
	_, err := NewSolver(core.NewConfig(), nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ConfigurationError))
}

func TestSolverNoToolCall(t *testing.T) {
	gen := testutil.NewScriptedGenerator("<|im_start|>assistant\nThe answer is 4.<|im_end|>")
	solver := newSolver(t, gen, newRegistry(t))

	messages := []core.Message{{Role: core.RoleUser, Content: "2+2?"}}
	result, err := solver.Generate(context.Background(), messages)
	require.NoError(t, err)

	assert.Equal(t, 1, gen.CallCount())
	assert.Equal(t, "The answer is 4.", result.FinalAnswer)
	assert.Empty(t, result.Trail)
	assert.Equal(t, 0, result.Iterations)
	assert.Empty(t, result.Warning)
	assert.False(t, result.ToolsUsed())
	assert.Equal(t, messages, result.Conversation)
}

func TestSolverEndToEndCalculator(t *testing.T) {
	call := toolcall.Render(tools.CalculatorName, map[string]any{"expression": "sin(pi/2) + cos(0)"})
	gen := testutil.NewScriptedGenerator(
		"Let me compute this.\n"+call,
		"The value is 2.0, so the answer is \\boxed{2.0}",
	)
	registry := newRegistry(t, tools.NewCalculator())
	solver := newSolver(t, gen, registry)

	solution, err := solver.Solve(context.Background(), "Calculate sin(pi/2) + cos(0)")
	require.NoError(t, err)

	assert.True(t, solution.ToolsUsed)
	require.Len(t, solution.Trail, 1)
	assert.Equal(t, tools.CalculatorName, solution.Trail[0].Tool)
	assert.Equal(t, map[string]any{"expression": "sin(pi/2) + cos(0)"}, solution.Trail[0].Params)
	assert.True(t, solution.Trail[0].Result.Success)
	assert.Contains(t, solution.Answer, "2.0")
	assert.Equal(t, "2.0", solution.FinalAnswer)
	assert.Equal(t, 1, solution.Iterations)
	assert.Empty(t, solution.Warning)

	// The injected result is visible to the second generation call.
	calls := gen.Calls()
	require.Len(t, calls, 2)
	second := calls[1]
	last := second[len(second)-1]
	assert.Equal(t, core.RoleAssistant, last.Role)
	assert.Equal(t, "Let me compute this.\n<tool_result>sin(pi/2) + cos(0) = 2.0</tool_result>", last.Content)

	// The system prompt advertises the registered tool.
	assert.Equal(t, core.RoleSystem, calls[0][0].Role)
	assert.Contains(t, calls[0][0].Content, "- numpy_calculator:")
}

func TestSolverIterationBound(t *testing.T) {
	for _, n := range []int{1, 3, 5} {
		t.Run(fmt.Sprintf("bound %d", n), func(t *testing.T) {
			loop := core.NewToolFunc("again", "always asks again", func(context.Context, map[string]any) (any, error) {
				return "call me again", nil
			})
			gen := testutil.NewScriptedGenerator(toolcall.Render("again", nil))
			observer := &recordingObserver{}
			config := core.NewConfig().WithGenerator(gen).WithMaxIterations(n)
			solver, err := NewSolver(config, newRegistry(t, loop),
				WithSolverLogger(testutil.QuietLogger()), WithSolveObserver(observer))
			require.NoError(t, err)

			result, err := solver.Generate(context.Background(), []core.Message{{Role: core.RoleUser, Content: "loop"}})
			require.NoError(t, err)

			assert.Equal(t, n, gen.CallCount())
			assert.Equal(t, n, result.Iterations)
			assert.Len(t, result.Trail, n)
			assert.Equal(t, IterationLimitWarning, result.Warning)
			assert.True(t, result.Limited())
			assert.True(t, toolcall.Detect(result.FinalAnswer))
			assert.Equal(t, []int{n}, observer.iterations)
			assert.Equal(t, []bool{true}, observer.limited)
		})
	}
}

func TestSolverToolFailureIsInjected(t *testing.T) {
	failing := core.NewToolFunc("divide", "divides", func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("division by zero")
	})
	gen := testutil.NewScriptedGenerator(
		toolcall.Render("divide", map[string]any{"a": 1, "b": 0}),
		"The division is undefined.",
	)
	solver := newSolver(t, gen, newRegistry(t, failing))

	result, err := solver.Generate(context.Background(), []core.Message{{Role: core.RoleUser, Content: "1/0"}})
	require.NoError(t, err)

	require.Len(t, result.Trail, 1)
	assert.False(t, result.Trail[0].Result.Success)
	assert.Equal(t, "division by zero", result.Trail[0].Result.Error)
	assert.Equal(t, "The division is undefined.", result.FinalAnswer)

	last := result.Conversation[len(result.Conversation)-1]
	assert.Equal(t, "<tool_error>division by zero</tool_error>", last.Content)
}

func TestSolverUnknownTool(t *testing.T) {
	gen := testutil.NewScriptedGenerator(toolcall.Render("matplotlib_plotter", nil), "No plot available.")
	solver := newSolver(t, gen, newRegistry(t))

	result, err := solver.Generate(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, result.Trail, 1)
	assert.Equal(t, "tool 'matplotlib_plotter' not found", result.Trail[0].Result.Error)
	assert.Equal(t, "No plot available.", result.FinalAnswer)
}

func TestSolverMalformedCall(t *testing.T) {
	gen := testutil.NewScriptedGenerator("<tool_call>\nparams: {}\n</tool_call>", "Recovered.")
	solver := newSolver(t, gen, newRegistry(t))

	result, err := solver.Generate(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, result.Trail)
	assert.Equal(t, 1, result.Iterations)
	assert.Equal(t, "Recovered.", result.FinalAnswer)
	assert.Equal(t, "<tool_error>malformed tool call: missing tool name</tool_error>",
		result.Conversation[len(result.Conversation)-1].Content)
}

func TestSolverGeneratorErrorIsFatal(t *testing.T) {
	gen := new(testutil.MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("connection refused"))
	solver := newSolver(t, gen, newRegistry(t))

	_, err := solver.Solve(context.Background(), "1+1")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.LLMGenerationFailed))
	assert.Contains(t, err.Error(), "connection refused")
	gen.AssertExpectations(t)
}

func TestSolverCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gen := core.GeneratorFunc(func(context.Context, []core.Message, ...core.GenerateOption) (string, error) {
		cancel()
		return toolcall.Render("noop", nil), nil
	})
	noop := core.NewToolFunc("noop", "does nothing", func(context.Context, map[string]any) (any, error) {
		return "ok", nil
	})
	solver := newSolver(t, gen, newRegistry(t, noop))

	_, err := solver.Generate(ctx, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.Canceled))
}

func TestSolverToolsDisabled(t *testing.T) {
	tool := testutil.NewMockTool("calc")
	gen := testutil.NewScriptedGenerator(toolcall.Render("calc", nil))
	solver := newSolver(t, gen, newRegistry(t, tool), func(c *core.Config) { c.WithTools(false) })

	solution, err := solver.Solve(context.Background(), "2+2")
	require.NoError(t, err)

	assert.Equal(t, 1, gen.CallCount())
	assert.Empty(t, solution.Trail)
	assert.False(t, solution.ToolsUsed)
	assert.Equal(t, defaultPrompts[PromptDefault], gen.Calls()[0][0].Content)
	// The tool is never touched.
	tool.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)
}

func TestSolveOptions(t *testing.T) {
	gen := new(testutil.MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("Done.", nil)
	solver := newSolver(t, gen, newRegistry(t))

	solution, err := solver.Solve(context.Background(), "x",
		WithPrompt(PromptConcise), WithSolveMaxTokens(64), WithSolveTemperature(0.1), WithTools(true))
	require.NoError(t, err)
	assert.Equal(t, "Done.", solution.FinalAnswer)

	args := gen.Calls[0].Arguments
	messages := args.Get(1).([]core.Message)
	assert.Equal(t, defaultPrompts[PromptConcise], messages[0].Content)

	opts := core.ApplyGenerateOptions(args.Get(2).([]core.GenerateOption)...)
	assert.Equal(t, 64, opts.MaxTokens)
	assert.Equal(t, 0.1, opts.Temperature)
}

func TestSolverProcess(t *testing.T) {
	gen := testutil.NewScriptedGenerator("x = 5\n\\boxed{5}")
	solver := newSolver(t, gen, newRegistry(t))

	outputs, err := solver.Process(context.Background(), map[string]any{"problem": "Solve x + 5 = 10"})
	require.NoError(t, err)
	assert.Equal(t, "5", outputs["final_answer"])
	assert.Equal(t, false, outputs["tools_used"])

	_, err = solver.Process(context.Background(), map[string]any{})
	assert.True(t, apperrors.HasCode(err, apperrors.InvalidInput))
}
