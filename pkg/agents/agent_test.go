package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scottdavis/mathagent/internal/testutil"
	"github.com/scottdavis/mathagent/pkg/agents/memory"
	"github.com/scottdavis/mathagent/pkg/core"
	apperrors "github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/modules"
	"github.com/scottdavis/mathagent/pkg/toolcall"
	"github.com/scottdavis/mathagent/pkg/tools"
)

func newTestAgent(t *testing.T, completer core.Completer, gen core.Generator, opts ...AgentOption) *MathAgent {
	t.Helper()
	registry := core.NewRegistry(core.WithRegistryLogger(testutil.QuietLogger()))
	registry.MustRegister(tools.NewCalculator())

	solver, err := modules.NewSolver(core.NewConfig().WithGenerator(gen), registry,
		modules.WithSolverLogger(testutil.QuietLogger()))
	require.NoError(t, err)

	agent, err := NewMathAgent(newRouter(t, completer), solver,
		append([]AgentOption{WithAgentLogger(testutil.QuietLogger())}, opts...)...)
	require.NoError(t, err)
	return agent
}

func TestNewMathAgentRequiresCollaborators(t *testing.T) {
	_, err := NewMathAgent(nil, nil)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ConfigurationError))
}

func TestMathAgentChat(t *testing.T) {
	gen := testutil.NewScriptedGenerator("unused")
	agent := newTestAgent(t, core.CompleterFunc(managerStub), gen)

	resp, err := agent.Run(context.Background(), "Hello")
	require.NoError(t, err)

	assert.Equal(t, DecisionChat, resp.Decision.Type)
	assert.Equal(t, "Hello! I am ready to help you with math.", resp.Text)
	assert.Nil(t, resp.Solution)
	assert.Equal(t, 0, gen.CallCount())
	assert.Equal(t, "Human: Hello\nAI: Hello! I am ready to help you with math.", agent.Memory().Render())
}

func TestMathAgentSolvesWithCalculator(t *testing.T) {
	call := toolcall.Render(tools.CalculatorName, map[string]any{"expression": "sin(pi/2) + cos(0)"})
	gen := testutil.NewScriptedGenerator(
		"<|im_start|>assistant\n"+call,
		"<|im_start|>assistant\nSo the result is \\boxed{2.0}<|im_end|>",
	)
	agent := newTestAgent(t, core.CompleterFunc(managerStub), gen)

	resp, err := agent.Run(context.Background(), "Calculate sin(pi/2) + cos(0)")
	require.NoError(t, err)

	assert.Equal(t, DecisionMath, resp.Decision.Type)
	require.NotNil(t, resp.Solution)
	assert.True(t, resp.Solution.ToolsUsed)
	require.Len(t, resp.Solution.Trail, 1)
	assert.Equal(t, "sin(pi/2) + cos(0) = 2.0", resp.Solution.Trail[0].Result.Formatted)
	assert.Equal(t, "2.0", resp.Solution.FinalAnswer)
	assert.Equal(t, resp.Solution.Answer, resp.Text)

	// The second generation saw the calculator result inline.
	calls := gen.Calls()
	require.Len(t, calls, 2)
	last := calls[1][len(calls[1])-1]
	assert.Equal(t, core.RoleAssistant, last.Role)
	assert.Contains(t, last.Content, "<tool_result>sin(pi/2) + cos(0) = 2.0</tool_result>")
}

func TestMathAgentFollowUpUsesHistory(t *testing.T) {
	completer := new(testutil.MockCompleter)
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return !strings.Contains(p, "Integral of x\nAI:")
	}), mock.Anything).Return(`{"type":"math","content":"Integral of x"}`, nil).Once()
	completer.On("Complete", mock.Anything, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "Human: Integral of x\nAI: x^2/2 + C")
	}), mock.Anything).Return(`{"type":"math","content":"Calculate the integral of x^2"}`, nil).Once()

	gen := core.GeneratorFunc(func(_ context.Context, messages []core.Message, _ ...core.GenerateOption) (string, error) {
		if strings.Contains(messages[len(messages)-1].Content, "x^2") {
			return "x^3/3 + C", nil
		}
		return "x^2/2 + C", nil
	})
	agent := newTestAgent(t, completer, gen)
	ctx := context.Background()

	_, err := agent.Run(ctx, "Integral of x")
	require.NoError(t, err)

	resp, err := agent.Run(ctx, "What about x^2?")
	require.NoError(t, err)
	assert.Equal(t, "Calculate the integral of x^2", resp.Decision.Content)
	assert.Equal(t, "x^3/3 + C", resp.Text)
	completer.AssertExpectations(t)
}

func TestMathAgentMemoryWindow(t *testing.T) {
	gen := testutil.NewScriptedGenerator("done")
	agent := newTestAgent(t, core.CompleterFunc(managerStub), gen,
		WithMemory(memory.NewConversationMemory(3)))
	ctx := context.Background()

	for _, in := range []string{"1+1", "2+2", "3+3", "4+4"} {
		_, err := agent.Run(ctx, in)
		require.NoError(t, err)
	}

	turns := agent.Memory().Turns()
	require.Len(t, turns, 3)
	assert.Equal(t, "2+2", turns[0].Input)
	assert.Equal(t, "4+4", turns[2].Input)
	assert.NotContains(t, agent.Memory().Render(), "Human: 1+1")
}

func TestMathAgentRouterFailureLeavesMemory(t *testing.T) {
	completer := new(testutil.MockCompleter)
	completer.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("unavailable"))
	agent := newTestAgent(t, completer, testutil.NewScriptedGenerator("x"))

	_, err := agent.Run(context.Background(), "1+1")
	require.Error(t, err)
	assert.Equal(t, 0, agent.Memory().Len())
}

func TestMathAgentSolverFailure(t *testing.T) {
	gen := new(testutil.MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("engine down"))
	agent := newTestAgent(t, core.CompleterFunc(managerStub), gen)

	_, err := agent.Run(context.Background(), "Solve x + 5 = 10")
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.LLMGenerationFailed))
	assert.Equal(t, 0, agent.Memory().Len())
}

func TestMathAgentReset(t *testing.T) {
	store := memory.NewInMemoryTurnStore()
	agent := newTestAgent(t, core.CompleterFunc(managerStub), testutil.NewScriptedGenerator("ok"),
		WithSessionID("fixed"),
		WithMemory(memory.NewConversationMemory(3, memory.WithStore(store, "fixed"))))
	ctx := context.Background()

	_, err := agent.Run(ctx, "Hello")
	require.NoError(t, err)
	persisted, err := store.Load(ctx, "fixed", 3)
	require.NoError(t, err)
	assert.Len(t, persisted, 1)

	require.NoError(t, agent.Reset(ctx))
	assert.Equal(t, 0, agent.Memory().Len())
	persisted, err = store.Load(ctx, "fixed", 3)
	require.NoError(t, err)
	assert.Empty(t, persisted)
}

func TestMathAgentIdentity(t *testing.T) {
	a := newTestAgent(t, core.CompleterFunc(managerStub), testutil.NewScriptedGenerator("ok"))
	b := newTestAgent(t, core.CompleterFunc(managerStub), testutil.NewScriptedGenerator("ok"))
	assert.NotEmpty(t, a.SessionID())
	assert.NotEqual(t, a.SessionID(), b.SessionID())

	fixed := newTestAgent(t, core.CompleterFunc(managerStub), testutil.NewScriptedGenerator("ok"), WithSessionID("abc"))
	assert.Equal(t, "abc", fixed.SessionID())

	caps := a.Capabilities()
	assert.Contains(t, caps, tools.CalculatorName)
}
