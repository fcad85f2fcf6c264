package agents

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottdavis/mathagent/internal/testutil"
	"github.com/scottdavis/mathagent/pkg/core"
)

func TestSolveBatchPreservesOrder(t *testing.T) {
	gen := core.GeneratorFunc(func(_ context.Context, messages []core.Message, _ ...core.GenerateOption) (string, error) {
		return "answer to " + messages[len(messages)-1].Content, nil
	})

	var mu sync.Mutex
	sessions := map[string]bool{}
	factory := func() (Agent, error) {
		agent := newTestAgent(t, core.CompleterFunc(managerStub), gen)
		mu.Lock()
		sessions[agent.SessionID()] = true
		mu.Unlock()
		return agent, nil
	}

	inputs := make([]string, 12)
	for i := range inputs {
		inputs[i] = fmt.Sprintf("%d + %d", i, i)
	}

	results := SolveBatch(context.Background(), factory, inputs, 4)
	require.Len(t, results, len(inputs))
	for i, r := range results {
		require.NoError(t, r.Err)
		assert.Equal(t, i, r.Index)
		assert.Equal(t, inputs[i], r.Input)
		assert.Equal(t, "answer to "+inputs[i], r.Response.Text)
	}
	assert.Len(t, sessions, len(inputs))
}

func TestSolveBatchReportsFailuresPerInput(t *testing.T) {
	calls := 0
	var mu sync.Mutex
	factory := func() (Agent, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 {
			return nil, errors.New("no capacity")
		}
		return newTestAgent(t, core.CompleterFunc(managerStub), testutil.NewScriptedGenerator("ok")), nil
	}

	results := SolveBatch(context.Background(), factory, []string{"a", "b", "c"}, 1)
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.EqualError(t, results[1].Err, "no capacity")
	assert.NoError(t, results[2].Err)
}

func TestSolveBatchCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	factory := func() (Agent, error) {
		t.Error("factory must not run after cancellation")
		return nil, nil
	}
	results := SolveBatch(ctx, factory, []string{"1+1", "2+2"}, 0)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
}
