package jobs

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scottdavis/mathagent/internal/testutil"
	"github.com/scottdavis/mathagent/pkg/agents"
	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/modules"
)

func mathDecision(_ context.Context, prompt string, _ ...core.GenerateOption) (string, error) {
	const marker = "User's New Input: "
	input := prompt[strings.Index(prompt, marker)+len(marker):]
	input = input[:strings.IndexByte(input, '\n')]
	return `{"type": "math", "content": "` + input + `"}`, nil
}

func testFactory(t *testing.T, gen core.Generator) agents.AgentFactory {
	t.Helper()
	registry := core.NewRegistry(core.WithRegistryLogger(testutil.QuietLogger()))
	solver, err := modules.NewSolver(core.NewConfig().WithGenerator(gen).WithTools(false), registry,
		modules.WithSolverLogger(testutil.QuietLogger()))
	require.NoError(t, err)
	router, err := agents.NewDecisionRouter(core.CompleterFunc(mathDecision), registry,
		agents.WithRouterLogger(testutil.QuietLogger()))
	require.NoError(t, err)

	return func() (agents.Agent, error) {
		agent, err := agents.NewMathAgent(router, solver, agents.WithAgentLogger(testutil.QuietLogger()))
		if err != nil {
			return nil, err
		}
		return agent, nil
	}
}

type collectSink struct {
	mu      sync.Mutex
	results []Result
}

func (s *collectSink) Publish(_ context.Context, r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, r)
	return nil
}

func (s *collectSink) sorted() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]Result(nil), s.results...)
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

func TestWorkerDrainsQueue(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue(16)
	problems := []string{"1+1", "2+2", "3+3", "4+4", "5+5"}
	batch, err := Enqueue(ctx, queue, problems, 0)
	require.NoError(t, err)
	require.NotEmpty(t, batch)
	assert.Equal(t, len(problems), queue.Len())

	sink := &collectSink{}
	worker, err := NewWorker(WorkerConfig{
		Queue:       queue,
		Sink:        sink,
		Factory:     testFactory(t, testutil.NewScriptedGenerator(`<|im_start|>assistant\boxed{42}<|im_end|>`)),
		Concurrency: 3,
		PollWait:    20 * time.Millisecond,
		Drain:       true,
		Name:        "test-worker",
		Logger:      testutil.QuietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, worker.Run(ctx))

	results := sink.sorted()
	require.Len(t, results, len(problems))
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, problems[i], r.Problem)
		assert.Equal(t, batch, r.Batch)
		assert.Equal(t, "math", r.Type)
		assert.Equal(t, "42", r.FinalAnswer)
		assert.Equal(t, "test-worker", r.Worker)
		assert.Empty(t, r.Error)
	}
	assert.Equal(t, int64(len(problems)), worker.Processed())
	assert.Zero(t, worker.Failed())
}

func TestWorkerRetriesThenReportsFailure(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue(4)
	require.NoError(t, queue.Push(ctx, &Job{ID: "j1", Batch: "b", Problem: "x", Retry: 2}))

	var attempts atomic.Int32
	factory := func() (agents.Agent, error) {
		attempts.Add(1)
		return nil, errors.New("engine down")
	}

	sink := &collectSink{}
	worker, err := NewWorker(WorkerConfig{
		Queue: queue, Sink: sink, Factory: factory,
		PollWait: 20 * time.Millisecond, Drain: true, Logger: testutil.QuietLogger(),
	})
	require.NoError(t, err)
	require.NoError(t, worker.Run(ctx))

	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, 3, queue.Failures("j1"))
	assert.Equal(t, int64(3), worker.Failed())

	results := sink.sorted()
	require.Len(t, results, 1)
	assert.Equal(t, "engine down", results[0].Error)
	assert.Equal(t, int64(1), worker.Processed())
}

func TestWorkerStopsOnCancel(t *testing.T) {
	queue := NewMemoryQueue(1)
	worker, err := NewWorker(WorkerConfig{
		Queue: queue, Sink: SinkFunc(func(context.Context, Result) error { return nil }),
		Factory:  testFactory(t, testutil.NewScriptedGenerator("x")),
		PollWait: 10 * time.Millisecond, Logger: testutil.QuietLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestNewWorkerRequiresCollaborators(t *testing.T) {
	_, err := NewWorker(WorkerConfig{})
	require.Error(t, err)
}

func TestMemoryQueueClosed(t *testing.T) {
	queue := NewMemoryQueue(1)
	require.NoError(t, queue.Close())
	require.Error(t, queue.Push(context.Background(), &Job{ID: "x"}))

	job, err := queue.Pop(context.Background(), time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestMemoryQueueRetryOnFullBuffer(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue(1)
	require.NoError(t, queue.Push(ctx, &Job{ID: "a", Retry: 1}))
	a, err := queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NoError(t, queue.Push(ctx, &Job{ID: "b"}))

	acked := make(chan error, 1)
	go func() { acked <- queue.Ack(ctx, a, errors.New("boom")) }()

	select {
	case err := <-acked:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "queue is full")
	case <-time.After(2 * time.Second):
		t.Fatal("Ack blocked on a full buffer")
	}
	assert.Equal(t, 1, queue.Failures("a"))
	assert.Equal(t, 1, queue.Len())

	// A blocked Push does not hold the queue lock.
	pushed := make(chan error, 1)
	go func() { pushed <- queue.Push(ctx, &Job{ID: "c"}) }()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, queue.Failures("a"))
	require.NoError(t, queue.Close())

	select {
	case err := <-pushed:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Push did not return after Close")
	}
}

func TestWorkerPublishesWhenRequeueFails(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue(1)
	require.NoError(t, queue.Push(ctx, &Job{ID: "a", Batch: "b", Problem: "x", Retry: 1}))

	sink := &collectSink{}
	var fill sync.Once
	factory := func() (agents.Agent, error) {
		// Fill the buffer so the retry cannot be requeued.
		fill.Do(func() {
			_ = queue.Push(ctx, &Job{ID: "filler", Batch: "b", Index: 1, Problem: "y"})
		})
		return nil, errors.New("engine down")
	}
	worker, err := NewWorker(WorkerConfig{
		Queue: queue, Sink: sink, Factory: factory, Concurrency: 1,
		PollWait: 20 * time.Millisecond, Drain: true, Logger: testutil.QuietLogger(),
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker deadlocked on a full queue")
	}

	results := sink.sorted()
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].JobID)
	assert.Equal(t, "engine down", results[0].Error)
	assert.Equal(t, 1, queue.Failures("a"))
}

func TestDefaultBackoffStrategy(t *testing.T) {
	base := 100 * time.Millisecond
	for attempt := 0; attempt < 4; attempt++ {
		d := DefaultBackoffStrategy(attempt, base)
		floor := base * time.Duration(1<<attempt)
		assert.GreaterOrEqual(t, d, floor)
		assert.LessOrEqual(t, d, floor+floor/2)
	}
}
