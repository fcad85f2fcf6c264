package agents

import (
	"context"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"github.com/scottdavis/mathagent/pkg/core"
	"github.com/scottdavis/mathagent/pkg/logging"
	"github.com/scottdavis/mathagent/pkg/modules"
)

// AgentFactory builds a fresh agent with its own session.
type AgentFactory func() (Agent, error)

// BatchResult is the outcome for one batch input.
type BatchResult struct {
	Index    int       `json:"index"`
	Input    string    `json:"input"`
	Response *Response `json:"response,omitempty"`
	Err      error     `json:"-"`
}

// SolveBatch runs every input in its own session, at most concurrency at a
// time. Results are returned in input order; per-input failures are
// reported in BatchResult.Err rather than aborting the batch.
func SolveBatch(ctx context.Context, factory AgentFactory, inputs []string, concurrency int, opts ...modules.SolveOption) []BatchResult {
	if concurrency <= 0 {
		concurrency = core.DefaultConcurrencyLevel
	}
	logger := logging.GetLogger()
	results := make([]BatchResult, len(inputs))

	var processed int32
	p := pool.New().WithMaxGoroutines(concurrency)
	for i, input := range inputs {
		p.Go(func() {
			results[i] = BatchResult{Index: i, Input: input}
			defer func() {
				n := atomic.AddInt32(&processed, 1)
				logger.Debug(ctx, "batch progress: %d/%d", n, len(inputs))
			}()

			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return
			}
			agent, err := factory()
			if err != nil {
				results[i].Err = err
				return
			}
			results[i].Response, results[i].Err = agent.Run(ctx, input, opts...)
		})
	}
	p.Wait()
	return results
}
