package jobs

import (
	"context"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"github.com/scottdavis/mathagent/pkg/agents"
	"github.com/scottdavis/mathagent/pkg/errors"
	"github.com/scottdavis/mathagent/pkg/logging"
	"github.com/scottdavis/mathagent/pkg/modules"
)

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	// Queue is polled for jobs.
	Queue Queue

	// Sink receives every final result. Required.
	Sink ResultSink

	// Factory creates a fresh agent per job.
	Factory agents.AgentFactory

	// Concurrency is the number of jobs processed at once.
	Concurrency int

	// PollWait is how long one Pop may block.
	PollWait time.Duration

	// Drain stops the worker once the queue is empty.
	Drain bool

	// Name identifies the worker in results. Defaults to the host name plus a
	// random suffix.
	Name string

	// SolveOptions are passed to every run.
	SolveOptions []modules.SolveOption

	// BackoffStrategy spaces polls after queue errors.
	BackoffStrategy func(attempt int, baseDelay time.Duration) time.Duration

	Logger *logging.Logger
}

// Worker pulls problems from a queue, solves each in its own session and
// publishes the results.
type Worker struct {
	config    WorkerConfig
	processed atomic.Int64
	failed    atomic.Int64
}

// NewWorker validates config and fills in defaults.
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Queue == nil || config.Sink == nil || config.Factory == nil {
		return nil, errors.New(errors.ConfigurationError, "worker needs a queue, a sink and an agent factory")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollWait <= 0 {
		config.PollWait = time.Second
	}
	if config.BackoffStrategy == nil {
		config.BackoffStrategy = DefaultBackoffStrategy
	}
	if config.Logger == nil {
		config.Logger = logging.GetLogger()
	}
	if config.Name == "" {
		host, _ := os.Hostname()
		config.Name = host + ":" + uuid.NewString()[:8]
	}
	return &Worker{config: config}, nil
}

// Run processes jobs until ctx is canceled or, in drain mode, the queue is
// empty. In-flight jobs finish before it returns.
func (w *Worker) Run(ctx context.Context) error {
	w.config.Logger.Info(ctx, "worker %s started (concurrency=%d)", w.config.Name, w.config.Concurrency)

	p := pool.New().WithMaxGoroutines(w.config.Concurrency)
	for i := 0; i < w.config.Concurrency; i++ {
		p.Go(func() { w.loop(ctx) })
	}
	p.Wait()

	w.config.Logger.Info(ctx, "worker %s stopped: %d processed, %d failed",
		w.config.Name, w.processed.Load(), w.failed.Load())
	return nil
}

// Processed returns how many jobs finished, successfully or not.
func (w *Worker) Processed() int64 { return w.processed.Load() }

// Failed returns how many job attempts failed.
func (w *Worker) Failed() int64 { return w.failed.Load() }

func (w *Worker) loop(ctx context.Context) {
	attempt := 0
	for ctx.Err() == nil {
		job, err := w.config.Queue.Pop(ctx, w.config.PollWait)
		if err != nil {
			if errors.HasCode(err, errors.Canceled) {
				return
			}
			w.config.Logger.Warn(ctx, "failed to pop job: %v", err)
			delay := w.config.BackoffStrategy(attempt, 100*time.Millisecond)
			attempt++
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0
		if job == nil {
			if w.config.Drain {
				return
			}
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	result := Result{
		JobID:   job.ID,
		Batch:   job.Batch,
		Index:   job.Index,
		Problem: job.Problem,
		Worker:  w.config.Name,
	}

	resp, err := w.solve(ctx, job)
	result.FinishedAt = time.Now().UTC()
	if err != nil {
		w.failed.Add(1)
		w.config.Logger.Warn(ctx, "job %s failed (retries left %d): %v", job.ID, job.Retry, err)
		ackErr := w.config.Queue.Ack(ctx, job, err)
		if ackErr != nil {
			w.config.Logger.Error(ctx, "failed to ack job %s: %v", job.ID, ackErr)
		}
		// A requeued job publishes on its last attempt; a failed requeue ends it here.
		if job.Retry > 0 && ackErr == nil {
			return
		}
		result.Error = err.Error()
	} else {
		result.Type = string(resp.Decision.Type)
		result.Response = resp.Text
		if resp.Solution != nil {
			result.FinalAnswer = resp.Solution.FinalAnswer
		}
		if ackErr := w.config.Queue.Ack(ctx, job, nil); ackErr != nil {
			w.config.Logger.Error(ctx, "failed to ack job %s: %v", job.ID, ackErr)
		}
	}

	w.processed.Add(1)
	if err := w.config.Sink.Publish(ctx, result); err != nil {
		w.config.Logger.Error(ctx, "failed to publish result for job %s: %v", job.ID, err)
	}
}

func (w *Worker) solve(ctx context.Context, job *Job) (*agents.Response, error) {
	agent, err := w.config.Factory()
	if err != nil {
		return nil, err
	}
	return agent.Run(ctx, job.Problem, w.config.SolveOptions...)
}

// Enqueue pushes one job per problem under a new batch id and returns it.
func Enqueue(ctx context.Context, q Queue, problems []string, retry int) (string, error) {
	batch := uuid.NewString()
	for i, problem := range problems {
		job := &Job{
			ID:      uuid.NewString(),
			Batch:   batch,
			Index:   i,
			Problem: problem,
			Retry:   retry,
		}
		if err := q.Push(ctx, job); err != nil {
			return batch, err
		}
	}
	return batch, nil
}
