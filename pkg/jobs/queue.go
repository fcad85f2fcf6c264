// Package jobs distributes problems across worker processes through a
// Redis or Faktory queue.
package jobs

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// JobType is the Faktory job type and the Redis key segment for problems.
const JobType = "solve_problem"

// Job is one queued problem.
type Job struct {
	ID         string    `json:"id"`
	Batch      string    `json:"batch"`
	Index      int       `json:"index"`
	Problem    string    `json:"problem"`
	Retry      int       `json:"retry"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Result is what a worker publishes after running a job.
type Result struct {
	JobID       string    `json:"job_id"`
	Batch       string    `json:"batch"`
	Index       int       `json:"index"`
	Problem     string    `json:"problem"`
	Type        string    `json:"type,omitempty"`
	Response    string    `json:"response,omitempty"`
	FinalAnswer string    `json:"final_answer,omitempty"`
	Error       string    `json:"error,omitempty"`
	Worker      string    `json:"worker,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Queue is a backend for distributing jobs.
type Queue interface {
	// Push enqueues a job.
	Push(ctx context.Context, job *Job) error

	// Pop waits up to wait for the next job. It returns nil, nil when the
	// queue stayed empty.
	Pop(ctx context.Context, wait time.Duration) (*Job, error)

	// Ack marks a popped job finished. A non-nil jobErr reports a failure
	// and may requeue the job while it has retries left.
	Ack(ctx context.Context, job *Job, jobErr error) error

	Close() error
}

// ResultSink receives finished results.
type ResultSink interface {
	Publish(ctx context.Context, result Result) error
}

// SinkFunc adapts a function to ResultSink.
type SinkFunc func(ctx context.Context, result Result) error

func (f SinkFunc) Publish(ctx context.Context, result Result) error { return f(ctx, result) }

// QueueConfig holds settings common to every backend.
type QueueConfig struct {
	// Name is the queue to push to and fetch from.
	Name string

	// JobTimeout is how long a worker may hold a job.
	JobTimeout time.Duration

	// RetryCount is how many times a failed job is requeued.
	RetryCount int
}

// DefaultQueueConfig returns the "mathagent" queue with 3 retries.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{Name: "mathagent", JobTimeout: 10 * time.Minute, RetryCount: 3}
}

func (c QueueConfig) withDefaults() QueueConfig {
	d := DefaultQueueConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = d.JobTimeout
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	return c
}

// DefaultBackoffStrategy provides exponential backoff with jitter.
func DefaultBackoffStrategy(attempt int, baseDelay time.Duration) time.Duration {
	backoff := float64(baseDelay.Nanoseconds()) * math.Pow(2, float64(attempt))
	jitter := rand.Float64() * 0.5 * backoff
	return time.Duration(backoff + jitter)
}
