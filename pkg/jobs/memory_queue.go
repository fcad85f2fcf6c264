package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/scottdavis/mathagent/pkg/errors"
)

// MemoryQueue is an in-process Queue, for tests and single-host runs.
type MemoryQueue struct {
	mu      sync.Mutex
	jobs    chan *Job
	failed  map[string]int
	closed  bool
	done    chan struct{}
	senders sync.WaitGroup // in-flight Pushes; Close waits before closing jobs
}

// NewMemoryQueue creates a queue buffering up to size jobs.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{
		jobs:   make(chan *Job, size),
		failed: make(map[string]int),
		done:   make(chan struct{}),
	}
}

// Push blocks while the buffer is full. q.mu is held only for the closed
// check.
func (q *MemoryQueue) Push(ctx context.Context, job *Job) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return errClosed()
	}
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return errClosed()
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.Canceled, "push canceled")
	}
}

// offer is a non-blocking Push.
func (q *MemoryQueue) offer(job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errClosed()
	}
	select {
	case q.jobs <- job:
		return nil
	default:
		return errors.WithFields(
			errors.New(errors.RateLimitExceeded, "queue is full"),
			errors.Fields{"job_id": job.ID, "capacity": cap(q.jobs)},
		)
	}
}

func errClosed() error {
	return errors.New(errors.ResourceNotFound, "queue is closed")
}

func (q *MemoryQueue) Pop(ctx context.Context, wait time.Duration) (*Job, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case job, ok := <-q.jobs:
		if !ok {
			return nil, nil
		}
		return job, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.Canceled, "pop canceled")
	}
}

// Ack requeues failed jobs that still have retries.
func (q *MemoryQueue) Ack(_ context.Context, job *Job, jobErr error) error {
	if jobErr == nil {
		return nil
	}
	q.mu.Lock()
	q.failed[job.ID]++
	q.mu.Unlock()
	if job.Retry <= 0 {
		return nil
	}
	retry := *job
	retry.Retry--
	// Never blocks; the caller may be the only consumer.
	return q.offer(&retry)
}

// Failures returns how many times jobID failed.
func (q *MemoryQueue) Failures(jobID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failed[jobID]
}

func (q *MemoryQueue) Len() int { return len(q.jobs) }

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.senders.Wait()
	close(q.jobs)
	return nil
}
