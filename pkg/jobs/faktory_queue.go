package jobs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	faktory "github.com/contribsys/faktory/client"

	"github.com/scottdavis/mathagent/pkg/errors"
)

// FaktoryQueue implements Queue using Faktory. The job is carried as a
// single JSON argument. Faktory's own retries are disabled; failed jobs are
// pushed again while Job.Retry allows, as with the other backends. A
// Faktory connection is not safe for concurrent use, so calls are
// serialized.
type FaktoryQueue struct {
	mu     sync.Mutex
	client *faktory.Client
	config QueueConfig
}

var _ Queue = (*FaktoryQueue)(nil)

// NewFaktoryQueue connects to url, e.g. "localhost:7419" or
// "faktory:password@localhost:7419".
func NewFaktoryQueue(url string, config QueueConfig) (*FaktoryQueue, error) {
	server := &faktory.Server{
		Network: "tcp",
		Address: url,
		Timeout: 5 * time.Second,
	}
	if at := strings.LastIndex(url, "@"); at != -1 {
		if _, password, ok := strings.Cut(url[:at], ":"); ok {
			server.Password = password
		}
		server.Address = url[at+1:]
	}

	client, err := server.Open()
	if err != nil {
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to connect to Faktory"),
			errors.Fields{"addr": server.Address},
		)
	}
	return &FaktoryQueue{client: client, config: config.withDefaults()}, nil
}

// Push enqueues job.
func (q *FaktoryQueue) Push(_ context.Context, job *Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "failed to serialize job")
	}

	fj := faktory.NewJob(JobType, string(data))
	fj.Jid = job.ID
	fj.Queue = q.config.Name
	fj.ReserveFor = int(q.config.JobTimeout.Seconds())
	noRetry := 0
	fj.Retry = &noRetry

	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.client.Push(fj); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to push job to Faktory"),
			errors.Fields{"job": job.ID, "queue": q.config.Name},
		)
	}
	return nil
}

// Pop fetches the next job, polling until wait elapses.
func (q *FaktoryQueue) Pop(ctx context.Context, wait time.Duration) (*Job, error) {
	deadline := time.Now().Add(wait)
	for {
		fj, err := q.fetch()
		if err != nil {
			return nil, err
		}
		if fj != nil {
			return decodeFaktoryJob(fj)
		}
		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.Canceled, "pop canceled")
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func (q *FaktoryQueue) fetch() (*faktory.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	fj, err := q.client.Fetch(q.config.Name)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to fetch job from Faktory")
	}
	return fj, nil
}

func decodeFaktoryJob(fj *faktory.Job) (*Job, error) {
	if len(fj.Args) != 1 {
		return nil, errors.WithFields(
			errors.New(errors.InvalidResponse, "unexpected job arguments"),
			errors.Fields{"jid": fj.Jid, "args": len(fj.Args)},
		)
	}
	raw, ok := fj.Args[0].(string)
	if !ok {
		return nil, errors.WithFields(
			errors.New(errors.InvalidResponse, "job argument is not a string"),
			errors.Fields{"jid": fj.Jid},
		)
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, errors.Wrap(err, errors.InvalidResponse, "failed to decode job")
	}
	job.ID = fj.Jid
	return &job, nil
}

// Ack reports the outcome to Faktory and requeues failed jobs that still
// have retries.
func (q *FaktoryQueue) Ack(ctx context.Context, job *Job, jobErr error) error {
	if err := q.report(job, jobErr); err != nil {
		return err
	}
	if jobErr == nil || job.Retry <= 0 {
		return nil
	}
	retry := *job
	retry.Retry--
	return q.Push(ctx, &retry)
}

func (q *FaktoryQueue) report(job *Job, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var err error
	if jobErr != nil {
		err = q.client.Fail(job.ID, jobErr, nil)
	} else {
		err = q.client.Ack(job.ID)
	}
	if err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to report job to Faktory"),
			errors.Fields{"job": job.ID},
		)
	}
	return nil
}

func (q *FaktoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.client.Close()
}
