package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scottdavis/mathagent/pkg/errors"
)

// DefaultRedisNamespace prefixes every queue key.
const DefaultRedisNamespace = "mathagent:jobs:"

// RedisQueue implements Queue and ResultSink with Redis lists. Results are
// grouped per batch so the enqueuing process can collect them.
type RedisQueue struct {
	client    *redis.Client
	config    QueueConfig
	namespace string
}

var (
	_ Queue      = (*RedisQueue)(nil)
	_ ResultSink = (*RedisQueue)(nil)
)

// NewRedisQueue creates a new Redis-backed job queue.
func NewRedisQueue(addr, password string, db int, config QueueConfig) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to connect to Redis"),
			errors.Fields{"addr": addr},
		)
	}
	return NewRedisQueueFromClient(client, config, DefaultRedisNamespace), nil
}

// NewRedisQueueFromClient wraps an existing client.
func NewRedisQueueFromClient(client *redis.Client, config QueueConfig, namespace string) *RedisQueue {
	if namespace == "" {
		namespace = DefaultRedisNamespace
	}
	return &RedisQueue{client: client, config: config.withDefaults(), namespace: namespace}
}

func (q *RedisQueue) queueKey() string {
	return q.namespace + q.config.Name
}

func (q *RedisQueue) resultKey(batch string) string {
	return q.namespace + "results:" + batch
}

// Push adds a job to the tail of the queue.
func (q *RedisQueue) Push(ctx context.Context, job *Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "failed to serialize job")
	}
	if err := q.client.RPush(ctx, q.queueKey(), data).Err(); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to push job to Redis"),
			errors.Fields{"job": job.ID, "queue": q.config.Name},
		)
	}
	return nil
}

// Pop blocks on the head of the queue for up to wait.
func (q *RedisQueue) Pop(ctx context.Context, wait time.Duration) (*Job, error) {
	res, err := q.client.BLPop(ctx, wait, q.queueKey()).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.Canceled, "pop canceled")
		}
		return nil, errors.Wrap(err, errors.Unknown, "failed to pop job from Redis")
	}

	var job Job
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return nil, errors.Wrap(err, errors.InvalidResponse, "failed to decode job")
	}
	return &job, nil
}

// Ack requeues failed jobs that still have retries.
func (q *RedisQueue) Ack(ctx context.Context, job *Job, jobErr error) error {
	if jobErr == nil || job.Retry <= 0 {
		return nil
	}
	retry := *job
	retry.Retry--
	return q.Push(ctx, &retry)
}

// Publish appends result to its batch's result list, kept for a day.
func (q *RedisQueue) Publish(ctx context.Context, result Result) error {
	data, err := json.Marshal(result)
	if err != nil {
		return errors.Wrap(err, errors.InvalidInput, "failed to serialize result")
	}
	key := q.resultKey(result.Batch)
	pipe := q.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.WithFields(
			errors.Wrap(err, errors.Unknown, "failed to publish result"),
			errors.Fields{"batch": result.Batch, "job": result.JobID},
		)
	}
	return nil
}

// Collect waits for n results of batch, giving up after timeout with the
// results received so far.
func (q *RedisQueue) Collect(ctx context.Context, batch string, n int, timeout time.Duration) ([]Result, error) {
	deadline := time.Now().Add(timeout)
	results := make([]Result, 0, n)
	for len(results) < n {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return results, errors.WithFields(
				errors.New(errors.Canceled, "timed out waiting for results"),
				errors.Fields{"batch": batch, "received": len(results), "expected": n},
			)
		}
		res, err := q.client.BLPop(ctx, remaining, q.resultKey(batch)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return results, errors.Wrap(err, errors.Unknown, "failed to read results")
		}
		var r Result
		if err := json.Unmarshal([]byte(res[1]), &r); err != nil {
			return results, errors.Wrap(err, errors.InvalidResponse, "failed to decode result")
		}
		results = append(results, r)
	}
	return results, nil
}

// Len returns the number of waiting jobs.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.queueKey()).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
