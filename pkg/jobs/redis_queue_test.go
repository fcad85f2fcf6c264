//go:build redis
// +build redis

package jobs

import (
	"context"
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisAddr(t *testing.T) string {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		if os.Getenv("CI") != "" && runtime.GOOS == "linux" {
			t.Fatal("REDIS_TEST_ADDR environment variable must be set in Linux CI environment")
		}
		t.Skip("Skipping Redis tests. Set REDIS_TEST_ADDR to run.")
	}
	return addr
}

func TestRedisQueueRoundTrip(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: redisAddr(t), Password: os.Getenv("REDIS_TEST_PASSWORD")})
	namespace := "mathagent:test:" + uuid.NewString() + ":"
	queue := NewRedisQueueFromClient(client, QueueConfig{Name: "problems"}, namespace)
	defer queue.Close()

	ctx := context.Background()
	batch, err := Enqueue(ctx, queue, []string{"1+1", "2+2"}, 1)
	require.NoError(t, err)

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	first, err := queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "1+1", first.Problem)
	assert.Equal(t, batch, first.Batch)
	assert.Equal(t, 1, first.Retry)
	assert.False(t, first.EnqueuedAt.IsZero())

	// A failure with retries left goes back on the tail.
	require.NoError(t, queue.Ack(ctx, first, assert.AnError))
	second, err := queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "2+2", second.Problem)
	retried, err := queue.Pop(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, first.ID, retried.ID)
	assert.Equal(t, 0, retried.Retry)

	empty, err := queue.Pop(ctx, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, empty)

	require.NoError(t, queue.Publish(ctx, Result{JobID: second.ID, Batch: batch, Index: 1, FinalAnswer: "4"}))
	require.NoError(t, queue.Publish(ctx, Result{JobID: retried.ID, Batch: batch, Index: 0, FinalAnswer: "2"}))
	results, err := queue.Collect(ctx, batch, 2, time.Second)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "4", results[0].FinalAnswer)

	_, err = queue.Collect(ctx, batch, 1, 100*time.Millisecond)
	require.Error(t, err)
}
