package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stickerpack/internal/infra"
)

const noBlock = -1

func newTestQueue(t *testing.T, maxRetries int) (*RedisKickQueue, context.Context) {
	t.Helper()
	srv := miniredis.RunT(t)
	q, err := NewRedisKickQueue(Config{
		Addr:       srv.Addr(),
		Stream:     "test:kicks",
		Group:      "test-workers",
		Consumer:   "consumer",
		MaxRetries: maxRetries,
		RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	ctx := context.Background()
	require.NoError(t, q.ensureGroup(ctx))
	return q, ctx
}

func TestNewRedisKickQueueValidates(t *testing.T) {
	_, err := NewRedisKickQueue(Config{Stream: "s"})
	assert.Error(t, err)
	_, err = NewRedisKickQueue(Config{Addr: "localhost:6379"})
	assert.Error(t, err)
}

func TestFromConfigWithoutRedis(t *testing.T) {
	q, err := FromConfig(&infra.Config{}, "api", nil)
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestPublishAndConsume(t *testing.T) {
	q, ctx := newTestQueue(t, 3)
	require.NoError(t, q.Ping(ctx))
	require.NoError(t, q.Publish(ctx, "job-1"))
	require.NoError(t, q.Publish(ctx, "job-2"))
	assert.Error(t, q.Publish(ctx, "  "))

	var mu sync.Mutex
	var seen []string
	n, err := q.consumeOnce(ctx, "c-1", noBlock, func(ctx context.Context, jobID string) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, jobID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"job-1", "job-2"}, seen)

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
	length, err := q.client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestPublishBeforeGroupExistsIsDelivered(t *testing.T) {
	srv := miniredis.RunT(t)
	q, err := NewRedisKickQueue(Config{Addr: srv.Addr(), Stream: "early:kicks"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, q.Publish(ctx, "job-early"))
	require.NoError(t, q.ensureGroup(ctx))

	var got string
	_, err = q.consumeOnce(ctx, "c-1", noBlock, func(ctx context.Context, jobID string) error {
		got = jobID
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "job-early", got)
}

func TestFailedKickIsRequeuedWithAttempt(t *testing.T) {
	q, ctx := newTestQueue(t, 3)
	require.NoError(t, q.Publish(ctx, "job-1"))

	_, err := q.consumeOnce(ctx, "c-1", noBlock, func(ctx context.Context, jobID string) error {
		return errors.New("db down")
	})
	require.NoError(t, err)

	streams, err := q.client.XRange(ctx, q.stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, streams, 1)
	assert.Equal(t, "job-1", streams[0].Values["job_id"])
	assert.Equal(t, "2", streams[0].Values["attempt"])

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	require.NoError(t, err)
	assert.Zero(t, pending.Count)
}

func TestKickDroppedAfterMaxRetries(t *testing.T) {
	q, ctx := newTestQueue(t, 2)
	require.NoError(t, q.Publish(ctx, "job-1"))

	calls := 0
	fail := func(ctx context.Context, jobID string) error {
		calls++
		return errors.New("still failing")
	}
	for i := 0; i < 3; i++ {
		_, err := q.consumeOnce(ctx, "c-1", noBlock, fail)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, calls)
	length, err := q.client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestMalformedKickIsDiscarded(t *testing.T) {
	q, ctx := newTestQueue(t, 3)
	require.NoError(t, q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.stream, Values: map[string]any{"other": "x"}}).Err())

	called := false
	_, err := q.consumeOnce(ctx, "c-1", noBlock, func(ctx context.Context, jobID string) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	length, err := q.client.XLen(ctx, q.stream).Result()
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestRunStopsOnCancel(t *testing.T) {
	q, ctx := newTestQueue(t, 3)
	q.block = 10 * time.Millisecond
	require.NoError(t, q.Publish(ctx, "job-1"))

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan string, 1)
	go func() {
		_ = q.Run(runCtx, 2, func(ctx context.Context, jobID string) error {
			done <- jobID
			return nil
		})
	}()

	select {
	case got := <-done:
		assert.Equal(t, "job-1", got)
	case <-time.After(5 * time.Second):
		t.Fatal("kick was not consumed")
	}
	cancel()
}
