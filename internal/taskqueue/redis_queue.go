package taskqueue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisQueue implements the Queue interface using Redis.
//
// It uses a single Redis list with key:
//
//	<prefix>tasks
//
// Values are CBOR-encoded Task structs. NotBefore is honored by the
// consumer after the pop.
type RedisQueue struct {
	client *redis.Client
	key    string

	// blockFor bounds each BRPOP so cancellation is observed promptly.
	blockFor time.Duration
}

// NewRedisQueue constructs a Redis-backed Queue.
// prefix is optional but recommended (e.g. "pipehost:").
func NewRedisQueue(client *redis.Client, prefix string) *RedisQueue {
	if prefix == "" {
		prefix = "pipehost:"
	}
	return &RedisQueue{
		client:   client,
		key:      prefix + "tasks",
		blockFor: time.Second,
	}
}

// Ensure RedisQueue implements Queue.
var _ Queue = (*RedisQueue)(nil)

// Enqueue pushes a task onto the Redis list (LPUSH).
func (q *RedisQueue) Enqueue(ctx context.Context, t Task) error {
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
	data, err := EncodeTask(t)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, q.key, data).Err()
}

// Dequeue blocks on BRPOP until a task is available or ctx is cancelled.
func (q *RedisQueue) Dequeue(ctx context.Context) (*Task, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// BRPop returns [key, value]
		res, err := q.client.BRPop(ctx, q.blockFor, q.key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if len(res) != 2 {
			slog.Warn("redis_queue_unexpected_reply", "reply", res)
			continue
		}

		task, err := DecodeTask([]byte(res[1]))
		if err != nil {
			return nil, err
		}
		if err := waitUntil(ctx, task.NotBefore); err != nil {
			// Return the task to the consumer end of the list.
			_ = q.client.RPush(context.Background(), q.key, res[1]).Err()
			return nil, err
		}
		return task, nil
	}
}

// Len returns the approximate number of tasks queued (LLEN).
func (q *RedisQueue) Len() int {
	n, err := q.client.LLen(context.Background(), q.key).Result()
	if err != nil {
		// For a Len() helper, it's better to log and return 0 than panic.
		slog.Warn("redis_queue_len_failed", "error", err)
		return 0
	}
	return int(n)
}
