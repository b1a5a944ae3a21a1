package taskqueue

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func launchTask(n int) Task {
	return Task{
		ID:    fmt.Sprintf("task-%d", n),
		Type:  TaskTypeExecuteRun,
		RunID: fmt.Sprintf("run-%d", n),
		Args:  []byte{0xa1, 0x61, 0x6b, byte(n)},
	}
}

// testQueueFIFO checks ordering, payload fidelity and Len on an empty queue.
func testQueueFIFO(t *testing.T, q Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(ctx, launchTask(i)))
	}
	assert.Equal(t, 3, q.Len())

	for i := 1; i <= 3; i++ {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		want := launchTask(i)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, TaskTypeExecuteRun, got.Type)
		assert.Equal(t, want.RunID, got.RunID)
		assert.Equal(t, want.Args, got.Args)
	}
	assert.Equal(t, 0, q.Len())
}

// testQueueDequeueHonorsContext checks that an idle Dequeue returns when ctx ends.
func testQueueDequeueHonorsContext(t *testing.T, q Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// testQueueNotBefore checks that a delayed task is not delivered early.
func testQueueNotBefore(t *testing.T, q Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	delay := 200 * time.Millisecond
	task := launchTask(7)
	task.NotBefore = time.Now().Add(delay)
	start := time.Now()
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, got.ID)
	assert.GreaterOrEqual(t, time.Since(start), delay-20*time.Millisecond)
}
