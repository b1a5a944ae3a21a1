// Package taskqueue holds run launch tasks until a worker picks them up.
package taskqueue

import (
	"context"
	"time"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	// TaskTypeExecuteRun launches a run from its serialized args.
	TaskTypeExecuteRun TaskType = "execute-run"
)

// Task represents a unit of work for the worker.
type Task struct {
	ID   string   `cbor:"id"`
	Type TaskType `cbor:"type"`

	// RunID is the run the task launches. It is informational; the worker
	// reads the run id from Args.
	RunID string `cbor:"run_id"`

	// Args is the serialized api.ExecuteRunArgs blob handed to the executor.
	Args []byte `cbor:"args"`

	// Attempts counts earlier deliveries of this task.
	Attempts int `cbor:"attempts"`

	EnqueuedAt time.Time `cbor:"enqueued_at"`

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately" (i.e., at enqueue time).
	NotBefore time.Time `cbor:"not_before"`
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is available
	// or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}

// waitUntil blocks until t or ctx is done.
func waitUntil(ctx context.Context, t time.Time) error {
	d := time.Until(t)
	if d <= 0 {
		return nil
	}
	tmr := time.NewTimer(d)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tmr.C:
		return nil
	}
}
