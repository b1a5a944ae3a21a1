package executor

import (
	"context"

	"github.com/petrijr/pipehost/internal/ipc"
	"github.com/petrijr/pipehost/internal/termination"
)

// ExecuteRunInSubprocess runs a worker that forwards sentinels, setup
// diagnostics and engine events to ch.
func ExecuteRunInSubprocess(ctx context.Context, serializedArgs []byte, term *termination.Event, ch *ipc.Channel, deps Deps) error {
	return RunInWorker(ctx, serializedArgs, term, ch.Put, ch.Put, deps)
}

// StartRunInSubprocess runs a worker that only forwards sentinels and setup
// diagnostics to ch. Engine events are still recorded on the instance.
func StartRunInSubprocess(ctx context.Context, serializedArgs []byte, term *termination.Event, ch *ipc.Channel, deps Deps) error {
	return RunInWorker(ctx, serializedArgs, term, ch.Put, ipc.Discard, deps)
}

// Worker is a run executing on its own goroutine.
type Worker struct {
	ch   *ipc.Channel
	term *termination.Event
	done chan struct{}
	err  error
}

// Go starts a worker goroutine for serializedArgs. With forward unset, the
// worker behaves like StartRunInSubprocess.
func Go(ctx context.Context, serializedArgs []byte, forward bool, deps Deps) *Worker {
	w := &Worker{
		ch:   ipc.NewChannel(),
		term: termination.NewEvent(),
		done: make(chan struct{}),
	}
	run := StartRunInSubprocess
	if forward {
		run = ExecuteRunInSubprocess
	}
	go func() {
		defer close(w.done)
		w.err = run(ctx, serializedArgs, w.term, w.ch, deps)
	}()
	return w
}

// Channel returns the worker's message channel.
func (w *Worker) Channel() *ipc.Channel { return w.ch }

// Terminate requests cancellation of the run.
func (w *Worker) Terminate() { w.term.Set() }

// Done is closed when the worker returned.
func (w *Worker) Done() <-chan struct{} { return w.done }

// Wait blocks until the worker returned and reports its result.
func (w *Worker) Wait(ctx context.Context) error {
	select {
	case <-w.done:
		return w.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
