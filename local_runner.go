package pipehost

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/petrijr/pipehost/internal/taskqueue"
	"github.com/petrijr/pipehost/pkg/worker"
)

// LocalRunner bundles an in-memory Host, an in-memory launch queue, and a
// Worker to provide a simple "local runner" for development and debugging.
//
// Typical usage:
//
//	runner := pipehost.NewLocalRunner(pipehost.WithRepositories(repo))
//	defer runner.Close()
//
//	// Synchronous run (no queue/worker involved):
//	run, args, _ := runner.Host.CreateRun(ctx, recon, nil, nil)
//	handle, _ := runner.Host.StartRun(ctx, args)
//	events, _ := handle.Collect(ctx)
//
//	// Asynchronous run:
//	_ = runner.StartWorkers(ctx, 2)
//	runID, _ := runner.SubmitRun(ctx, recon, nil)
//	...
//	runner.Stop()
type LocalRunner struct {
	// Host is the in-memory host used by this runner.
	Host *Host

	// Queue is the in-memory launch queue used by the Worker.
	Queue taskqueue.Queue

	// Worker launches runs from Queue on the Host.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan error
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by a freshly registered
// in-memory instance, an in-memory queue, and a Worker with default config.
//
// This is intended for local development, tests, and simple single-process
// deployments.
func NewLocalRunner(opts ...HostOption) *LocalRunner {
	host := NewInMemoryHost("local-"+uuid.NewString(), opts...)
	q := taskqueue.NewInMemoryQueue(1024)
	w := worker.NewWithConfig(q, worker.InProcessLauncher(host.Deps(), nil), worker.Config{Logger: host.logger})

	return &LocalRunner{
		Host:   host,
		Queue:  q,
		Worker: w,
	}
}

// StartWorkers starts 'concurrency' worker goroutines that continuously
// launch queued runs until Stop is called.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("pipehost: LocalRunner already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.done = make(chan error, 1)

	go func() {
		r.done <- r.Worker.Run(ctx, concurrency)
	}()
	return nil
}

// Stop cancels the worker goroutines started by StartWorkers and waits for
// them to exit. Runs still executing are interrupted.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	<-done
}

// SubmitRun creates a run of recon's pipeline and enqueues its launch. It
// returns the run id.
func (r *LocalRunner) SubmitRun(ctx context.Context, recon ReconstructablePipeline, runConfig map[string]any) (string, error) {
	return submit(ctx, r.Host, r.Worker, recon, runConfig)
}

// Close stops the workers and releases the in-memory instance.
func (r *LocalRunner) Close() error {
	r.Stop()
	return r.Host.Close()
}
