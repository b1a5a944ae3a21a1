package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/petrijr/pipehost/internal/executor"
	"github.com/petrijr/pipehost/internal/taskqueue"
	"github.com/petrijr/pipehost/pkg/api"
)

// Config controls redelivery of failed launches.
type Config struct {
	// MaxAttempts is the total number of launch attempts per task.
	// Zero or one disables retries.
	MaxAttempts int

	// Backoff is the delay before the first retry. It doubles for each
	// following attempt.
	Backoff time.Duration

	Logger *slog.Logger
}

// Worker pulls launch tasks from a Queue and starts their runs with a
// Launcher.
type Worker struct {
	queue    taskqueue.Queue
	launcher Launcher
	cfg      Config
	logger   *slog.Logger
}

// New creates a new Worker that does not retry failed launches.
func New(queue taskqueue.Queue, launcher Launcher) *Worker {
	return NewWithConfig(queue, launcher, Config{})
}

// NewWithConfig creates a Worker with the given retry configuration.
func NewWithConfig(queue taskqueue.Queue, launcher Launcher, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    queue,
		launcher: launcher,
		cfg:      cfg,
		logger:   logger,
	}
}

// EnqueueRun enqueues a task that launches the run described by args. It
// does NOT run anything itself; that is done by ProcessOne. It returns the
// task id.
func (w *Worker) EnqueueRun(ctx context.Context, args api.ExecuteRunArgs) (string, error) {
	return w.EnqueueRunAt(ctx, args, time.Time{})
}

// EnqueueRunAt enqueues a launch task that becomes eligible no earlier than
// at. A zero at means immediately.
func (w *Worker) EnqueueRunAt(ctx context.Context, args api.ExecuteRunArgs, at time.Time) (string, error) {
	data, err := executor.EncodeArgs(args)
	if err != nil {
		return "", fmt.Errorf("encode run args: %w", err)
	}
	t := taskqueue.Task{
		ID:         uuid.NewString(),
		Type:       taskqueue.TaskTypeExecuteRun,
		RunID:      args.PipelineRunID,
		Args:       data,
		EnqueuedAt: time.Now(),
		NotBefore:  at,
	}
	if err := w.queue.Enqueue(ctx, t); err != nil {
		return "", err
	}
	w.logger.Debug("launch_enqueued", "task_id", t.ID, "run_id", t.RunID)
	return t.ID, nil
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false: no task was obtained (ctx ended or dequeue failed).
//   - processed == true: a task was handled. err is nil when the launch
//     succeeded or a retry was scheduled, and the final launch error otherwise.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeExecuteRun:
	default:
		// Unknown task type; mark as processed but return an error so this isn't silently ignored.
		return true, errors.New("unknown task type: " + string(task.Type))
	}

	log := w.logger.With("task_id", task.ID, "run_id", task.RunID, "attempt", task.Attempts+1)
	log.Info("launch_start")

	launchErr := w.launcher.Launch(ctx, task.Args)
	if launchErr == nil {
		log.Info("launch_completed")
		return true, nil
	}
	if !retryable(launchErr) || task.Attempts+1 >= w.cfg.MaxAttempts {
		log.Warn("launch_failed", "error", launchErr)
		return true, launchErr
	}

	retry := *task
	retry.Attempts++
	retry.NotBefore = time.Now().Add(w.backoffFor(retry.Attempts))
	log.Warn("launch_retry", "error", launchErr, "not_before", retry.NotBefore)
	if err := w.queue.Enqueue(context.WithoutCancel(ctx), retry); err != nil {
		return true, errors.Join(launchErr, fmt.Errorf("re-enqueue task %s: %w", task.ID, err))
	}
	return true, nil
}

// retryable reports whether a failed launch may run again. Interrupted and
// lost runs already started, so relaunching them would execute them twice.
func retryable(err error) bool {
	return !api.IsInterrupt(err) && !errors.Is(err, ErrRunLost)
}

// backoffFor returns the delay before attempt n+1, where n >= 1.
func (w *Worker) backoffFor(n int) time.Duration {
	d := w.cfg.Backoff
	for i := 1; i < n; i++ {
		d *= 2
	}
	return d
}

// Run processes tasks with the given number of goroutines until ctx is
// done. Launch errors are logged and do not stop the loop.
func (w *Worker) Run(ctx context.Context, concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		g.Go(func() error {
			for {
				processed, err := w.ProcessOne(ctx)
				if ctx.Err() != nil {
					return nil
				}
				if err != nil {
					if !processed {
						// Dequeue failure; avoid spinning on a broken backend.
						w.logger.Error("dequeue_failed", "error", err)
						select {
						case <-ctx.Done():
							return nil
						case <-time.After(time.Second):
						}
					}
					continue
				}
			}
		})
	}
	return g.Wait()
}
