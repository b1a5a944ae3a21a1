package pipehost

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/petrijr/pipehost/internal/executor"
	"github.com/petrijr/pipehost/internal/instance"
	"github.com/petrijr/pipehost/internal/subprocess"
	"github.com/petrijr/pipehost/pkg/api"
)

// WorkerCommand is the executable started for runs launched in a worker
// process. The program must call ServeWorker with the same repositories as
// the host.
type WorkerCommand = subprocess.Command

// SubprocessOptions tunes StartRunInSubprocess.
type SubprocessOptions struct {
	// GracePeriod is how long a terminated worker has before it is killed.
	GracePeriod time.Duration
	// Stderr receives the worker's stderr. Defaults to os.Stderr.
	Stderr io.Writer
}

// StartRunInSubprocess executes the run described by args in a new worker
// process and returns a handle streaming its events. The worker reopens the
// instance from args.InstanceRef, so the host must not use an in-memory
// instance.
func (h *Host) StartRunInSubprocess(ctx context.Context, args ExecuteRunArgs, cmd WorkerCommand, opts SubprocessOptions) (*RunHandle, error) {
	if args.InstanceRef.Backend == api.BackendMemory {
		return nil, fmt.Errorf("run %s: in-memory instances cannot be shared with a worker process", args.PipelineRunID)
	}
	data, err := executor.EncodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("encode run args: %w", err)
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	l := subprocess.NewLauncher(cmd,
		subprocess.WithLogger(h.logger),
		subprocess.WithGracePeriod(opts.GracePeriod),
		subprocess.WithStderr(stderr),
		subprocess.WithInstanceOpener(h.Deps().OpenInstance))
	proc, err := l.Launch(ctx, data)
	if err != nil {
		return nil, err
	}
	h.logger.Debug("run_launch", "run_id", args.PipelineRunID, "pid", proc.PID())
	return &RunHandle{RunID: args.PipelineRunID, worker: proc}, nil
}

// ServeWorker is the body of a worker process. It reads the run args from r,
// executes the run with the repositories in opts and writes the message
// stream to w. SIGINT and SIGTERM terminate the run.
func ServeWorker(ctx context.Context, r io.Reader, w io.Writer, opts ...HostOption) error {
	cfg := newHostConfig(opts)
	_, eng := cfg.build()
	return subprocess.Serve(ctx, r, w, executor.Deps{
		OpenInstance: func(ctx context.Context, ref api.InstanceRef) (api.Instance, error) {
			return instance.FromRef(ctx, ref, instance.WithLogger(cfg.logger))
		},
		Engine:       eng,
		Logger:       cfg.logger,
		PollInterval: cfg.poll,
	})
}
