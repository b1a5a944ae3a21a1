// Package subprocess runs a pipeline run in a separate OS process. The
// controller side (Launcher) spawns the worker, hands it the serialized run
// args on stdin and pumps its stdout into an ipc.Channel. The worker side
// (Serve) executes the run and writes the message stream.
package subprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/pipehost/internal/executor"
	"github.com/petrijr/pipehost/internal/ipc"
	"github.com/petrijr/pipehost/internal/termination"
	"github.com/petrijr/pipehost/pkg/api"
)

// DefaultGracePeriod is how long a worker has to exit after SIGINT before it
// is killed.
const DefaultGracePeriod = 10 * time.Second

// MessageWorkerLost is reported when the worker process ends without
// sending its completion sentinel.
const MessageWorkerLost = "Worker process exited before completing the run"

// ErrStart wraps failures to spawn the worker process.
var ErrStart = errors.New("subprocess: failed to start worker")

// Command describes the worker executable.
type Command struct {
	Path string
	Args []string
	Env  []string
	Dir  string
}

// Launcher spawns worker processes.
type Launcher struct {
	cmd    Command
	logger *slog.Logger
	grace  time.Duration
	stderr io.Writer
	open   executor.InstanceOpener
}

// Option configures a Launcher.
type Option func(*Launcher)

// WithLogger sets the launcher logger.
func WithLogger(l *slog.Logger) Option {
	return func(ln *Launcher) {
		if l != nil {
			ln.logger = l
		}
	}
}

// WithGracePeriod sets how long to wait between SIGINT and SIGKILL.
func WithGracePeriod(d time.Duration) Option {
	return func(ln *Launcher) {
		if d > 0 {
			ln.grace = d
		}
	}
}

// WithStderr redirects the worker's stderr. Defaults to os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(ln *Launcher) { ln.stderr = w }
}

// WithInstanceOpener lets the launcher record the failure of a run whose
// worker died after it started. Without it such runs keep their status.
func WithInstanceOpener(open executor.InstanceOpener) Option {
	return func(ln *Launcher) { ln.open = open }
}

// NewLauncher returns a Launcher starting cmd for every run.
func NewLauncher(cmd Command, opts ...Option) *Launcher {
	l := &Launcher{
		cmd:    cmd,
		logger: slog.Default(),
		grace:  DefaultGracePeriod,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Process is a running worker.
type Process struct {
	ch   *ipc.Channel
	term *termination.Event
	pid  int
	done chan struct{}
	err  error
}

// Launch starts a worker for serializedArgs. Messages from the worker are
// available on the returned Process's Channel; the channel always ends with
// a completion sentinel, which is synthesized after an ErrorMsg when the
// worker dies early. Cancelling ctx terminates the worker.
func (l *Launcher) Launch(ctx context.Context, serializedArgs []byte) (*Process, error) {
	cmd := exec.Command(l.cmd.Path, l.cmd.Args...)
	cmd.Env = l.cmd.Env
	cmd.Dir = l.cmd.Dir
	cmd.Stdin = bytes.NewReader(serializedArgs)
	cmd.Stderr = l.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStart, err)
	}

	p := &Process{
		ch:   ipc.NewChannel(),
		term: termination.NewEvent(),
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	logger := l.logger.With("pid", p.pid)
	logger.Info("worker_started", "path", l.cmd.Path)

	exited := make(chan struct{})
	var g errgroup.Group

	g.Go(func() error {
		started, pumpErr := ipc.Pump(context.Background(), ipc.NewStreamReader(stdout), p.ch)
		// Drain whatever remains so the worker never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
		waitErr := cmd.Wait()
		close(exited)

		switch {
		case pumpErr == nil:
			return waitErr
		case errors.Is(pumpErr, ipc.ErrChannelClosed):
			return nil
		default:
			info := api.ErrorInfoFromError(errors.Join(pumpErr, waitErr))
			if started {
				l.recordLost(serializedArgs, info, logger)
			}
			_ = p.ch.Put(ipc.ErrorMsg(MessageWorkerLost, info))
			_ = p.ch.Put(ipc.WorkerComplete())
			return pumpErr
		}
	})

	g.Go(func() error {
		waitCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			select {
			case <-exited:
				cancel()
			case <-waitCtx.Done():
			}
		}()
		// Returns once the flag is raised, ctx ends or the worker exits.
		p.term.Wait(waitCtx)
		select {
		case <-exited:
			return nil
		default:
		}

		logger.Info("worker_interrupt")
		if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
			logger.Warn("worker_interrupt_failed", "error", err)
		}

		t := time.NewTimer(l.grace)
		defer t.Stop()
		select {
		case <-exited:
		case <-t.C:
			logger.Warn("worker_kill", "grace", l.grace)
			_ = cmd.Process.Kill()
		}
		return nil
	})

	go func() {
		p.err = g.Wait()
		if p.err != nil {
			logger.Warn("worker_exited", "error", p.err)
		} else {
			logger.Info("worker_exited")
		}
		close(p.done)
	}()
	return p, nil
}

// recordLost marks the run of a worker that died mid-run as failed.
func (l *Launcher) recordLost(serializedArgs []byte, info *api.SerializableErrorInfo, logger *slog.Logger) {
	if l.open == nil {
		logger.Warn("worker_lost_unrecorded")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args, err := executor.DecodeArgs(serializedArgs)
	if err != nil {
		logger.Error("worker_lost_record_failed", "error", err)
		return
	}
	inst, err := l.open(ctx, args.InstanceRef)
	if err != nil {
		logger.Error("worker_lost_record_failed", "run_id", args.PipelineRunID, "error", err)
		return
	}
	if c, ok := inst.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	run, err := inst.GetRunByID(ctx, args.PipelineRunID)
	if err == nil {
		_, err = inst.ReportEngineEvent(ctx, MessageWorkerLost, run, api.EngineErrorData(info))
	}
	if err == nil {
		err = inst.ReportRunFailed(ctx, run)
	}
	if err != nil {
		logger.Error("worker_lost_record_failed", "run_id", args.PipelineRunID, "error", err)
		return
	}
	logger.Warn("worker_lost", "run_id", run.RunID, "status", run.Status)
}

// Channel returns the messages received from the worker.
func (p *Process) Channel() *ipc.Channel { return p.ch }

// PID returns the worker's process id.
func (p *Process) PID() int { return p.pid }

// Terminate asks the worker to stop with SIGINT.
func (p *Process) Terminate() { p.term.Set() }

// Done is closed after the worker exited and its output was consumed.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the worker exited or ctx is done. It returns the
// process exit error or the stream error, if any.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
