// Package executor runs one pipeline run inside a worker and reports its
// lifecycle to the controller over an IPC channel.
//
// Every run produces the same frame: WorkerStarted, a process-start event,
// the engine's events, a process-exit event and WorkerComplete. Setup
// failures shrink the frame to a single diagnostic followed by
// WorkerComplete. WorkerComplete is sent exactly once on every path.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/petrijr/pipehost/internal/ipc"
	"github.com/petrijr/pipehost/internal/termination"
	"github.com/petrijr/pipehost/internal/usercode"
	"github.com/petrijr/pipehost/pkg/api"
)

const (
	MessageSetupError     = "Error during RPC setup for ExecuteRun"
	MessageFrameworkError = "An exception was thrown during execution that is likely a framework error, rather than an error in user code."
	MessageInterrupted    = "Pipeline execution terminated by interrupt"
)

// InstanceOpener reopens the instance a run belongs to. If the returned
// instance implements io.Closer it is closed when the run ends.
type InstanceOpener func(ctx context.Context, ref api.InstanceRef) (api.Instance, error)

// Deps are the collaborators of a worker.
type Deps struct {
	OpenInstance InstanceOpener
	Engine       api.Engine
	Logger       *slog.Logger

	// PID is reported in the process lifecycle events. Zero means
	// os.Getpid().
	PID int

	// PollInterval is the termination watcher period. Zero means
	// termination.DefaultPollInterval.
	PollInterval time.Duration
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

func (d Deps) pid() int {
	if d.PID != 0 {
		return d.PID
	}
	return os.Getpid()
}

// faultKind is the classification of an engine outcome.
type faultKind int

const (
	faultNone faultKind = iota
	faultInterrupt
	faultAggregateInterrupt
	faultFramework
	faultSinkDetached
)

func (k faultKind) String() string {
	switch k {
	case faultNone:
		return "none"
	case faultInterrupt:
		return "interrupt"
	case faultAggregateInterrupt:
		return "aggregate_interrupt"
	case faultFramework:
		return "framework"
	case faultSinkDetached:
		return "sink_detached"
	default:
		return fmt.Sprintf("faultKind(%d)", int(k))
	}
}

// classify maps an engine outcome to a fault kind. An error is only an
// interrupt when runCtx, the context the run executed under, was canceled;
// cancellation errors surfacing from anywhere else are framework faults.
func classify(runCtx context.Context, err error) faultKind {
	var agg *api.SubprocessError
	switch {
	case err == nil:
		return faultNone
	case errors.Is(err, api.ErrSinkClosed):
		return faultSinkDetached
	case errors.As(err, &agg):
		if agg.AllInterrupted() {
			return faultAggregateInterrupt
		}
		return faultFramework
	case runCtx.Err() != nil && (api.IsInterrupt(err) || errors.Is(err, runCtx.Err())):
		return faultInterrupt
	default:
		return faultFramework
	}
}

// RunInWorker executes the run described by serializedArgs. Sentinels and
// setup diagnostics go to status, engine events to events.
//
// The only error returned is an interrupt (api.ErrInterrupted) after the
// run was canceled through term or ctx; every other fault is reported on
// the channel and recorded on the instance.
func RunInWorker(ctx context.Context, serializedArgs []byte, term *termination.Event, status, events ipc.Handler, deps Deps) error {
	// Lifecycle events must be recorded even after the run was interrupted.
	reportCtx := context.WithoutCancel(ctx)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if term == nil {
		term = termination.NewEvent()
	}
	stopWatch := termination.Watch(term, deps.PollInterval, func() {
		cancel(&api.InterruptedError{Reason: "termination requested"})
	})
	defer stopWatch()

	log := deps.logger()

	args, inst, run, err := setup(ctx, serializedArgs, deps)
	if err != nil {
		log.Error("run_setup_failed", "error", err)
		_ = status(ipc.ErrorMsg(MessageSetupError, api.ErrorInfoFromError(err)))
		_ = status(ipc.WorkerComplete())
		return nil
	}
	if c, ok := inst.(io.Closer); ok {
		defer func() { _ = c.Close() }()
	}
	defer func() { _ = status(ipc.WorkerComplete()) }()

	log = log.With("run_id", run.RunID, "pipeline", run.PipelineName)
	if err := status(ipc.WorkerStarted()); err != nil {
		log.Warn("worker_started_not_delivered", "error", err)
	}

	w := &worker{inst: inst, run: run, events: events, log: log, ctx: reportCtx}
	pid := deps.pid()

	var outcome error
	if err := w.emitEngineEvent(fmt.Sprintf("Started process for pipeline (pid: %d).", pid),
		api.InProcessData(pid, api.MarkerProcessInit)); err != nil {
		outcome = err
	} else {
		outcome = execute(ctx, deps.Engine, args.Pipeline, run, inst, w.relay)
	}

	kind := classify(ctx, outcome)
	log.Debug("run_outcome", "fault", kind.String(), "error", outcome)

	var result error
	switch kind {
	case faultNone:
	case faultInterrupt, faultAggregateInterrupt:
		_ = w.emitEngineEvent(MessageInterrupted, nil)
		if err := inst.ReportRunCanceled(reportCtx, run); err != nil {
			log.Error("report_run_canceled_failed", "error", err)
		}
		result = fmt.Errorf("run %s: %w", run.RunID, api.ErrInterrupted)
	case faultFramework:
		_ = w.emitEngineEvent(MessageFrameworkError, api.EngineErrorData(api.ErrorInfoFromError(outcome)))
		if err := inst.ReportRunFailed(reportCtx, run); err != nil {
			log.Error("report_run_failed_failed", "error", err)
		}
	case faultSinkDetached:
		log.Info("run_consumer_detached")
	default:
		panic(fmt.Sprintf("executor: unhandled fault kind %s", kind))
	}

	if kind != faultSinkDetached {
		_ = w.emitEngineEvent(fmt.Sprintf("Process for pipeline exited (pid: %d).", pid), nil)
	}
	return result
}

// setup decodes the run args and loads the run they point at.
func setup(ctx context.Context, serializedArgs []byte, deps Deps) (api.ExecuteRunArgs, api.Instance, *api.PipelineRun, error) {
	args, err := DecodeArgs(serializedArgs)
	if err != nil {
		return args, nil, nil, err
	}
	if deps.OpenInstance == nil || deps.Engine == nil {
		return args, nil, nil, errors.New("executor: instance opener and engine are required")
	}
	inst, err := deps.OpenInstance(ctx, args.InstanceRef)
	if err != nil {
		return args, nil, nil, err
	}
	run, err := inst.GetRunByID(ctx, args.PipelineRunID)
	if err != nil {
		if c, ok := inst.(io.Closer); ok {
			_ = c.Close()
		}
		return args, nil, nil, err
	}
	return args, inst, run, nil
}

// execute drives the engine. A panic inside the engine is a framework fault.
func execute(ctx context.Context, engine api.Engine, recon api.ReconstructablePipeline, run *api.PipelineRun, inst api.Instance, emit api.EventSink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.WithStack(&usercode.PanicError{Value: r})
		}
	}()
	return engine.ExecuteRunIterator(ctx, recon, run, inst, emit)
}

// worker relays the events of one run.
type worker struct {
	ctx    context.Context
	inst   api.Instance
	run    *api.PipelineRun
	events ipc.Handler
	log    *slog.Logger
}

func (w *worker) relay(ev *api.EngineEvent) error {
	return w.events(ipc.EventMessage(ev))
}

// emitEngineEvent records an ENGINE_EVENT and relays it. When the instance
// cannot record it, an unpersisted copy is still relayed so the controller
// sees the diagnostic.
func (w *worker) emitEngineEvent(message string, data *api.EngineEventData) error {
	ev, err := w.inst.ReportEngineEvent(w.ctx, message, w.run, data)
	if err != nil {
		w.log.Error("report_engine_event_failed", "message", message, "error", err)
		ev = &api.EngineEvent{
			RunID:        w.run.RunID,
			PipelineName: w.run.PipelineName,
			Type:         api.EventEngine,
			Message:      message,
			At:           time.Now().UTC(),
			Data:         data,
		}
	}
	return w.relay(ev)
}
