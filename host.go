package pipehost

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/petrijr/pipehost/internal/engine"
	"github.com/petrijr/pipehost/internal/evaluate"
	"github.com/petrijr/pipehost/internal/executor"
	"github.com/petrijr/pipehost/internal/instance"
	"github.com/petrijr/pipehost/internal/ipc"
	"github.com/petrijr/pipehost/internal/repository"
	"github.com/petrijr/pipehost/internal/subprocess"
	"github.com/petrijr/pipehost/pkg/api"
)

// SetupError is yielded by RunHandle.Events when the worker could not set
// up the run.
type SetupError struct {
	Message string
	Info    *SerializableErrorInfo
}

func (e *SetupError) Error() string {
	if e.Info == nil {
		return e.Message
	}
	return e.Message + ": " + e.Info.Message
}

// Host owns an instance and a set of repositories and runs pipelines from
// them on worker goroutines.
type Host struct {
	inst     *instance.Instance
	registry *repository.Registry
	engine   api.Engine
	logger   *slog.Logger
	poll     time.Duration
}

// HostOption configures a Host.
type HostOption func(*hostConfig)

type hostConfig struct {
	repos          []*RepositoryDefinition
	logger         *slog.Logger
	observer       Observer
	mode           ExecutionMode
	maxConcurrency int
	poll           time.Duration
}

// WithRepositories registers repositories with the host.
func WithRepositories(repos ...*RepositoryDefinition) HostOption {
	return func(c *hostConfig) { c.repos = append(c.repos, repos...) }
}

// WithLogger sets the host logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) HostOption {
	return func(c *hostConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithObserver receives run and step lifecycle callbacks.
func WithObserver(obs Observer) HostOption {
	return func(c *hostConfig) { c.observer = obs }
}

// WithExecutionMode selects sequential or parallel solid execution.
func WithExecutionMode(mode ExecutionMode, maxConcurrency int) HostOption {
	return func(c *hostConfig) {
		c.mode = mode
		c.maxConcurrency = maxConcurrency
	}
}

// WithPollInterval sets how often workers check their termination flag.
func WithPollInterval(d time.Duration) HostOption {
	return func(c *hostConfig) { c.poll = d }
}

func newHostConfig(opts []HostOption) hostConfig {
	cfg := hostConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// hostLogger returns the logger opts would configure.
func hostLogger(opts []HostOption) *slog.Logger {
	return newHostConfig(opts).logger
}

// build returns the registry and engine described by c.
func (c hostConfig) build() (*repository.Registry, api.Engine) {
	reg := repository.NewRegistry(c.repos...)
	return reg, engine.NewEngineWithConfig(engine.Config{
		Resolver:       reg,
		Observer:       c.observer,
		Mode:           c.mode,
		MaxConcurrency: c.maxConcurrency,
	})
}

// NewHost returns a Host storing runs in inst. Repository definitions must
// be valid; NewHost panics otherwise, as they are static program data.
func NewHost(inst *instance.Instance, opts ...HostOption) *Host {
	cfg := newHostConfig(opts)
	reg, eng := cfg.build()
	return &Host{
		inst:     inst,
		registry: reg,
		engine:   eng,
		logger:   cfg.logger,
		poll:     cfg.poll,
	}
}

// NewInMemoryHost returns a Host over a registered in-memory instance named
// name. Workers resolve the instance by that name.
func NewInMemoryHost(name string, opts ...HostOption) *Host {
	return NewHost(instance.NewMemory(name), opts...)
}

// OpenHost opens the instance ref points at and returns a Host over it.
func OpenHost(ctx context.Context, ref InstanceRef, opts ...HostOption) (*Host, error) {
	inst, err := instance.FromRef(ctx, ref)
	if err != nil {
		return nil, err
	}
	return NewHost(inst, opts...), nil
}

// Instance returns the host's instance.
func (h *Host) Instance() Instance { return h.inst }

// Ref returns the reference workers use to reopen the host's instance.
func (h *Host) Ref() InstanceRef { return h.inst.Ref() }

// Register adds a repository after construction.
func (h *Host) Register(repo *RepositoryDefinition) error {
	return h.registry.Register(repo)
}

// Close releases the host's instance.
func (h *Host) Close() error {
	if h.inst.Ref().Backend == api.BackendMemory {
		instance.Unregister(h.inst.Ref().DSN)
	}
	return h.inst.Close()
}

// borrowed hides Close so the worker does not close the host's instance.
type borrowed struct{ api.Instance }

// Deps returns the worker collaborators of this host. Runs against the
// host's own instance reuse it; other refs are opened per run.
func (h *Host) Deps() executor.Deps {
	own := h.inst.Ref()
	return executor.Deps{
		OpenInstance: func(ctx context.Context, ref api.InstanceRef) (api.Instance, error) {
			if ref == own {
				return borrowed{h.inst}, nil
			}
			return instance.FromRef(ctx, ref, instance.WithLogger(h.logger))
		},
		Engine:       h.engine,
		Logger:       h.logger,
		PollInterval: h.poll,
	}
}

// CreateRun stores a new run of recon's pipeline and returns the arguments
// that execute it.
func (h *Host) CreateRun(ctx context.Context, recon ReconstructablePipeline, runConfig map[string]any, tags map[string]string) (*PipelineRun, ExecuteRunArgs, error) {
	if _, err := h.registry.Pipeline(recon); err != nil {
		return nil, ExecuteRunArgs{}, err
	}
	run, err := h.inst.CreateRun(ctx, &api.PipelineRun{
		PipelineName:   recon.PipelineName,
		SolidSelection: recon.SolidSelection,
		RunConfig:      runConfig,
		Tags:           tags,
	})
	if err != nil {
		return nil, ExecuteRunArgs{}, err
	}
	return run, ExecuteRunArgs{
		Pipeline:      recon,
		PipelineRunID: run.RunID,
		InstanceRef:   h.inst.Ref(),
	}, nil
}

// StartRun executes the run described by args on a worker goroutine and
// returns a handle streaming its events.
func (h *Host) StartRun(ctx context.Context, args ExecuteRunArgs) (*RunHandle, error) {
	return h.start(ctx, args, true)
}

// LaunchRun executes the run described by args without streaming engine
// events. Events are still recorded on the instance; the handle only
// reports setup failures and completion.
func (h *Host) LaunchRun(ctx context.Context, args ExecuteRunArgs) (*RunHandle, error) {
	return h.start(ctx, args, false)
}

func (h *Host) start(ctx context.Context, args ExecuteRunArgs, forward bool) (*RunHandle, error) {
	data, err := executor.EncodeArgs(args)
	if err != nil {
		return nil, fmt.Errorf("encode run args: %w", err)
	}
	h.logger.Debug("run_launch", "run_id", args.PipelineRunID, "forward", forward)
	return &RunHandle{
		RunID:  args.PipelineRunID,
		worker: executor.Go(ctx, data, forward, h.Deps()),
	}, nil
}

// EvaluateSchedule evaluates one tick of a schedule.
func (h *Host) EvaluateSchedule(ctx context.Context, args ScheduleExecutionArgs) (api.EvaluationResult[ScheduleExecutionData], error) {
	return evaluate.ScheduleExecution(ctx, h.registry, evaluate.InstanceOpener(h.Deps().OpenInstance), args)
}

// PartitionConfig computes the run config of one partition.
func (h *Host) PartitionConfig(args PartitionArgs) (api.EvaluationResult[PartitionConfigData], error) {
	return evaluate.PartitionConfig(h.registry, args)
}

// PartitionNames lists the partitions of a partition set.
func (h *Host) PartitionNames(args PartitionNamesArgs) (api.EvaluationResult[PartitionNamesData], error) {
	return evaluate.PartitionNames(h.registry, args)
}

// PartitionTags computes the tags of one partition.
func (h *Host) PartitionTags(args PartitionArgs) (api.EvaluationResult[PartitionTagsData], error) {
	return evaluate.PartitionTags(h.registry, args)
}

// PipelineSubset resolves recon's solid selection to a pipeline snapshot.
func (h *Host) PipelineSubset(recon ReconstructablePipeline) (api.EvaluationResult[PipelineSnapshot], error) {
	return evaluate.PipelineSubset(h.registry, recon)
}

// runWorker is the execution side of a RunHandle: a worker goroutine or a
// worker process.
type runWorker interface {
	Channel() *ipc.Channel
	Terminate()
	Wait(ctx context.Context) error
}

var (
	_ runWorker = (*executor.Worker)(nil)
	_ runWorker = (*subprocess.Process)(nil)
)

// RunHandle is a run executing on a worker goroutine or in a worker process.
type RunHandle struct {
	RunID  string
	worker runWorker
}

// Events yields the run's engine events in order until the worker
// completed. A setup failure is yielded as a *SetupError. Stopping the
// iteration early detaches the consumer; the run keeps executing and
// recording events on the instance.
func (r *RunHandle) Events(ctx context.Context) iter.Seq2[*EngineEvent, error] {
	return func(yield func(*EngineEvent, error) bool) {
		ch := r.worker.Channel()
		for {
			m, err := ch.Get(ctx)
			if err != nil {
				ch.Close()
				yield(nil, err)
				return
			}
			switch m.Kind {
			case ipc.KindEvent:
				if !yield(m.Event, nil) {
					ch.Close()
					return
				}
			case ipc.KindError:
				if !yield(nil, &SetupError{Message: m.Error.Message, Info: m.Error.Error}) {
					ch.Close()
					return
				}
			case ipc.KindWorkerComplete:
				return
			}
		}
	}
}

// Collect drains the run's events into a slice.
func (r *RunHandle) Collect(ctx context.Context) ([]*EngineEvent, error) {
	var (
		out  []*EngineEvent
		errs []error
	)
	for ev, err := range r.Events(ctx) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, ev)
	}
	return out, errors.Join(errs...)
}

// Terminate requests cancellation of the run.
func (r *RunHandle) Terminate() { r.worker.Terminate() }

// TerminateAfter terminates the run once d has elapsed. Calling the
// returned stop function first cancels the timeout; it reports whether it
// did.
func (r *RunHandle) TerminateAfter(d time.Duration) (stop func() bool) {
	return time.AfterFunc(d, r.worker.Terminate).Stop
}

// Wait blocks until the worker returned. For a worker goroutine it reports
// ErrInterrupted for a canceled run and nil otherwise. For a worker process
// it reports the process exit error.
func (r *RunHandle) Wait(ctx context.Context) error { return r.worker.Wait(ctx) }
