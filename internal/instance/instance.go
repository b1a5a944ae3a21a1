// Package instance implements api.Instance over a persistence bundle. The
// instance owns run status transitions and is the only place engine events
// are constructed and stored.
package instance

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/pipehost/internal/persistence"
	"github.com/petrijr/pipehost/pkg/api"
)

// Instance is a durable run store with event reporting.
type Instance struct {
	p      *persistence.Persistence
	ref    api.InstanceRef
	logger *slog.Logger
	now    func() time.Time

	// mu serializes read-modify-write status transitions.
	mu sync.Mutex
}

var _ api.Instance = (*Instance)(nil)

// Option configures an Instance.
type Option func(*Instance)

// WithLogger sets the logger used for status transitions.
func WithLogger(l *slog.Logger) Option {
	return func(i *Instance) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithClock overrides time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Instance) {
		if now != nil {
			i.now = now
		}
	}
}

// WithRef records the reference a worker can use to reopen this instance.
func WithRef(ref api.InstanceRef) Option {
	return func(i *Instance) { i.ref = ref }
}

// New returns an Instance storing runs and events in p.
func New(p *persistence.Persistence, opts ...Option) *Instance {
	inst := &Instance{
		p:      p,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(inst)
	}
	return inst
}

// Ref returns the reference this instance was opened from. It is the zero
// value for instances built directly with New and no WithRef option.
func (i *Instance) Ref() api.InstanceRef { return i.ref }

// Close releases the backend connection owned by the instance.
func (i *Instance) Close() error { return i.p.Shutdown() }

func (i *Instance) GetRunByID(ctx context.Context, runID string) (*api.PipelineRun, error) {
	run, err := i.p.Runs.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return run, nil
}

func (i *Instance) CreateRun(ctx context.Context, run *api.PipelineRun) (*api.PipelineRun, error) {
	if run == nil || run.PipelineName == "" {
		return nil, fmt.Errorf("create run: pipeline name is required")
	}
	cp := run.Clone()
	if cp.RunID == "" {
		cp.RunID = uuid.NewString()
	}
	if cp.Status == "" {
		cp.Status = api.RunStatusNotStarted
	}
	now := i.now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now

	if err := i.p.Runs.SaveRun(ctx, cp); err != nil {
		return nil, fmt.Errorf("create run %s: %w", cp.RunID, err)
	}
	i.logger.Debug("run_created", "run_id", cp.RunID, "pipeline", cp.PipelineName)
	return cp, nil
}

func (i *Instance) ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.PipelineRun, error) {
	return i.p.Runs.ListRuns(ctx, filter)
}

func (i *Instance) ReportEngineEvent(ctx context.Context, message string, run *api.PipelineRun, data *api.EngineEventData) (*api.EngineEvent, error) {
	return i.ReportEvent(ctx, run, api.EventEngine, "", message, data)
}

func (i *Instance) ReportEvent(ctx context.Context, run *api.PipelineRun, typ api.EventType, stepKey, message string, data *api.EngineEventData) (*api.EngineEvent, error) {
	if run == nil {
		return nil, fmt.Errorf("report %s: nil run", typ)
	}
	ev := &api.EngineEvent{
		EventID:      uuid.NewString(),
		RunID:        run.RunID,
		PipelineName: run.PipelineName,
		Type:         typ,
		Message:      message,
		At:           i.now().UTC(),
		StepKey:      stepKey,
		Data:         data,
	}
	if err := i.p.Events.AppendEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("append %s event for run %s: %w", typ, run.RunID, err)
	}
	return ev, nil
}

func (i *Instance) ReportRunFailed(ctx context.Context, run *api.PipelineRun) error {
	return i.finish(ctx, run, api.RunStatusFailure, api.EventPipelineFailure,
		fmt.Sprintf("Execution of pipeline %q failed.", run.PipelineName))
}

func (i *Instance) ReportRunCanceled(ctx context.Context, run *api.PipelineRun) error {
	return i.finish(ctx, run, api.RunStatusCanceled, api.EventPipelineCanceled,
		fmt.Sprintf("Execution of pipeline %q canceled.", run.PipelineName))
}

// finish moves run to a terminal status and records typ. A run that had
// already finished keeps its status, which is copied into run, and gets no
// event.
func (i *Instance) finish(ctx context.Context, run *api.PipelineRun, status api.RunStatus, typ api.EventType, message string) error {
	current, changed, err := i.transition(ctx, run.RunID, status)
	if err != nil {
		return err
	}
	run.Status = current
	if !changed {
		return nil
	}
	_, err = i.ReportEvent(ctx, run, typ, "", message, nil)
	return err
}

func (i *Instance) UpdateRunStatus(ctx context.Context, runID string, status api.RunStatus) (bool, error) {
	_, changed, err := i.transition(ctx, runID, status)
	return changed, err
}

// transition returns the stored status after the update and whether the
// update happened.
func (i *Instance) transition(ctx context.Context, runID string, status api.RunStatus) (api.RunStatus, bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	run, err := i.p.Runs.GetRun(ctx, runID)
	if err != nil {
		return "", false, fmt.Errorf("update run %s: %w", runID, err)
	}
	if run.Status.Finished() {
		i.logger.Debug("run_status_unchanged", "run_id", runID, "status", run.Status, "requested", status)
		return run.Status, false, nil
	}
	from := run.Status
	run.Status = status
	run.UpdatedAt = i.now().UTC()
	if err := i.p.Runs.UpdateRun(ctx, run); err != nil {
		return from, false, fmt.Errorf("update run %s: %w", runID, err)
	}
	i.logger.Info("run_status", "run_id", runID, "from", from, "to", status)
	return status, true, nil
}

func (i *Instance) ListEvents(ctx context.Context, runID string) ([]*api.EngineEvent, error) {
	return i.p.Events.ListEvents(ctx, runID)
}
