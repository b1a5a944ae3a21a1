package api

import (
	"context"
	"errors"
)

// ErrSinkClosed is returned by an EventSink whose consumer has detached.
var ErrSinkClosed = errors.New("event sink closed")

// Instance is the durable run-storage collaborator. It is the sole arbiter
// of run status transitions and the only component that constructs and
// persists engine events; implementations serialize concurrent updates.
type Instance interface {
	// GetRunByID loads a run. Unknown ids return ErrRunNotFound.
	GetRunByID(ctx context.Context, runID string) (*PipelineRun, error)

	// CreateRun stores a new run. Empty RunID and Status are filled in.
	CreateRun(ctx context.Context, run *PipelineRun) (*PipelineRun, error)

	// ListRuns returns runs matching filter, oldest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*PipelineRun, error)

	// ReportEngineEvent constructs, persists and returns an ENGINE_EVENT for
	// run. data may be nil.
	ReportEngineEvent(ctx context.Context, message string, run *PipelineRun, data *EngineEventData) (*EngineEvent, error)

	// ReportEvent constructs, persists and returns an event of any type.
	ReportEvent(ctx context.Context, run *PipelineRun, typ EventType, stepKey, message string, data *EngineEventData) (*EngineEvent, error)

	// ReportRunFailed marks run FAILURE and records a PIPELINE_FAILURE event.
	ReportRunFailed(ctx context.Context, run *PipelineRun) error

	// ReportRunCanceled marks run CANCELED and records a PIPELINE_CANCELED
	// event.
	ReportRunCanceled(ctx context.Context, run *PipelineRun) error

	// UpdateRunStatus moves a run to status and reports whether it did.
	// Finished runs are not changed.
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus) (bool, error)

	// ListEvents returns the events of a run in the order they were reported.
	ListEvents(ctx context.Context, runID string) ([]*EngineEvent, error)
}

// EventSink receives engine events as they are produced. Returning an error
// (typically ErrSinkClosed) stops the producer.
type EventSink func(ev *EngineEvent) error

// Engine executes a pipeline run and produces its events.
type Engine interface {
	// ExecuteRunIterator runs the pipeline referenced by recon for run,
	// passing each event to emit in order. A run whose solids fail is not
	// an error: the engine reports the failure through events and the
	// instance. Returned errors are framework faults, interrupts
	// (IsInterrupt) or a *SubprocessError aggregate from parallel workers.
	ExecuteRunIterator(ctx context.Context, recon ReconstructablePipeline, run *PipelineRun, inst Instance, emit EventSink) error
}
