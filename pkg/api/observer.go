package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the pipeline engine for logging and
// metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay run execution. With the parallel
// executor, step callbacks arrive from several goroutines.
type Observer interface {
	// OnRunStart is called once before the first solid of a run executes.
	OnRunStart(ctx context.Context, run *PipelineRun)

	// OnRunSucceeded is called when every solid of a run succeeded.
	OnRunSucceeded(ctx context.Context, run *PipelineRun)

	// OnRunFailed is called when a run ends because a solid failed or the
	// engine raised a fault.
	OnRunFailed(ctx context.Context, run *PipelineRun, err error)

	// OnRunCanceled is called when a run was interrupted.
	OnRunCanceled(ctx context.Context, run *PipelineRun)

	// OnStepStart is called before each attempt of a solid. attempt is
	// 1-based.
	OnStepStart(ctx context.Context, run *PipelineRun, stepKey string, attempt int)

	// OnStepCompleted is called after each attempt of a solid, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, run *PipelineRun, stepKey string, attempt int, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(ctx context.Context, run *PipelineRun) {}
func (NoopObserver) OnRunSucceeded(ctx context.Context, run *PipelineRun) {}
func (NoopObserver) OnRunFailed(ctx context.Context, run *PipelineRun, err error) {}
func (NoopObserver) OnRunCanceled(ctx context.Context, run *PipelineRun) {}
func (NoopObserver) OnStepStart(ctx context.Context, run *PipelineRun, k string, a int) {}
func (NoopObserver) OnStepCompleted(ctx context.Context, run *PipelineRun, k string, a int, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnRunStart(ctx context.Context, run *PipelineRun) {
	for _, o := range c.observers {
		o.OnRunStart(ctx, run)
	}
}

func (c *CompositeObserver) OnRunSucceeded(ctx context.Context, run *PipelineRun) {
	for _, o := range c.observers {
		o.OnRunSucceeded(ctx, run)
	}
}

func (c *CompositeObserver) OnRunFailed(ctx context.Context, run *PipelineRun, err error) {
	for _, o := range c.observers {
		o.OnRunFailed(ctx, run, err)
	}
}

func (c *CompositeObserver) OnRunCanceled(ctx context.Context, run *PipelineRun) {
	for _, o := range c.observers {
		o.OnRunCanceled(ctx, run)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, run *PipelineRun, stepKey string, attempt int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, run, stepKey, attempt)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, run *PipelineRun, stepKey string, attempt int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, run, stepKey, attempt, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs run / step lifecycle
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnRunStart(ctx context.Context, run *PipelineRun) {
	o.Logger.InfoContext(ctx, "run_start",
		slog.String("pipeline", run.PipelineName),
		slog.String("run_id", run.RunID),
	)
}

func (o *LoggingObserver) OnRunSucceeded(ctx context.Context, run *PipelineRun) {
	o.Logger.InfoContext(ctx, "run_succeeded",
		slog.String("pipeline", run.PipelineName),
		slog.String("run_id", run.RunID),
	)
}

func (o *LoggingObserver) OnRunFailed(ctx context.Context, run *PipelineRun, err error) {
	o.Logger.ErrorContext(ctx, "run_failed",
		slog.String("pipeline", run.PipelineName),
		slog.String("run_id", run.RunID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnRunCanceled(ctx context.Context, run *PipelineRun) {
	o.Logger.WarnContext(ctx, "run_canceled",
		slog.String("pipeline", run.PipelineName),
		slog.String("run_id", run.RunID),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, run *PipelineRun, stepKey string, attempt int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("pipeline", run.PipelineName),
		slog.String("run_id", run.RunID),
		slog.String("step", stepKey),
		slog.Int("attempt", attempt),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, run *PipelineRun, stepKey string, attempt int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("pipeline", run.PipelineName),
		slog.String("run_id", run.RunID),
		slog.String("step", stepKey),
		slog.Int("attempt", attempt),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	runsStarted       atomic.Int64
	runsSucceeded     atomic.Int64
	runsFailed        atomic.Int64
	runsCanceled      atomic.Int64
	stepsCompleted    atomic.Int64
	stepsFailed       atomic.Int64
	totalStepDuration atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	RunsStarted   int64
	RunsSucceeded int64
	RunsFailed    int64
	RunsCanceled  int64
	PendingRuns   int64

	StepsCompleted  int64
	StepsFailed     int64
	AvgStepDuration time.Duration
}

func (m *BasicMetrics) OnRunStart(ctx context.Context, run *PipelineRun) {
	m.runsStarted.Add(1)
}

func (m *BasicMetrics) OnRunSucceeded(ctx context.Context, run *PipelineRun) {
	m.runsSucceeded.Add(1)
}

func (m *BasicMetrics) OnRunFailed(ctx context.Context, run *PipelineRun, err error) {
	m.runsFailed.Add(1)
}

func (m *BasicMetrics) OnRunCanceled(ctx context.Context, run *PipelineRun) {
	m.runsCanceled.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, run *PipelineRun, stepKey string, attempt int, err error, d time.Duration) {
	if err != nil {
		m.stepsFailed.Add(1)
		return
	}
	// Only successful attempts count toward the average duration.
	m.stepsCompleted.Add(1)
	m.totalStepDuration.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.runsStarted.Load()
	succeeded := m.runsSucceeded.Load()
	failed := m.runsFailed.Load()
	canceled := m.runsCanceled.Load()
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		RunsStarted:     started,
		RunsSucceeded:   succeeded,
		RunsFailed:      failed,
		RunsCanceled:    canceled,
		PendingRuns:     started - succeeded - failed - canceled,
		StepsCompleted:  steps,
		StepsFailed:     m.stepsFailed.Load(),
		AvgStepDuration: avg,
	}
}
