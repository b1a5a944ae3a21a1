package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

//
// Helpers
//

// testObserver is a simple Observer implementation used to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	starts    int
	succeeded int
	fails     int
	canceled  int

	stepStarts    int
	stepCompletes int

	lastRunStart   *PipelineRun
	lastRunSuccess *PipelineRun
	lastRunFail    struct {
		Run *PipelineRun
		Err error
	}
	lastStepStart struct {
		Run     *PipelineRun
		StepKey string
		Attempt int
	}
	lastStepComplete struct {
		Run      *PipelineRun
		StepKey  string
		Attempt  int
		Err      error
		Duration time.Duration
	}
}

func (o *testObserver) OnRunStart(ctx context.Context, run *PipelineRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.starts++
	o.lastRunStart = run
}

func (o *testObserver) OnRunSucceeded(ctx context.Context, run *PipelineRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.succeeded++
	o.lastRunSuccess = run
}

func (o *testObserver) OnRunFailed(ctx context.Context, run *PipelineRun, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fails++
	o.lastRunFail.Run = run
	o.lastRunFail.Err = err
}

func (o *testObserver) OnRunCanceled(ctx context.Context, run *PipelineRun) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.canceled++
}

func (o *testObserver) OnStepStart(ctx context.Context, run *PipelineRun, stepKey string, attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stepStarts++
	o.lastStepStart.Run = run
	o.lastStepStart.StepKey = stepKey
	o.lastStepStart.Attempt = attempt
}

func (o *testObserver) OnStepCompleted(ctx context.Context, run *PipelineRun, stepKey string, attempt int, err error, d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stepCompletes++
	o.lastStepComplete.Run = run
	o.lastStepComplete.StepKey = stepKey
	o.lastStepComplete.Attempt = attempt
	o.lastStepComplete.Err = err
	o.lastStepComplete.Duration = d
}

// recordingHandler is a minimal slog.Handler that just records log records.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Copy to avoid reuse issues.
	cpy := slog.Record{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		cpy.AddAttrs(a)
		return true
	})
	h.records = append(h.records, cpy)
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Not needed for tests; just return itself.
	return h
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	// Not needed for tests.
	return h
}

func attrsToMap(r slog.Record) map[string]any {
	m := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.Any()
		return true
	})
	return m
}

func newTestRun() *PipelineRun {
	return &PipelineRun{
		RunID:        "run-123",
		PipelineName: "pipeline-test",
		Status:       RunStatusStarted,
	}
}

//
// NoopObserver
//

func TestNoopObserver_DoesNotPanic(t *testing.T) {
	ctx := context.Background()
	run := newTestRun()
	var o Observer = NoopObserver{}

	// These calls should simply not panic.
	o.OnRunStart(ctx, run)
	o.OnRunSucceeded(ctx, run)
	o.OnRunFailed(ctx, run, errors.New("boom"))
	o.OnRunCanceled(ctx, run)
	o.OnStepStart(ctx, run, "step-1", 1)
	o.OnStepCompleted(ctx, run, "step-1", 1, nil, time.Second)
}

//
// CompositeObserver
//

func TestNewCompositeObserver_EmptyReturnsNoop(t *testing.T) {
	o := NewCompositeObserver()
	if _, ok := o.(NoopObserver); !ok {
		t.Fatalf("expected NewCompositeObserver() to return NoopObserver, got %T", o)
	}
}

func TestNewCompositeObserver_SingleReturnsThatObserver(t *testing.T) {
	single := &testObserver{}
	o := NewCompositeObserver(single, nil) // include a nil to ensure it is filtered

	if got, ok := o.(*testObserver); !ok || got != single {
		t.Fatalf("expected the single non-nil observer to be returned, got %T (%p)", o, o)
	}
}

func TestNewCompositeObserver_MultipleReturnsComposite(t *testing.T) {
	o1 := &testObserver{}
	o2 := &testObserver{}
	o := NewCompositeObserver(o1, o2)

	if _, ok := o.(*CompositeObserver); !ok {
		t.Fatalf("expected *CompositeObserver, got %T", o)
	}
}

func TestCompositeObserver_ForwardsAllEvents(t *testing.T) {
	ctx := context.Background()
	run := newTestRun()

	o1 := &testObserver{}
	o2 := &testObserver{}
	co, ok := NewCompositeObserver(o1, o2).(*CompositeObserver)
	if !ok {
		t.Fatalf("expected *CompositeObserver")
	}

	err := errors.New("step failed")
	co.OnRunStart(ctx, run)
	co.OnRunSucceeded(ctx, run)
	co.OnRunFailed(ctx, run, err)
	co.OnRunCanceled(ctx, run)
	co.OnStepStart(ctx, run, "step-1", 2)
	co.OnStepCompleted(ctx, run, "step-1", 2, err, 2*time.Second)

	for i, o := range []*testObserver{o1, o2} {
		if o.starts != 1 || o.succeeded != 1 || o.fails != 1 || o.canceled != 1 || o.stepStarts != 1 || o.stepCompletes != 1 {
			t.Fatalf("observer %d did not receive all calls: %+v", i+1, o)
		}
		if o.lastRunStart != run || o.lastRunSuccess != run || o.lastRunFail.Run != run {
			t.Fatalf("observer %d run mismatch", i+1)
		}
		if o.lastRunFail.Err != err {
			t.Fatalf("observer %d fail error mismatch", i+1)
		}
		if o.lastStepStart.StepKey != "step-1" || o.lastStepStart.Attempt != 2 {
			t.Fatalf("observer %d stepStart mismatch: %+v", i+1, o.lastStepStart)
		}
		if o.lastStepComplete.StepKey != "step-1" || o.lastStepComplete.Attempt != 2 ||
			o.lastStepComplete.Err != err || o.lastStepComplete.Duration != 2*time.Second {
			t.Fatalf("observer %d stepComplete mismatch: %+v", i+1, o.lastStepComplete)
		}
	}
}

//
// LoggingObserver
//

func TestNewLoggingObserver_NilLoggerUsesDefault(t *testing.T) {
	o := NewLoggingObserver(nil)
	lo, ok := o.(*LoggingObserver)
	if !ok {
		t.Fatalf("expected *LoggingObserver, got %T", o)
	}
	if lo.Logger == nil {
		t.Fatalf("expected non-nil Logger when created with nil")
	}
}

func TestLoggingObserver_OnRunStart_EmitsInfoLog(t *testing.T) {
	ctx := context.Background()
	run := newTestRun()

	h := &recordingHandler{}
	logger := slog.New(h)
	o := NewLoggingObserver(logger)

	o.OnRunStart(ctx, run)

	if len(h.records) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(h.records))
	}

	rec := h.records[0]
	if rec.Level != slog.LevelInfo {
		t.Fatalf("expected LevelInfo, got %v", rec.Level)
	}
	if rec.Message != "run_start" {
		t.Fatalf("expected message run_start, got %q", rec.Message)
	}

	attrs := attrsToMap(rec)
	if attrs["pipeline"] != run.PipelineName {
		t.Fatalf("expected pipeline=%q, got %v", run.PipelineName, attrs["pipeline"])
	}
	if attrs["run_id"] != run.RunID {
		t.Fatalf("expected run_id=%q, got %v", run.RunID, attrs["run_id"])
	}
}

func TestLoggingObserver_OnStepCompleted_LevelDependsOnError(t *testing.T) {
	ctx := context.Background()
	run := newTestRun()

	h := &recordingHandler{}
	logger := slog.New(h)
	o := NewLoggingObserver(logger)

	// success
	o.OnStepCompleted(ctx, run, "step-ok", 1, nil, time.Second)
	// failure
	err := errors.New("boom")
	o.OnStepCompleted(ctx, run, "step-fail", 1, err, 2*time.Second)

	if len(h.records) != 2 {
		t.Fatalf("expected 2 log records, got %d", len(h.records))
	}

	successRec := h.records[0]
	failRec := h.records[1]

	if successRec.Level != slog.LevelDebug {
		t.Fatalf("expected success record LevelDebug, got %v", successRec.Level)
	}
	if failRec.Level != slog.LevelError {
		t.Fatalf("expected failure record LevelError, got %v", failRec.Level)
	}
	if successRec.Message != "step_completed" || failRec.Message != "step_completed" {
		t.Fatalf("expected step_completed messages, got %q and %q", successRec.Message, failRec.Message)
	}

	attrs := attrsToMap(failRec)
	if attrs["step"] != "step-fail" {
		t.Fatalf("expected step=step-fail, got %v", attrs["step"])
	}
	if attrs["error"] == nil {
		t.Fatalf("expected error attribute on failure record, got nil")
	}
}

//
// BasicMetrics
//

func TestBasicMetrics_RunCountersAndSnapshot(t *testing.T) {
	var m BasicMetrics

	ctx := context.Background()
	run := newTestRun()

	// 4 started, 1 succeeded, 1 failed, 1 canceled -> pending = 1
	for i := 0; i < 4; i++ {
		m.OnRunStart(ctx, run)
	}
	m.OnRunSucceeded(ctx, run)
	m.OnRunFailed(ctx, run, errors.New("fail"))
	m.OnRunCanceled(ctx, run)

	snap := m.Snapshot()

	if snap.RunsStarted != 4 {
		t.Fatalf("RunsStarted=%d, want 4", snap.RunsStarted)
	}
	if snap.RunsSucceeded != 1 || snap.RunsFailed != 1 || snap.RunsCanceled != 1 {
		t.Fatalf("unexpected terminal counters: %+v", snap)
	}
	if snap.PendingRuns != 1 {
		t.Fatalf("PendingRuns=%d, want 1", snap.PendingRuns)
	}
	// No step metrics yet.
	if snap.StepsCompleted != 0 {
		t.Fatalf("StepsCompleted=%d, want 0", snap.StepsCompleted)
	}
	if snap.AvgStepDuration != 0 {
		t.Fatalf("AvgStepDuration=%v, want 0", snap.AvgStepDuration)
	}
}

func TestBasicMetrics_OnStepCompleted_SuccessOnlyCountsDuration(t *testing.T) {
	var m BasicMetrics
	ctx := context.Background()
	run := newTestRun()

	// two successful steps: 1s and 3s
	m.OnStepCompleted(ctx, run, "step-1", 1, nil, 1*time.Second)
	m.OnStepCompleted(ctx, run, "step-2", 1, nil, 3*time.Second)

	// one failing attempt, counted separately
	m.OnStepCompleted(ctx, run, "step-3", 1, errors.New("fail"), 10*time.Second)

	snap := m.Snapshot()

	if snap.StepsCompleted != 2 {
		t.Fatalf("StepsCompleted=%d, want 2", snap.StepsCompleted)
	}
	if snap.StepsFailed != 1 {
		t.Fatalf("StepsFailed=%d, want 1", snap.StepsFailed)
	}

	wantAvg := 2 * time.Second // (1s + 3s) / 2
	if snap.AvgStepDuration != wantAvg {
		t.Fatalf("AvgStepDuration=%v, want %v", snap.AvgStepDuration, wantAvg)
	}
}

func TestBasicMetrics_SnapshotZeroStepsHasZeroAverage(t *testing.T) {
	var m BasicMetrics
	snap := m.Snapshot()
	if snap.StepsCompleted != 0 {
		t.Fatalf("StepsCompleted=%d, want 0", snap.StepsCompleted)
	}
	if snap.AvgStepDuration != 0 {
		t.Fatalf("AvgStepDuration=%v, want 0", snap.AvgStepDuration)
	}
}
