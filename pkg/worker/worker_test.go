package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/pipehost/internal/engine"
	"github.com/petrijr/pipehost/internal/executor"
	"github.com/petrijr/pipehost/internal/instance"
	"github.com/petrijr/pipehost/internal/persistence"
	"github.com/petrijr/pipehost/internal/repository"
	"github.com/petrijr/pipehost/internal/taskqueue"
	"github.com/petrijr/pipehost/pkg/api"
)

type fixture struct {
	inst *instance.Instance
	deps executor.Deps
}

func newFixture(t *testing.T, pipelines ...*api.PipelineDefinition) *fixture {
	t.Helper()
	inst := instance.New(persistence.NewInMemory())
	reg := repository.NewRegistry(&api.RepositoryDefinition{Name: "repo", Pipelines: pipelines})
	return &fixture{
		inst: inst,
		deps: executor.Deps{
			OpenInstance: func(ctx context.Context, ref api.InstanceRef) (api.Instance, error) {
				return inst, nil
			},
			Engine:       engine.NewEngine(reg),
			PollInterval: 5 * time.Millisecond,
		},
	}
}

func (f *fixture) newRun(t *testing.T, pipeline string) api.ExecuteRunArgs {
	t.Helper()
	run, err := f.inst.CreateRun(context.Background(), &api.PipelineRun{PipelineName: pipeline})
	require.NoError(t, err)
	return api.ExecuteRunArgs{
		Pipeline: api.ReconstructablePipeline{
			Repository:   api.RepositoryOrigin{RepositoryName: "repo"},
			PipelineName: pipeline,
		},
		PipelineRunID: run.RunID,
		InstanceRef:   api.InstanceRef{Backend: api.BackendMemory, DSN: "unused"},
	}
}

func single(name string, fn api.SolidFunc) *api.PipelineDefinition {
	return &api.PipelineDefinition{Name: name, Solids: []api.SolidDefinition{{Name: "only", Fn: fn}}}
}

func ok(ctx context.Context, in api.SolidInput) (any, error) { return "ok", nil }

func TestWorker_ProcessOneLaunchesRun(t *testing.T) {
	f := newFixture(t, single("p", ok))
	var mu sync.Mutex
	var seen []api.EventType
	w := New(taskqueue.NewInMemoryQueue(8), InProcessLauncher(f.deps, func(ev *api.EngineEvent) {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
	}))

	ctx := context.Background()
	args := f.newRun(t, "p")
	if _, err := w.EnqueueRun(ctx, args); err != nil {
		t.Fatalf("EnqueueRun failed: %v", err)
	}

	processed, err := w.ProcessOne(ctx)
	if err != nil {
		t.Fatalf("ProcessOne returned error: %v", err)
	}
	if !processed {
		t.Fatalf("expected task to be processed")
	}

	run, err := f.inst.GetRunByID(ctx, args.PipelineRunID)
	require.NoError(t, err)
	assert.Equal(t, api.RunStatusSuccess, run.Status)
	assert.Contains(t, seen, api.EventPipelineSuccess)
}

func TestWorker_SetupFailureIsReported(t *testing.T) {
	f := newFixture(t, single("p", ok))
	w := New(taskqueue.NewInMemoryQueue(8), InProcessLauncher(f.deps, nil))

	args := f.newRun(t, "p")
	args.PipelineRunID = "missing"
	_, err := w.EnqueueRun(context.Background(), args)
	require.NoError(t, err)

	processed, err := w.ProcessOne(context.Background())
	assert.True(t, processed)
	assert.ErrorIs(t, err, ErrRunSetup)
}

func TestWorker_RetriesFailedLaunchWithBackoff(t *testing.T) {
	var calls int32
	launcher := LauncherFunc(func(ctx context.Context, serializedArgs []byte) error {
		if atomic.AddInt32(&calls, 1) < 2 {
			return errors.New("spawn failed")
		}
		return nil
	})

	backoff := 30 * time.Millisecond
	q := taskqueue.NewInMemoryQueue(8)
	w := NewWithConfig(q, launcher, Config{MaxAttempts: 3, Backoff: backoff})
	ctx := context.Background()

	f := newFixture(t)
	_, err := w.EnqueueRun(ctx, f.newRun(t, "p"))
	require.NoError(t, err)

	start := time.Now()
	processed, err := w.ProcessOne(ctx)
	if err != nil || !processed {
		t.Fatalf("first ProcessOne: processed=%v err=%v", processed, err)
	}
	if q.Len() != 1 {
		t.Fatalf("expected a scheduled retry, queue len=%d", q.Len())
	}

	processed, err = w.ProcessOne(ctx)
	if err != nil || !processed {
		t.Fatalf("second ProcessOne: processed=%v err=%v", processed, err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 launch attempts, got %d", got)
	}
	if elapsed := time.Since(start); elapsed < backoff/2 {
		t.Fatalf("expected elapsed >= %v/2, got %v", backoff, elapsed)
	}
}

func TestWorker_GivesUpAfterMaxAttempts(t *testing.T) {
	boom := errors.New("spawn failed")
	q := taskqueue.NewInMemoryQueue(8)
	w := NewWithConfig(q, LauncherFunc(func(ctx context.Context, _ []byte) error { return boom }),
		Config{MaxAttempts: 2})
	ctx := context.Background()

	f := newFixture(t)
	_, err := w.EnqueueRun(ctx, f.newRun(t, "p"))
	require.NoError(t, err)

	_, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	_, err = w.ProcessOne(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, q.Len())
}

func TestWorker_InterruptIsNotRetried(t *testing.T) {
	q := taskqueue.NewInMemoryQueue(8)
	w := NewWithConfig(q, LauncherFunc(func(ctx context.Context, _ []byte) error {
		return api.ErrInterrupted
	}), Config{MaxAttempts: 5})

	f := newFixture(t)
	_, err := w.EnqueueRun(context.Background(), f.newRun(t, "p"))
	require.NoError(t, err)

	_, err = w.ProcessOne(context.Background())
	assert.ErrorIs(t, err, api.ErrInterrupted)
	assert.Equal(t, 0, q.Len())
}

func TestWorker_UnknownTaskType(t *testing.T) {
	q := taskqueue.NewInMemoryQueue(8)
	require.NoError(t, q.Enqueue(context.Background(), taskqueue.Task{ID: "x", Type: "bogus"}))
	w := New(q, LauncherFunc(func(context.Context, []byte) error { return nil }))

	processed, err := w.ProcessOne(context.Background())
	assert.True(t, processed)
	assert.Error(t, err)
}

func TestWorker_ProcessOneHonorsContext(t *testing.T) {
	w := New(taskqueue.NewInMemoryQueue(8), LauncherFunc(func(context.Context, []byte) error { return nil }))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	processed, err := w.ProcessOne(ctx)
	assert.False(t, processed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorker_CancelInterruptsRunningRun(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	f := newFixture(t, single("slow", func(ctx context.Context, in api.SolidInput) (any, error) {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	w := New(taskqueue.NewInMemoryQueue(8), InProcessLauncher(f.deps, nil))

	args := f.newRun(t, "slow")
	_, err := w.EnqueueRun(context.Background(), args)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	_, err = w.ProcessOne(ctx)
	assert.True(t, api.IsInterrupt(err), "expected interrupt, got %v", err)

	run, err := f.inst.GetRunByID(context.Background(), args.PipelineRunID)
	require.NoError(t, err)
	assert.Equal(t, api.RunStatusCanceled, run.Status)
}

func TestWorker_RunDrainsQueue(t *testing.T) {
	f := newFixture(t, single("p", ok))
	q := taskqueue.NewInMemoryQueue(8)
	w := New(q, InProcessLauncher(f.deps, nil))

	var ids []string
	for i := 0; i < 3; i++ {
		args := f.newRun(t, "p")
		ids = append(ids, args.PipelineRunID)
		_, err := w.EnqueueRun(context.Background(), args)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, 2) }()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			run, err := f.inst.GetRunByID(context.Background(), id)
			if err != nil || run.Status != api.RunStatusSuccess {
				return false
			}
		}
		return true
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}
