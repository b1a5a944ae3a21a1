package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/pipehost/internal/ipc"
	"github.com/petrijr/pipehost/internal/subprocess"
	"github.com/petrijr/pipehost/internal/taskqueue"
	"github.com/petrijr/pipehost/pkg/api"
)

// crashEnv makes the test binary act as a worker that dies mid-run.
const crashEnv = "PIPEHOST_WORKER_TEST_CRASH"

func TestMain(m *testing.M) {
	if os.Getenv(crashEnv) == "1" {
		_, _ = io.ReadAll(os.Stdin)
		out := ipc.NewStreamWriter(os.Stdout)
		_ = out.Put(ipc.WorkerStarted())
		_ = out.Put(ipc.EventMessage(&api.EngineEvent{Type: api.EventStepStart, StepKey: "only"}))
		os.Exit(3)
	}
	os.Exit(m.Run())
}

func TestDrain_DiagnosticBeforeStartIsSetupFailure(t *testing.T) {
	ch := ipc.NewChannel()
	require.NoError(t, ch.Put(ipc.ErrorMsg("Error during RPC setup for ExecuteRun", &api.SerializableErrorInfo{Message: "run not found"})))
	require.NoError(t, ch.Put(ipc.WorkerComplete()))

	err := drain(context.Background(), ch, nil)
	assert.ErrorIs(t, err, ErrRunSetup)
	assert.False(t, errors.Is(err, ErrRunLost))
	assert.Contains(t, err.Error(), "run not found")
}

func TestDrain_DiagnosticAfterStartIsLostRun(t *testing.T) {
	ch := ipc.NewChannel()
	require.NoError(t, ch.Put(ipc.WorkerStarted()))
	require.NoError(t, ch.Put(ipc.EventMessage(&api.EngineEvent{Type: api.EventStepStart})))
	require.NoError(t, ch.Put(ipc.ErrorMsg(subprocess.MessageWorkerLost, nil)))
	require.NoError(t, ch.Put(ipc.WorkerComplete()))

	var seen int
	err := drain(context.Background(), ch, func(*api.EngineEvent) { seen++ })
	assert.ErrorIs(t, err, ErrRunLost)
	assert.False(t, errors.Is(err, ErrRunSetup))
	assert.Equal(t, 1, seen)
}

func TestWorker_LostRunIsNotRetried(t *testing.T) {
	var calls int32
	q := taskqueue.NewInMemoryQueue(8)
	w := NewWithConfig(q, LauncherFunc(func(ctx context.Context, _ []byte) error {
		atomic.AddInt32(&calls, 1)
		return fmt.Errorf("%w: worker exited", ErrRunLost)
	}), Config{MaxAttempts: 5})

	f := newFixture(t)
	_, err := w.EnqueueRun(context.Background(), f.newRun(t, "p"))
	require.NoError(t, err)

	_, err = w.ProcessOne(context.Background())
	assert.ErrorIs(t, err, ErrRunLost)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 0, q.Len())
}

func TestSubprocessLauncher_WorkerDyingMidRunIsLaunchedOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping subprocess tests in -short mode")
	}
	exe, err := os.Executable()
	require.NoError(t, err)

	f := newFixture(t, single("p", ok))
	var recorded int32
	l := subprocess.NewLauncher(subprocess.Command{
		Path: exe,
		Args: []string{"-test.run=^$"},
		Env:  append(os.Environ(), crashEnv+"=1"),
	}, subprocess.WithInstanceOpener(func(ctx context.Context, ref api.InstanceRef) (api.Instance, error) {
		atomic.AddInt32(&recorded, 1)
		return f.inst, nil
	}))

	q := taskqueue.NewInMemoryQueue(8)
	w := NewWithConfig(q, SubprocessLauncher(l, nil), Config{MaxAttempts: 3, Backoff: time.Millisecond})
	args := f.newRun(t, "p")
	_, err = w.EnqueueRun(context.Background(), args)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	processed, err := w.ProcessOne(ctx)
	assert.True(t, processed)
	assert.ErrorIs(t, err, ErrRunLost)
	assert.Equal(t, 0, q.Len(), "lost run was re-enqueued")
	assert.Equal(t, int32(1), atomic.LoadInt32(&recorded))

	run, err := f.inst.GetRunByID(context.Background(), args.PipelineRunID)
	require.NoError(t, err)
	assert.Equal(t, api.RunStatusFailure, run.Status)
}
