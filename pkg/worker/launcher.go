package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/petrijr/pipehost/internal/executor"
	"github.com/petrijr/pipehost/internal/ipc"
	"github.com/petrijr/pipehost/internal/subprocess"
	"github.com/petrijr/pipehost/pkg/api"
)

// ErrRunSetup reports that a worker could not set up its run. The run did
// not start, so the launch may be retried.
var ErrRunSetup = errors.New("worker: run setup failed")

// ErrRunLost reports that a worker stopped after its run started. The run
// is not launched again.
var ErrRunLost = errors.New("worker: run lost")

// Launcher starts one run from its serialized args and blocks until the
// run's worker completed.
type Launcher interface {
	Launch(ctx context.Context, serializedArgs []byte) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, serializedArgs []byte) error

func (f LauncherFunc) Launch(ctx context.Context, serializedArgs []byte) error {
	return f(ctx, serializedArgs)
}

// EventHandler receives the engine events of launched runs. It may be nil.
type EventHandler func(ev *api.EngineEvent)

// InProcessLauncher runs each launch on a goroutine of this process.
func InProcessLauncher(deps executor.Deps, onEvent EventHandler) Launcher {
	return LauncherFunc(func(ctx context.Context, serializedArgs []byte) error {
		w := executor.Go(ctx, serializedArgs, onEvent != nil, deps)
		drainErr := drain(ctx, w.Channel(), onEvent)
		if err := w.Wait(context.WithoutCancel(ctx)); err != nil {
			return err
		}
		return drainErr
	})
}

// SubprocessLauncher runs each launch in a worker process started by l.
func SubprocessLauncher(l *subprocess.Launcher, onEvent EventHandler) Launcher {
	return LauncherFunc(func(ctx context.Context, serializedArgs []byte) error {
		p, err := l.Launch(ctx, serializedArgs)
		if err != nil {
			return err
		}
		drainErr := drain(ctx, p.Channel(), onEvent)
		<-p.Done()
		return drainErr
	})
}

// drain consumes ch until completion and turns diagnostics into an error:
// ErrRunSetup before the started sentinel, ErrRunLost after it.
func drain(ctx context.Context, ch *ipc.Channel, onEvent EventHandler) error {
	var (
		started bool
		diagErr error
	)
	err := ch.Drain(ctx, func(m ipc.Message) error {
		switch m.Kind {
		case ipc.KindWorkerStarted:
			started = true
		case ipc.KindEvent:
			if onEvent != nil {
				onEvent(m.Event)
			}
		case ipc.KindError:
			cause := ""
			if m.Error.Error != nil {
				cause = ": " + m.Error.Error.Message
			}
			kind := ErrRunSetup
			if started {
				kind = ErrRunLost
			}
			diagErr = fmt.Errorf("%w: %s%s", kind, m.Error.Message, cause)
		}
		return nil
	})
	if err != nil {
		ch.Close()
		return err
	}
	return diagErr
}
