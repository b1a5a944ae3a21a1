package subprocess

import (
	"context"
	"fmt"
	"io"

	"github.com/petrijr/pipehost/internal/executor"
	"github.com/petrijr/pipehost/internal/ipc"
	"github.com/petrijr/pipehost/internal/termination"
)

// Serve is the worker side of Launch. It reads the serialized run args from
// r, executes the run and writes the message stream to w. SIGINT and SIGTERM
// raise the run's termination flag.
func Serve(ctx context.Context, r io.Reader, w io.Writer, deps executor.Deps) error {
	args, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read run args: %w", err)
	}

	term := termination.NewEvent()
	stop := termination.NotifySignals(term)
	defer stop()

	out := ipc.NewStreamWriter(w)
	return executor.RunInWorker(ctx, args, term, out.Put, out.Put, deps)
}
