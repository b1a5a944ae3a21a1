package main

import (
	"context"
	"io"

	"github.com/petrijr/pipehost"
)

// runWorker executes the run whose args arrive on stdin and writes the
// message stream to stdout. Logs go to stderr so they never mix with the
// stream.
func runWorker(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var configPath string
	fs := newFlagSet("worker", stderr, &configPath)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	a, err := newApp(configPath, stderr, false)
	if err != nil {
		return err
	}
	return pipehost.ServeWorker(ctx, stdin, stdout, a.opts...)
}
