// pipehost launches runs of the pipelines compiled into this binary and
// doubles as their worker process.
//
// Usage:
//
//	pipehost launch --pipeline etl [--solid transform] [--run-config run.yaml]
//	pipehost submit --pipeline etl [--at 2026-01-02T03:00:00Z]
//	pipehost serve
//	pipehost schedule --name nightly [--at 2026-01-02T02:00:00Z]
//	pipehost partitions --set daily [--partition 2026-01-01]
//	pipehost worker
//
// Every command accepts --config with a YAML or JSONC file; PIPEHOST_*
// environment variables override it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return errUsage
	}
	rest := args[1:]
	switch args[0] {
	case "launch":
		return runLaunch(ctx, rest, stdout, stderr)
	case "submit":
		return runSubmit(ctx, rest, stdout, stderr)
	case "serve":
		return runServe(ctx, rest, stdout, stderr)
	case "schedule":
		return runSchedule(ctx, rest, stdout, stderr)
	case "partitions":
		return runPartitions(ctx, rest, stdout, stderr)
	case "worker":
		// The controller delivers termination as SIGINT; the worker handles
		// it itself, so it must not inherit the signal-bound context.
		return runWorker(context.WithoutCancel(ctx), rest, stdin, stdout, stderr)
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	}
	fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
	printUsage(stderr)
	return errUsage
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `pipehost runs pipelines out of process.

Usage:
  pipehost <command> [flags]

Commands:
  launch      create a run and execute it, streaming its events
  submit      create a run and enqueue it on the launch queue
  serve       launch queued runs until interrupted
  schedule    evaluate one tick of a schedule
  partitions  list a partition set, or show one partition's config and tags
  worker      execute one run read from stdin (started by launch and serve)

Run "pipehost <command> --help" for the flags of a command.
`)
}
