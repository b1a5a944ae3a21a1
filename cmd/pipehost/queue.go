package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/petrijr/pipehost/internal/config"
	"github.com/petrijr/pipehost/internal/subprocess"
	"github.com/petrijr/pipehost/internal/taskqueue"
	"github.com/petrijr/pipehost/pkg/worker"
)

func (a *app) openQueue(ctx context.Context) (taskqueue.Queue, func() error, error) {
	q := a.cfg.Worker.Queue
	return taskqueue.Open(ctx, taskqueue.Options{
		Backend:  q.Backend,
		DSN:      q.DSN,
		Database: q.Database,
		Prefix:   q.Prefix,
		Capacity: q.Capacity,
	})
}

func runSubmit(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath string
		rf         runFlags
		at         string
	)
	fs := newFlagSet("submit", stderr, &configPath)
	rf.register(fs)
	fs.StringVar(&at, "at", "", "launch no earlier than this RFC 3339 time")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	var notBefore time.Time
	if at != "" {
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return fmt.Errorf("--at: %w", err)
		}
		notBefore = t
	}

	a, err := newApp(configPath, stderr, false)
	if err != nil {
		return err
	}
	if a.cfg.Worker.Queue.Backend == "memory" {
		return errors.New("submit needs a durable queue backend; set worker.queue.backend")
	}

	h, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer h.Close()
	q, closeQueue, err := a.openQueue(ctx)
	if err != nil {
		return err
	}
	defer closeQueue()

	run, execArgs, err := rf.createRun(ctx, h)
	if err != nil {
		return err
	}
	taskID, err := worker.New(q, nil).EnqueueRunAt(ctx, execArgs, notBefore)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "run %s queued as task %s\n", run.RunID, taskID)
	return nil
}

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		configPath  string
		concurrency int
	)
	fs := newFlagSet("serve", stderr, &configPath)
	fs.IntVar(&concurrency, "concurrency", 0, "number of runs launched at once (default from config)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	a, err := newApp(configPath, stderr, true)
	if err != nil {
		return err
	}
	defer a.close()
	if concurrency <= 0 {
		concurrency = a.cfg.Worker.Concurrency
	}

	h, err := a.openHost(ctx)
	if err != nil {
		return err
	}
	defer h.Close()
	q, closeQueue, err := a.openQueue(ctx)
	if err != nil {
		return err
	}
	defer closeQueue()

	var launcher worker.Launcher
	if a.cfg.Worker.Mode == config.ModeSubprocess {
		l := subprocess.NewLauncher(a.workerCommand(),
			subprocess.WithLogger(a.logger),
			subprocess.WithGracePeriod(a.cfg.Worker.GracePeriod),
			subprocess.WithStderr(stderr),
			subprocess.WithInstanceOpener(h.Deps().OpenInstance))
		launcher = worker.SubprocessLauncher(l, nil)
	} else {
		launcher = worker.InProcessLauncher(h.Deps(), nil)
	}
	w := worker.NewWithConfig(q, launcher, worker.Config{
		MaxAttempts: a.cfg.Worker.MaxAttempts,
		Backoff:     a.cfg.Worker.Backoff,
		Logger:      a.logger,
	})

	a.logger.Info("serve_started",
		"queue", a.cfg.Worker.Queue.Backend,
		"mode", a.cfg.Worker.Mode,
		"concurrency", concurrency)
	err = w.Run(ctx, concurrency)
	a.logger.Info("serve_stopped")
	return err
}
