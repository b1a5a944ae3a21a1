package pipehost

import (
	"context"
	"database/sql"

	"github.com/petrijr/pipehost/internal/instance"
	"github.com/petrijr/pipehost/internal/persistence"
	"github.com/petrijr/pipehost/internal/taskqueue"
	workerpkg "github.com/petrijr/pipehost/pkg/worker"
)

// WorkerBundle wires together a Host, a durable launch queue, and a Worker
// that consumes tasks from that queue.
//
// For now, we only provide a SQLite-backed bundle.
type WorkerBundle struct {
	Host   *Host
	Worker *workerpkg.Worker

	// queue is kept unexported; it is primarily useful for internal
	// inspection and tests.
	queue taskqueue.Queue
}

// NewSQLiteBundle constructs a durable Host + Queue + Worker combo sharing
// the same SQLite database. Runs, events and queued launches are persisted
// in the provided *sql.DB, which stays owned by the caller.
//
// Typical usage:
//
//	db, _ := sql.Open("sqlite", "file:pipehost.db?_pragma=journal_mode(WAL)")
//	bundle, err := pipehost.NewSQLiteBundle(db, worker.Config{MaxAttempts: 3},
//	    pipehost.WithRepositories(repo))
//	// submit runs via bundle.Submit, process them via bundle.Worker
func NewSQLiteBundle(db *sql.DB, cfg workerpkg.Config, opts ...HostOption) (*WorkerBundle, error) {
	p, err := persistence.NewSQLite(db)
	if err != nil {
		return nil, err
	}
	p.Close = nil

	q, err := taskqueue.NewSQLiteQueue(db)
	if err != nil {
		return nil, err
	}

	if cfg.Logger == nil {
		cfg.Logger = hostLogger(opts)
	}
	host := NewHost(instance.New(p), opts...)
	w := workerpkg.NewWithConfig(q, workerpkg.InProcessLauncher(host.Deps(), nil), cfg)

	return &WorkerBundle{
		Host:   host,
		Worker: w,
		queue:  q,
	}, nil
}

// Submit creates a run of recon's pipeline and enqueues its launch. It
// returns the run id.
func (b *WorkerBundle) Submit(ctx context.Context, recon ReconstructablePipeline, runConfig map[string]any) (string, error) {
	return submit(ctx, b.Host, b.Worker, recon, runConfig)
}

func submit(ctx context.Context, h *Host, w *workerpkg.Worker, recon ReconstructablePipeline, runConfig map[string]any) (string, error) {
	run, args, err := h.CreateRun(ctx, recon, runConfig, nil)
	if err != nil {
		return "", err
	}
	if _, err := w.EnqueueRun(ctx, args); err != nil {
		return "", err
	}
	return run.RunID, nil
}
