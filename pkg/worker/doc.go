// Package worker provides the background worker that launches pipeline
// runs.
//
// A Worker consumes launch tasks from a task queue. Each task carries the
// serialized arguments of one run; the worker hands them to a Launcher,
// which executes the run on a goroutine (InProcessLauncher) or in a separate
// OS process (SubprocessLauncher) and blocks until the run's worker sent its
// completion sentinel.
//
// # Retries
//
// A launch that fails before the run could be set up, for example because
// the worker process could not be spawned, is re-enqueued with exponential
// backoff until Config.MaxAttempts is reached. Runs that start and then fail
// are not retried: their outcome is recorded on the instance, and step-level
// retries belong to the pipeline definition.
//
// # Backends
//
// Workers are decoupled from any particular queue backend. In-memory,
// SQLite, PostgreSQL, Redis and MongoDB queues are interchangeable, and
// several workers may share one durable queue to scale launching.
//
// # Usage
//
// Most users should create workers via the pipehost package, which wires
// the instance, registry, engine and queue together. This package is useful
// when embedding a worker into an existing service.
package worker
