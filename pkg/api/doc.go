// Package api contains the shared building blocks of the pipehost run
// execution backbone: run records, engine events, serializable error
// information, argument records, definitions and evaluation envelopes.
//
// Most users interact with the higher-level pipehost package, which
// re-exports selected types and helpers from this package. The api package is
// the common vocabulary of the worker, the controller and the storage
// backends, and it is what custom engines or instances implement.
//
// # Runs and Events
//
// A PipelineRun is the mutable record of one pipeline execution. Its status
// is owned by an Instance, the durable run-storage collaborator, which is
// also the only component that constructs and persists EngineEvents:
//
//	ev, err := inst.ReportEngineEvent(ctx, "Started process", run, api.InProcessData(pid, api.MarkerProcessInit))
//
// The event returned by the instance is the one relayed to the controller.
//
// # Errors
//
// Faults are captured as SerializableErrorInfo values, which carry the
// error's class name, message, stack frames and cause chain and can be sent
// across a process boundary. ErrorInfoFromError builds one from any Go error;
// errors created with github.com/pkg/errors contribute their stack frames.
//
// Interrupts are distinguished from every other fault: ErrInterrupted (and
// context cancellation) marks work that was stopped on request rather than
// failed. SubprocessError aggregates faults from concurrently executing
// workers so callers can tell an all-interrupt aggregate from a real crash.
//
// # Definitions and Evaluation
//
// RepositoryDefinition groups pipelines, schedules and partition sets under a
// name. Operator-supplied functions on schedules and partition sets are
// evaluated under an error boundary and their outcome is returned as an
// EvaluationResult, a closed success-or-failure envelope that never carries
// a Go error across the call boundary.
//
// # Observability
//
// Observer receives run and step lifecycle callbacks from the engine.
// LoggingObserver writes structured logs with log/slog, BasicMetrics keeps
// counters, and CompositeObserver fans out to several observers.
package api
