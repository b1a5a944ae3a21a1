// Package pipehost provides the execution backbone of a data-pipeline
// orchestrator: it runs pipeline runs on isolated workers, streams their
// events back to the caller, and evaluates schedule and partition set
// functions on behalf of a remote scheduler.
//
// # Core Concepts
//
//  1. Repository: pipelines, schedules and partition sets under a name
//  2. Instance: durable storage for runs and their events
//  3. Host: runs pipelines from its repositories against its instance
//  4. Worker: launches queued runs
//  5. LocalRunner: everything in memory, for development
//
// # Pipelines
//
// A pipeline is a DAG of solids. PipelineBuilder defines one:
//
//	etl := pipehost.NewPipeline("etl").
//	    Solid("extract", extract).
//	    Solid("transform", transform, "extract").
//	    SolidWithRetry("load", load, pipehost.Retry(3).Policy(), "transform")
//
// Solids receive the outputs of the solids they depend on and their config
// from run_config["solids"][name]["config"]. A solid that returns an error
// or panics fails its step; the run then ends in FAILURE.
//
// # Running
//
// Host.StartRun executes a run on a worker goroutine. The handle's Events
// iterator yields engine events in the order they were recorded:
//
//	run, args, _ := host.CreateRun(ctx, recon, nil, nil)
//	h, _ := host.StartRun(ctx, args)
//	for ev, err := range h.Events(ctx) {
//	    ...
//	}
//
// Every run stream starts with a process-start event and ends with a
// process-exit event. A worker that cannot set up its run yields a
// *SetupError instead. RunHandle.Terminate interrupts the run; it is then
// marked CANCELED, never FAILURE.
//
// # Isolation
//
// Host.StartRunInSubprocess executes a run in a separate OS process: a
// program that calls ServeWorker with the same repositories (see
// cmd/pipehost). Runs may also be queued for a pool of workers
// (WorkerBundle, LocalRunner). Instances can be
// stored in memory, SQLite, PostgreSQL, Redis or MongoDB, and are reopened
// by workers from a serializable InstanceRef.
//
// # Evaluation
//
// EvaluateSchedule, PartitionConfig, PartitionNames, PartitionTags and
// PipelineSubset run operator code under an error boundary: failures come
// back as an EvaluationResult carrying a SerializableErrorInfo, not as Go
// errors.
package pipehost
