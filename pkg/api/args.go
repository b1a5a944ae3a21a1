package api

import "time"

// RepositoryOrigin locates a repository definition. Inside a worker it is
// resolved against the repositories registered with the process.
type RepositoryOrigin struct {
	RepositoryName string `cbor:"repository_name"`
}

// ReconstructablePipeline is a location-independent reference sufficient to
// reload a pipeline definition inside an isolated worker.
type ReconstructablePipeline struct {
	Repository     RepositoryOrigin `cbor:"repository"`
	PipelineName   string           `cbor:"pipeline_name"`
	SolidSelection []string         `cbor:"solid_selection,omitempty"`
}

// WithSolidSelection returns a copy of r narrowed to the given solids.
func (r ReconstructablePipeline) WithSolidSelection(solids []string) ReconstructablePipeline {
	r.SolidSelection = append([]string(nil), solids...)
	return r
}

// Instance backends understood by InstanceRef.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMongo    = "mongo"
)

// InstanceRef is a serializable handle from which a worker reopens the
// durable instance that owns a run.
type InstanceRef struct {
	Backend string `cbor:"backend" yaml:"backend" json:"backend"`

	// DSN is the backend connection string: a file path or ":memory:" name
	// for sqlite, a URL for postgres, redis and mongo, and the registry name
	// for memory instances.
	DSN string `cbor:"dsn" yaml:"dsn" json:"dsn"`

	// Database names the MongoDB database. Ignored by other backends.
	Database string `cbor:"database,omitempty" yaml:"database" json:"database"`

	// Prefix namespaces Redis keys. Ignored by other backends.
	Prefix string `cbor:"prefix,omitempty" yaml:"prefix" json:"prefix"`
}

// ExecuteRunArgs are the serialized instructions for starting a run in a
// worker. They are created by the controller and decoded once by the worker.
type ExecuteRunArgs struct {
	Pipeline      ReconstructablePipeline `cbor:"pipeline"`
	PipelineRunID string                  `cbor:"pipeline_run_id"`
	InstanceRef   InstanceRef             `cbor:"instance_ref"`
}

// ScheduleExecutionMode selects how much of a schedule is evaluated.
type ScheduleExecutionMode string

const (
	// ScheduleModePreview computes run config and tags only.
	ScheduleModePreview ScheduleExecutionMode = "preview"
	// ScheduleModeLaunchScheduledExecution also evaluates should_execute
	// and stops early when it returns false.
	ScheduleModeLaunchScheduledExecution ScheduleExecutionMode = "launch_scheduled_execution"
)

// ScheduleExecutionArgs requests one evaluation of a schedule.
type ScheduleExecutionArgs struct {
	RepositoryOrigin RepositoryOrigin      `cbor:"repository_origin"`
	InstanceRef      InstanceRef           `cbor:"instance_ref"`
	ScheduleName     string                `cbor:"schedule_name"`
	Mode             ScheduleExecutionMode `cbor:"mode"`

	// ScheduledAt is the tick being evaluated. Zero means now.
	ScheduledAt time.Time `cbor:"scheduled_at,omitempty"`
}

// PartitionArgs requests config or tags for one partition.
type PartitionArgs struct {
	RepositoryOrigin RepositoryOrigin `cbor:"repository_origin"`
	PartitionSetName string           `cbor:"partition_set_name"`
	PartitionName    string           `cbor:"partition_name"`
}

// PartitionNamesArgs requests the partition names of a partition set.
type PartitionNamesArgs struct {
	RepositoryOrigin RepositoryOrigin `cbor:"repository_origin"`
	PartitionSetName string           `cbor:"partition_set_name"`
}
