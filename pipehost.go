package pipehost

import (
	"github.com/petrijr/pipehost/internal/engine"
	"github.com/petrijr/pipehost/internal/executor"
	"github.com/petrijr/pipehost/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Instance                = api.Instance
	Engine                  = api.Engine
	PipelineRun             = api.PipelineRun
	RunStatus               = api.RunStatus
	RunFilter               = api.RunFilter
	EngineEvent             = api.EngineEvent
	EngineEventData         = api.EngineEventData
	EventType               = api.EventType
	SerializableErrorInfo   = api.SerializableErrorInfo
	InstanceRef             = api.InstanceRef
	RepositoryOrigin        = api.RepositoryOrigin
	ReconstructablePipeline = api.ReconstructablePipeline
	ExecuteRunArgs          = api.ExecuteRunArgs
	ScheduleExecutionArgs   = api.ScheduleExecutionArgs
	ScheduleExecutionMode   = api.ScheduleExecutionMode
	PartitionArgs           = api.PartitionArgs
	PartitionNamesArgs      = api.PartitionNamesArgs
	ScheduleExecutionData   = api.ScheduleExecutionData
	PartitionConfigData     = api.PartitionConfigData
	PartitionNamesData      = api.PartitionNamesData
	PartitionTagsData       = api.PartitionTagsData
	PipelineSnapshot        = api.PipelineSnapshot
	PipelineDefinition      = api.PipelineDefinition
	SolidDefinition         = api.SolidDefinition
	SolidFunc               = api.SolidFunc
	SolidInput              = api.SolidInput
	RetryPolicy             = api.RetryPolicy
	RepositoryDefinition    = api.RepositoryDefinition
	ScheduleDefinition      = api.ScheduleDefinition
	ScheduleContext         = api.ScheduleContext
	PartitionSetDefinition  = api.PartitionSetDefinition
	Partition               = api.Partition
	Observer                = api.Observer
	LoggingObserver         = api.LoggingObserver
	BasicMetrics            = api.BasicMetrics
	BasicMetricsSnapshot    = api.BasicMetricsSnapshot
	CompositeObserver       = api.CompositeObserver
	NoopObserver            = api.NoopObserver
	ExecutionMode           = engine.Mode
)

// Re-export common helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
	DailyPartitions      = api.DailyPartitions
	IsInterrupt          = api.IsInterrupt
)

// Re-export status values and modes for convenience.

const (
	RunStatusNotStarted = api.RunStatusNotStarted
	RunStatusStarted    = api.RunStatusStarted
	RunStatusSuccess    = api.RunStatusSuccess
	RunStatusFailure    = api.RunStatusFailure
	RunStatusCanceled   = api.RunStatusCanceled

	ScheduleModePreview                  = api.ScheduleModePreview
	ScheduleModeLaunchScheduledExecution = api.ScheduleModeLaunchScheduledExecution

	EventEngine           = api.EventEngine
	EventPipelineStart    = api.EventPipelineStart
	EventPipelineSuccess  = api.EventPipelineSuccess
	EventPipelineFailure  = api.EventPipelineFailure
	EventPipelineCanceled = api.EventPipelineCanceled
	EventStepStart        = api.EventStepStart
	EventStepSuccess      = api.EventStepSuccess
	EventStepFailure      = api.EventStepFailure
	EventStepRetry        = api.EventStepRetry

	ExecutionSequential = engine.ModeSequential
	ExecutionParallel   = engine.ModeParallel
)

// Messages of the worker lifecycle events, for callers matching on them.
const (
	MessageSetupError     = executor.MessageSetupError
	MessageFrameworkError = executor.MessageFrameworkError
	MessageInterrupted    = executor.MessageInterrupted
)

// Re-export sentinel errors.

var (
	ErrRunNotFound = api.ErrRunNotFound
	ErrInterrupted = api.ErrInterrupted

	ErrInvalidPipeline      = api.ErrInvalidPipeline
	ErrRepositoryNotFound   = api.ErrRepositoryNotFound
	ErrPipelineNotFound     = api.ErrPipelineNotFound
	ErrScheduleNotFound     = api.ErrScheduleNotFound
	ErrPartitionSetNotFound = api.ErrPartitionSetNotFound
	ErrPartitionNotFound    = api.ErrPartitionNotFound
)
