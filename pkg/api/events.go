package api

import "time"

// EventType identifies an engine event.
type EventType string

const (
	EventEngine EventType = "ENGINE_EVENT"

	EventPipelineStart    EventType = "PIPELINE_START"
	EventPipelineSuccess  EventType = "PIPELINE_SUCCESS"
	EventPipelineFailure  EventType = "PIPELINE_FAILURE"
	EventPipelineCanceled EventType = "PIPELINE_CANCELED"

	EventStepStart   EventType = "STEP_START"
	EventStepSuccess EventType = "STEP_SUCCESS"
	EventStepFailure EventType = "STEP_FAILURE"
	EventStepRetry   EventType = "STEP_RETRY"
)

// MarkerProcessInit is the marker carried by the event announcing that a
// worker process started executing a run.
const MarkerProcessInit = "cli_api_subprocess_init"

// EngineEvent is a structured, persisted record describing a step in a
// run's lifecycle. It is immutable once constructed by an Instance.
type EngineEvent struct {
	EventID      string    `cbor:"event_id"`
	RunID        string    `cbor:"run_id"`
	PipelineName string    `cbor:"pipeline_name"`
	Type         EventType `cbor:"type"`
	Message      string    `cbor:"message"`
	At           time.Time `cbor:"at"`

	// StepKey names the solid for STEP_* events.
	StepKey string `cbor:"step_key,omitempty"`

	Data *EngineEventData `cbor:"data,omitempty"`
}

// IsFailure reports whether the event carries error information.
func (e *EngineEvent) IsFailure() bool {
	return e != nil && e.Data != nil && e.Data.Error != nil
}

// EngineEventData is the optional structured payload of an EngineEvent.
type EngineEventData struct {
	PID         int    `cbor:"pid,omitempty"`
	MarkerStart string `cbor:"marker_start,omitempty"`
	MarkerEnd   string `cbor:"marker_end,omitempty"`

	Error *SerializableErrorInfo `cbor:"error,omitempty"`

	// Metadata holds small, human-oriented details (attempt numbers,
	// durations). Keep it low-volume.
	Metadata map[string]string `cbor:"metadata,omitempty"`
}

// InProcessData describes a worker process identified by pid, closing the
// named marker.
func InProcessData(pid int, markerEnd string) *EngineEventData {
	return &EngineEventData{PID: pid, MarkerEnd: markerEnd}
}

// EngineErrorData wraps a captured framework error.
func EngineErrorData(info *SerializableErrorInfo) *EngineEventData {
	return &EngineEventData{Error: info}
}
