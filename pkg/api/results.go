package api

// EvaluationResult is the closed outcome of one remote evaluation: either a
// payload or the captured error. It never carries a Go error across the
// call boundary.
type EvaluationResult[T any] struct {
	Success bool                   `cbor:"success"`
	Value   T                      `cbor:"value,omitempty"`
	Error   *SerializableErrorInfo `cbor:"error,omitempty"`
}

// Succeeded wraps a successful evaluation.
func Succeeded[T any](v T) EvaluationResult[T] {
	return EvaluationResult[T]{Success: true, Value: v}
}

// Failed wraps a failed evaluation.
func Failed[T any](info *SerializableErrorInfo) EvaluationResult[T] {
	return EvaluationResult[T]{Error: info}
}

// ScheduleExecutionData is the payload of a schedule evaluation.
// ShouldExecute is nil when the predicate was not evaluated (preview mode).
type ScheduleExecutionData struct {
	RunConfig     map[string]any    `cbor:"run_config"`
	Tags          map[string]string `cbor:"tags"`
	ShouldExecute *bool             `cbor:"should_execute"`
}

// PartitionConfigData is the run config computed for one partition.
type PartitionConfigData struct {
	Name      string         `cbor:"name"`
	RunConfig map[string]any `cbor:"run_config"`
}

// PartitionNamesData lists the partitions of a partition set.
type PartitionNamesData struct {
	PartitionNames []string `cbor:"partition_names"`
}

// PartitionTagsData is the tag set computed for one partition.
type PartitionTagsData struct {
	Name string            `cbor:"name"`
	Tags map[string]string `cbor:"tags"`
}
