package usercode

import (
	"fmt"

	"github.com/petrijr/pipehost/pkg/api"
)

// ErrorFactory builds the domain error a boundary raises. message is the
// evaluated context message, info the captured original fault and cause the
// original fault itself.
type ErrorFactory func(message string, info *api.SerializableErrorInfo, cause error) error

// UserCodeError is the common shape of errors raised from operator-supplied
// code: a context message plus the captured original fault.
type UserCodeError struct {
	Message           string
	OriginalErrorInfo *api.SerializableErrorInfo

	cause error
}

func (e *UserCodeError) Error() string { return e.Message }

func (e *UserCodeError) Unwrap() error { return e.cause }

// ScheduleExecutionError is raised by a failing schedule function.
type ScheduleExecutionError struct {
	UserCodeError
}

// NewScheduleExecutionError is an ErrorFactory for schedule boundaries.
func NewScheduleExecutionError(message string, info *api.SerializableErrorInfo, cause error) error {
	return &ScheduleExecutionError{UserCodeError{Message: message, OriginalErrorInfo: info, cause: cause}}
}

// PartitionExecutionError is raised by a failing partition set function.
type PartitionExecutionError struct {
	UserCodeError
}

// NewPartitionExecutionError is an ErrorFactory for partition boundaries.
func NewPartitionExecutionError(message string, info *api.SerializableErrorInfo, cause error) error {
	return &PartitionExecutionError{UserCodeError{Message: message, OriginalErrorInfo: info, cause: cause}}
}

// SolidExecutionError is raised by a failing solid.
type SolidExecutionError struct {
	UserCodeError
}

// NewSolidExecutionError is an ErrorFactory for solid boundaries.
func NewSolidExecutionError(message string, info *api.SerializableErrorInfo, cause error) error {
	return &SolidExecutionError{UserCodeError{Message: message, OriginalErrorInfo: info, cause: cause}}
}

// PanicError is a recovered panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap exposes a panicked error value.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
