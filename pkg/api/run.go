package api

import (
	"errors"
	"time"
)

// ErrRunNotFound is returned when a run id is unknown to an instance.
var ErrRunNotFound = errors.New("run not found")

// RunStatus represents the lifecycle state of a pipeline run.
type RunStatus string

const (
	RunStatusNotStarted RunStatus = "NOT_STARTED"
	RunStatusStarted    RunStatus = "STARTED"
	RunStatusSuccess    RunStatus = "SUCCESS"
	RunStatusFailure    RunStatus = "FAILURE"
	RunStatusCanceled   RunStatus = "CANCELED"
)

// Finished reports whether the status is terminal.
func (s RunStatus) Finished() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailure, RunStatusCanceled:
		return true
	default:
		return false
	}
}

// PipelineRun is the mutable record of one pipeline execution. Workers read
// it; status changes go through the Instance that owns it.
type PipelineRun struct {
	RunID        string
	PipelineName string
	Status       RunStatus

	// SolidSelection narrows the run to a subset of the pipeline's solids.
	// Empty means the whole pipeline.
	SolidSelection []string

	RunConfig map[string]any
	Tags      map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Clone returns a copy of the run whose maps and slices are not shared
// with r.
func (r *PipelineRun) Clone() *PipelineRun {
	if r == nil {
		return nil
	}
	cp := *r
	if r.SolidSelection != nil {
		cp.SolidSelection = append([]string(nil), r.SolidSelection...)
	}
	if r.RunConfig != nil {
		cp.RunConfig = make(map[string]any, len(r.RunConfig))
		for k, v := range r.RunConfig {
			cp.RunConfig[k] = v
		}
	}
	if r.Tags != nil {
		cp.Tags = make(map[string]string, len(r.Tags))
		for k, v := range r.Tags {
			cp.Tags[k] = v
		}
	}
	return &cp
}

// RunFilter selects runs from an instance. Zero-valued fields do not filter.
type RunFilter struct {
	PipelineName string
	Status       RunStatus
}
