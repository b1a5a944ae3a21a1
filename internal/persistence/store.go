package persistence

import (
	"context"
	"errors"

	"github.com/petrijr/pipehost/pkg/api"
)

// ErrRunExists is returned when saving a run whose id is already stored.
var ErrRunExists = errors.New("run already exists")

// RunStore handles storage of pipeline runs. GetRun and UpdateRun return
// api.ErrRunNotFound for unknown ids.
type RunStore interface {
	SaveRun(ctx context.Context, run *api.PipelineRun) error
	UpdateRun(ctx context.Context, run *api.PipelineRun) error
	GetRun(ctx context.Context, runID string) (*api.PipelineRun, error)
	// ListRuns returns matching runs ordered by creation time.
	ListRuns(ctx context.Context, filter api.RunFilter) ([]*api.PipelineRun, error)
}
