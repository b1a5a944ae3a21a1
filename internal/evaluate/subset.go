package evaluate

import (
	"errors"

	"github.com/petrijr/pipehost/internal/repository"
	"github.com/petrijr/pipehost/pkg/api"
)

// PipelineSubset resolves recon and describes the pipeline narrowed to its
// solid selection. An empty selection describes the full pipeline. An
// invalid selection yields a failure envelope; an unknown repository or
// pipeline is returned as an error.
func PipelineSubset(reg *repository.Registry, recon api.ReconstructablePipeline) (api.EvaluationResult[api.PipelineSnapshot], error) {
	p, err := reg.Pipeline(recon)
	if err != nil {
		return api.EvaluationResult[api.PipelineSnapshot]{}, err
	}
	if len(recon.SolidSelection) == 0 {
		return api.Succeeded(p.Snapshot()), nil
	}

	sub, err := p.SubsetForExecution(recon.SolidSelection)
	if err != nil {
		var invalid *api.InvalidSubsetError
		if errors.As(err, &invalid) {
			return api.Failed[api.PipelineSnapshot](api.ErrorInfoFromError(err)), nil
		}
		return api.EvaluationResult[api.PipelineSnapshot]{}, err
	}
	return api.Succeeded(sub.Snapshot()), nil
}
