package persistence

import (
	"github.com/petrijr/pipehost/internal/codec"
	"github.com/petrijr/pipehost/pkg/api"
)

// runBody holds the run fields that are stored as one CBOR blob next to the
// indexed columns.
type runBody struct {
	SolidSelection []string          `cbor:"solid_selection,omitempty"`
	RunConfig      map[string]any    `cbor:"run_config,omitempty"`
	Tags           map[string]string `cbor:"tags,omitempty"`
}

func encodeRunBody(run *api.PipelineRun) ([]byte, error) {
	return codec.Marshal(runBody{
		SolidSelection: run.SolidSelection,
		RunConfig:      run.RunConfig,
		Tags:           run.Tags,
	})
}

func decodeRunBody(data []byte, run *api.PipelineRun) error {
	body, err := codec.DecodeValue[runBody](data)
	if err != nil {
		return err
	}
	run.SolidSelection = body.SolidSelection
	run.RunConfig = body.RunConfig
	run.Tags = body.Tags
	return nil
}

// runRecord is the complete run for key-value backends.
type runRecord struct {
	RunID        string        `cbor:"run_id"`
	PipelineName string        `cbor:"pipeline_name"`
	Status       api.RunStatus `cbor:"status"`
	CreatedAt    int64         `cbor:"created_at"`
	UpdatedAt    int64         `cbor:"updated_at"`
	Body         runBody       `cbor:"body"`
}

func encodeRunRecord(run *api.PipelineRun) ([]byte, error) {
	return codec.Marshal(runRecord{
		RunID:        run.RunID,
		PipelineName: run.PipelineName,
		Status:       run.Status,
		CreatedAt:    nanos(run.CreatedAt),
		UpdatedAt:    nanos(run.UpdatedAt),
		Body: runBody{
			SolidSelection: run.SolidSelection,
			RunConfig:      run.RunConfig,
			Tags:           run.Tags,
		},
	})
}

func decodeRunRecord(data []byte) (*api.PipelineRun, error) {
	rec, err := codec.DecodeValue[runRecord](data)
	if err != nil {
		return nil, err
	}
	return &api.PipelineRun{
		RunID:          rec.RunID,
		PipelineName:   rec.PipelineName,
		Status:         rec.Status,
		SolidSelection: rec.Body.SolidSelection,
		RunConfig:      rec.Body.RunConfig,
		Tags:           rec.Body.Tags,
		CreatedAt:      unixNano(rec.CreatedAt),
		UpdatedAt:      unixNano(rec.UpdatedAt),
	}, nil
}

func encodeEvent(ev *api.EngineEvent) ([]byte, error) {
	return codec.Marshal(ev)
}

func decodeEvent(data []byte) (*api.EngineEvent, error) {
	var ev api.EngineEvent
	if err := codec.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
