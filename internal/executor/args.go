package executor

import (
	"errors"
	"fmt"

	"github.com/petrijr/pipehost/internal/codec"
	"github.com/petrijr/pipehost/pkg/api"
)

// EncodeArgs serializes run args into the blob handed to a worker.
func EncodeArgs(args api.ExecuteRunArgs) ([]byte, error) {
	return codec.Marshal(args)
}

// DecodeArgs parses a blob produced by EncodeArgs.
func DecodeArgs(data []byte) (api.ExecuteRunArgs, error) {
	var args api.ExecuteRunArgs
	if len(data) == 0 {
		return args, errors.New("empty run args")
	}
	if err := codec.Unmarshal(data, &args); err != nil {
		return args, fmt.Errorf("decode run args: %w", err)
	}
	if args.PipelineRunID == "" {
		return args, errors.New("run args: pipeline run id is required")
	}
	if args.Pipeline.PipelineName == "" {
		return args, errors.New("run args: pipeline name is required")
	}
	return args, nil
}
