package taskqueue

import (
	"github.com/petrijr/pipehost/internal/codec"
)

// EncodeTask CBOR-encodes a Task.
func EncodeTask(t Task) ([]byte, error) {
	return codec.Marshal(t)
}

// DecodeTask CBOR-decodes a Task.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := codec.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}
