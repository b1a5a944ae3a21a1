package ipc

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"syscall"

	"github.com/petrijr/pipehost/internal/codec"
)

// StreamWriter sends Messages over a byte stream (typically a worker
// process's stdout) as a CBOR sequence.
type StreamWriter struct {
	mu  sync.Mutex
	enc *codec.Encoder
}

// NewStreamWriter returns a StreamWriter writing to w.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{enc: codec.NewEncoder(w)}
}

// Put writes m. A broken pipe means the reader went away and is reported as
// ErrChannelClosed.
func (s *StreamWriter) Put(m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(m); err != nil {
		if errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
			return ErrChannelClosed
		}
		return err
	}
	return nil
}

// StreamReader reads the Messages written by a StreamWriter.
type StreamReader struct {
	dec *codec.Decoder
}

// NewStreamReader returns a StreamReader reading from r.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{dec: codec.NewDecoder(r)}
}

// Next returns the next message, or io.EOF at the end of the stream.
func (s *StreamReader) Next() (Message, error) {
	var m Message
	if err := s.dec.Decode(&m); err != nil {
		return Message{}, err
	}
	return m, nil
}

// ErrStreamTruncated reports a stream that ended before the completion
// sentinel.
var ErrStreamTruncated = errors.New("ipc: stream ended before worker completion")

// Pump copies messages from r into ch until the completion sentinel has been
// forwarded. A stream that ends early yields ErrStreamTruncated. started
// reports whether the started sentinel went through, so callers can tell a
// worker that died mid-run from one that never got going.
func Pump(ctx context.Context, r *StreamReader, ch *Channel) (started bool, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return started, err
		}
		m, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return started, ErrStreamTruncated
			}
			return started, err
		}
		if err := ch.Put(m); err != nil {
			return started, err
		}
		switch m.Kind {
		case KindWorkerStarted:
			started = true
		case KindWorkerComplete:
			return started, nil
		}
	}
}
