package ipc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/pipehost/pkg/api"
)

func event(msg string) Message {
	return EventMessage(&api.EngineEvent{RunID: "run-1", Type: api.EventEngine, Message: msg})
}

func TestChannel_PreservesOrder(t *testing.T) {
	ch := NewChannel()
	require.NoError(t, ch.Put(WorkerStarted()))
	for i := 0; i < 100; i++ {
		require.NoError(t, ch.Put(event(fmt.Sprint(i))))
	}
	require.NoError(t, ch.Put(WorkerComplete()))

	var got []Message
	err := ch.Drain(context.Background(), func(m Message) error {
		got = append(got, m)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 102)
	assert.Equal(t, KindWorkerStarted, got[0].Kind)
	for i := 0; i < 100; i++ {
		assert.Equal(t, fmt.Sprint(i), got[i+1].Event.Message)
	}
	assert.Equal(t, KindWorkerComplete, got[101].Kind)
}

func TestChannel_PutNeverBlocksWithoutConsumer(t *testing.T) {
	ch := NewChannel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			_ = ch.Put(event("x"))
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("producer blocked")
	}
	assert.Equal(t, 10000, ch.Len())
}

func TestChannel_ConcurrentProducerConsumer(t *testing.T) {
	ch := NewChannel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = ch.Put(event(fmt.Sprint(i)))
		}
		_ = ch.Put(WorkerComplete())
	}()

	n := 0
	err := ch.Drain(context.Background(), func(m Message) error {
		if m.Kind == KindEvent {
			if m.Event.Message != fmt.Sprint(n) {
				return fmt.Errorf("out of order: got %s want %d", m.Event.Message, n)
			}
			n++
		}
		return nil
	})
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, 500, n)
}

func TestChannel_GetHonorsContext(t *testing.T) {
	ch := NewChannel()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := ch.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannel_CloseDetachesConsumer(t *testing.T) {
	ch := NewChannel()
	require.NoError(t, ch.Put(event("pending")))
	ch.Close()

	assert.ErrorIs(t, ch.Put(event("late")), ErrChannelClosed)
	assert.ErrorIs(t, ch.Put(event("late")), api.ErrSinkClosed)
	_, err := ch.Get(context.Background())
	assert.ErrorIs(t, err, ErrChannelClosed)
	assert.Equal(t, 0, ch.Len())
}

func TestChannel_CloseWakesWaitingConsumer(t *testing.T) {
	ch := NewChannel()
	errCh := make(chan error, 1)
	go func() {
		_, err := ch.Get(context.Background())
		errCh <- err
	}()
	time.Sleep(10 * time.Millisecond)
	ch.Close()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatalf("Get did not return after Close")
	}
}

func TestStream_RoundTripAndPump(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	info := api.ErrorInfoFromError(errors.New("boom"))
	require.NoError(t, w.Put(WorkerStarted()))
	require.NoError(t, w.Put(event("hello")))
	require.NoError(t, w.Put(ErrorMsg("diag", info)))
	require.NoError(t, w.Put(WorkerComplete()))

	ch := NewChannel()
	started, err := Pump(context.Background(), NewStreamReader(&buf), ch)
	require.NoError(t, err)
	assert.True(t, started)

	var kinds []Kind
	var got []Message
	require.NoError(t, ch.Drain(context.Background(), func(m Message) error {
		kinds = append(kinds, m.Kind)
		got = append(got, m)
		return nil
	}))
	assert.Equal(t, []Kind{KindWorkerStarted, KindEvent, KindError, KindWorkerComplete}, kinds)
	assert.Equal(t, "hello", got[1].Event.Message)
	assert.Equal(t, "diag", got[2].Error.Message)
	assert.Equal(t, "boom", got[2].Error.Error.Message)
}

func TestPump_TruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	require.NoError(t, w.Put(WorkerStarted()))

	started, err := Pump(context.Background(), NewStreamReader(&buf), NewChannel())
	assert.ErrorIs(t, err, ErrStreamTruncated)
	assert.True(t, started)
}

func TestPump_TruncatedBeforeStart(t *testing.T) {
	started, err := Pump(context.Background(), NewStreamReader(&bytes.Buffer{}), NewChannel())
	assert.ErrorIs(t, err, ErrStreamTruncated)
	assert.False(t, started)
}

func TestStreamWriter_ClosedPipeIsDetached(t *testing.T) {
	r, w := io.Pipe()
	_ = r.Close()
	err := NewStreamWriter(w).Put(WorkerStarted())
	assert.ErrorIs(t, err, ErrChannelClosed)
}
