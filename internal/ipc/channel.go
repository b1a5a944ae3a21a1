package ipc

import (
	"context"
	"sync"

	"github.com/golang-collections/collections/queue"

	"github.com/petrijr/pipehost/pkg/api"
)

// ErrChannelClosed is returned by Put after the consumer detached, and by
// Get on a closed, empty channel.
var ErrChannelClosed = api.ErrSinkClosed

// Channel is an unbounded, ordered queue of Messages between one producer
// and one consumer. Put never blocks; messages accumulate until drained.
type Channel struct {
	mu     sync.Mutex
	q      *queue.Queue
	notify chan struct{}
	closed bool
}

// NewChannel returns an empty, open channel.
func NewChannel() *Channel {
	return &Channel{
		q:      queue.New(),
		notify: make(chan struct{}, 1),
	}
}

// Put enqueues m. It returns ErrChannelClosed once the consumer detached.
func (c *Channel) Put(m Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrChannelClosed
	}
	c.q.Enqueue(m)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// Get dequeues the oldest message, waiting until one is available or ctx is
// done.
func (c *Channel) Get(ctx context.Context) (Message, error) {
	for {
		c.mu.Lock()
		if c.q.Len() > 0 {
			m := c.q.Dequeue().(Message)
			c.mu.Unlock()
			return m, nil
		}
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return Message{}, ErrChannelClosed
		}

		select {
		case <-c.notify:
		case <-ctx.Done():
			return Message{}, ctx.Err()
		}
	}
}

// Drain passes messages to fn in order until the completion sentinel has
// been delivered. An error from fn or ctx stops draining early.
func (c *Channel) Drain(ctx context.Context, fn func(Message) error) error {
	for {
		m, err := c.Get(ctx)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
		if m.Kind == KindWorkerComplete {
			return nil
		}
	}
}

// Close detaches the consumer and discards pending messages. Subsequent Puts
// fail with ErrChannelClosed.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	c.q = queue.New()
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Len returns the number of pending messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.q.Len()
}
