// Package termination carries the cancellation flag of a run and the
// watcher that turns it into an interrupt of the executing worker.
package termination

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"time"
)

// DefaultPollInterval is how often Watch checks the flag.
const DefaultPollInterval = 100 * time.Millisecond

// Event is a one-way cancellation flag shared between a controller and a
// worker. The zero value is not usable; create one with NewEvent.
type Event struct {
	once sync.Once
	done chan struct{}
}

// NewEvent returns an unset Event.
func NewEvent() *Event {
	return &Event{done: make(chan struct{})}
}

// Set raises the flag. Further calls have no effect.
func (e *Event) Set() {
	e.once.Do(func() { close(e.done) })
}

// IsSet reports whether the flag was raised.
func (e *Event) IsSet() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the flag is raised or ctx is done. It reports whether
// the flag was raised.
func (e *Event) Wait(ctx context.Context) bool {
	select {
	case <-e.done:
		return true
	case <-ctx.Done():
		return e.IsSet()
	}
}

// Watch polls ev every interval and calls interrupt exactly once after the
// flag is observed set, then stops polling. A non-positive interval uses
// DefaultPollInterval. The returned stop function ends the watch without
// interrupting; it is idempotent and waits for the watcher to exit.
func Watch(ev *Event, interval time.Duration, interrupt func()) (stop func()) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	quit := make(chan struct{})
	exited := make(chan struct{})

	go func() {
		defer close(exited)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if ev.IsSet() {
				interrupt()
				return
			}
			select {
			case <-quit:
				return
			case <-ticker.C:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(quit) })
		<-exited
	}
}

// NotifySignals sets ev when the process receives one of sigs (SIGINT and
// SIGTERM when none are given). The returned function stops the
// notification.
func NotifySignals(ev *Event, sigs ...os.Signal) (stop func()) {
	if len(sigs) == 0 {
		sigs = defaultSignals
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	quit := make(chan struct{})

	go func() {
		select {
		case <-ch:
			ev.Set()
		case <-quit:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(ch)
			close(quit)
		})
	}
}
