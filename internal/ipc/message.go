// Package ipc carries messages from a run worker to its controller: the
// lifecycle sentinels, engine events and setup diagnostics of one run.
package ipc

import "github.com/petrijr/pipehost/pkg/api"

// Kind discriminates the Message union.
type Kind string

const (
	// KindWorkerStarted reports that setup succeeded and execution begins.
	KindWorkerStarted Kind = "worker_started"
	// KindWorkerComplete is always the last message of a run.
	KindWorkerComplete Kind = "worker_complete"
	// KindEvent carries an engine event.
	KindEvent Kind = "event"
	// KindError carries a diagnostic that is not an engine event.
	KindError Kind = "error"
)

// ErrorMessage is a diagnostic raised before a run could produce events.
type ErrorMessage struct {
	Message string                     `cbor:"message"`
	Error   *api.SerializableErrorInfo `cbor:"error,omitempty"`
}

// Message is one item sent from worker to controller. Exactly one of Event
// and Error is set for KindEvent and KindError; sentinels carry neither.
type Message struct {
	Kind  Kind             `cbor:"kind"`
	Event *api.EngineEvent `cbor:"event,omitempty"`
	Error *ErrorMessage    `cbor:"error,omitempty"`
}

// WorkerStarted returns the started sentinel.
func WorkerStarted() Message { return Message{Kind: KindWorkerStarted} }

// WorkerComplete returns the completion sentinel.
func WorkerComplete() Message { return Message{Kind: KindWorkerComplete} }

// EventMessage wraps an engine event.
func EventMessage(ev *api.EngineEvent) Message { return Message{Kind: KindEvent, Event: ev} }

// ErrorMsg wraps a diagnostic.
func ErrorMsg(message string, info *api.SerializableErrorInfo) Message {
	return Message{Kind: KindError, Error: &ErrorMessage{Message: message, Error: info}}
}

// Handler consumes messages on the worker side. A Handler returning
// ErrChannelClosed tells the worker that its consumer detached.
type Handler func(Message) error

// Discard is a Handler that drops every message.
func Discard(Message) error { return nil }
