package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
)

// SerializableErrorInfo is a captured error: its class name, message, stack
// frames and cause chain. It is plain data and safe to send across a process
// boundary or persist.
type SerializableErrorInfo struct {
	Message string                 `cbor:"message"`
	ClsName string                 `cbor:"cls_name"`
	Stack   []string               `cbor:"stack,omitempty"`
	Cause   *SerializableErrorInfo `cbor:"cause,omitempty"`
}

// String renders the error as a human-readable trace. The first line is
// always "<ClsName>: <Message>".
func (e *SerializableErrorInfo) String() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	e.writeTo(&b)
	return b.String()
}

func (e *SerializableErrorInfo) writeTo(b *strings.Builder) {
	fmt.Fprintf(b, "%s: %s\n", e.ClsName, e.Message)
	for _, frame := range e.Stack {
		b.WriteString(frame)
	}
	if e.Cause != nil {
		b.WriteString("\nThe above error was caused by the following error:\n")
		e.Cause.writeTo(b)
	}
}

// genericErrorTypes are the standard library and pkg/errors wrapper types
// that say nothing about what went wrong.
var genericErrorTypes = map[string]bool{
	"errorString": true,
	"fundamental": true,
	"withStack":   true,
	"withMessage": true,
	"wrapError":   true,
	"wrapErrors":  true,
	"joinError":   true,
}

// ClassName returns the name of err's dynamic type. Wrappers from the
// standard library and github.com/pkg/errors are looked through; a chain made
// only of plain errors.New / fmt.Errorf values is reported as "Error".
func ClassName(err error) string {
	if err == nil {
		return ""
	}
	for e := err; e != nil; e = stderrors.Unwrap(e) {
		t := reflect.TypeOf(e)
		for t.Kind() == reflect.Pointer {
			t = t.Elem()
		}
		if name := t.Name(); name != "" && !genericErrorTypes[name] {
			return name
		}
	}
	return "Error"
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

// ErrorInfoFromError captures err. The stack comes from the outermost error
// in the chain that recorded one (see github.com/pkg/errors); the cause is
// the next wrapped error whose message differs from err's.
func ErrorInfoFromError(err error) *SerializableErrorInfo {
	if err == nil {
		return nil
	}
	info := &SerializableErrorInfo{
		Message: err.Error(),
		ClsName: ClassName(err),
		Stack:   stackOf(err),
	}
	if cause := nextCause(err); cause != nil {
		info.Cause = ErrorInfoFromError(cause)
	}
	return info
}

func stackOf(err error) []string {
	var st stackTracer
	if !stderrors.As(err, &st) {
		return nil
	}
	frames := st.StackTrace()
	out := make([]string, 0, len(frames))
	for _, f := range frames {
		out = append(out, fmt.Sprintf("  %n (%s:%d)\n", f, f, f))
	}
	return out
}

func nextCause(err error) error {
	msg := err.Error()
	for c := stderrors.Unwrap(err); c != nil; c = stderrors.Unwrap(c) {
		if c.Error() != msg {
			return c
		}
	}
	return nil
}

// InterruptedClassName is the ClsName of captured interrupts.
const InterruptedClassName = "InterruptedError"

// InterruptedError reports that work was stopped on request.
type InterruptedError struct {
	Reason string
}

func (e *InterruptedError) Error() string {
	if e.Reason == "" {
		return "interrupted"
	}
	return "interrupted: " + e.Reason
}

// Is makes every InterruptedError match ErrInterrupted.
func (e *InterruptedError) Is(target error) bool {
	_, ok := target.(*InterruptedError)
	return ok
}

// ErrInterrupted matches any InterruptedError via errors.Is.
var ErrInterrupted error = &InterruptedError{}

// IsInterrupt reports whether err is an interrupt: an InterruptedError or a
// canceled context.
func IsInterrupt(err error) bool {
	return stderrors.Is(err, ErrInterrupted) || stderrors.Is(err, context.Canceled)
}

// SubprocessError aggregates faults raised by concurrently executing
// workers of a single run.
type SubprocessError struct {
	Message              string
	SubprocessErrorInfos []*SerializableErrorInfo
}

func (e *SubprocessError) Error() string {
	if len(e.SubprocessErrorInfos) == 0 {
		return e.Message
	}
	parts := make([]string, 0, len(e.SubprocessErrorInfos))
	for _, info := range e.SubprocessErrorInfos {
		parts = append(parts, info.ClsName+": "+info.Message)
	}
	return e.Message + ": " + strings.Join(parts, "; ")
}

// AllInterrupted reports whether every aggregated fault is an interrupt.
// An aggregate with no causes counts as all-interrupted.
func (e *SubprocessError) AllInterrupted() bool {
	for _, info := range e.SubprocessErrorInfos {
		if info.ClsName != InterruptedClassName {
			return false
		}
	}
	return true
}
