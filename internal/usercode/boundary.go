// Package usercode runs operator-supplied functions under an error boundary
// that turns their faults, including panics, into typed domain errors.
package usercode

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/petrijr/pipehost/pkg/api"
)

// Boundary executes body. An error returned by body, or a panic raised in
// it, is replaced by newError(msgFn(), info, cause) where info is captured
// from the original fault. msgFn is only evaluated on failure.
//
// Only the cancellation of ctx itself passes through unwrapped: once ctx is
// done, an interrupt or an error matching ctx.Err() is returned as is. A
// Canceled or DeadlineExceeded error that body produced from a context of
// its own is a user-code fault like any other.
func Boundary[T any](ctx context.Context, newError ErrorFactory, msgFn func() string, body func() (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			result = zero
			err = wrap(newError, msgFn, errors.WithStack(&PanicError{Value: r}))
		}
	}()

	v, err := body()
	if err == nil {
		return v, nil
	}
	if passThrough(ctx, err) {
		return v, err
	}
	var zero T
	return zero, wrap(newError, msgFn, err)
}

// Do is Boundary for bodies without a result.
func Do(ctx context.Context, newError ErrorFactory, msgFn func() string, body func() error) error {
	_, err := Boundary(ctx, newError, msgFn, func() (struct{}, error) {
		return struct{}{}, body()
	})
	return err
}

func passThrough(ctx context.Context, err error) bool {
	ctxErr := ctx.Err()
	if ctxErr == nil {
		return false
	}
	return stderrors.Is(err, ctxErr) || stderrors.Is(err, api.ErrInterrupted) ||
		stderrors.Is(err, context.Cause(ctx))
}

func wrap(newError ErrorFactory, msgFn func() string, cause error) error {
	return newError(msgFn(), api.ErrorInfoFromError(cause), cause)
}
