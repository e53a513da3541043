// Package specialist defines the boundary to domain reasoning. The
// coordinator core treats an Invoker as a black box with seconds-scale,
// nondeterministic latency and occasional failure.
package specialist

import (
	"context"
	"errors"

	"consilium/internal/message"
)

// Invoker runs one specialist request. Parameters and reqContext are opaque
// to the caller; only the specialist interprets them.
//
// Returned errors are classified with Permanent or Transient. Unclassified
// errors count as transient, so the broker retries them.
type Invoker interface {
	Invoke(ctx context.Context, requestType message.SpecialistType, parameters, reqContext map[string]any) (map[string]any, error)
}

// Func adapts a plain function to the Invoker interface.
type Func func(ctx context.Context, requestType message.SpecialistType, parameters, reqContext map[string]any) (map[string]any, error)

func (f Func) Invoke(ctx context.Context, requestType message.SpecialistType, parameters, reqContext map[string]any) (map[string]any, error) {
	return f(ctx, requestType, parameters, reqContext)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as non-retryable: invalid input, unsupported request
// type. The worker converts it into an error response instead of asking the
// broker to redeliver.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked
// Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
