package dynamo

import "errors"

var (
	// ErrSizeMismatch indicates an argument array whose length disagrees
	// with the particle count.
	ErrSizeMismatch = errors.New("dynamo: size mismatch")

	// ErrInvalidConfig indicates a negative particle count, a non-positive
	// mass on a dynamic particle, a bad permutation or a missing collaborator.
	ErrInvalidConfig = errors.New("dynamo: invalid configuration")

	// ErrUninitialized indicates per-particle access before Initialize.
	ErrUninitialized = errors.New("dynamo: model not initialized")

	// ErrNoAccelerator indicates an accelerator request that the active
	// compute backend cannot serve.
	ErrNoAccelerator = errors.New("dynamo: accelerator not available")

	// ErrInvalidState indicates NaN or Inf in the particle state.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrUnknownParam indicates a parameter name a model does not expose.
	ErrUnknownParam = errors.New("dynamo: unknown parameter")
)

// OpError records the model operation that failed.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}
