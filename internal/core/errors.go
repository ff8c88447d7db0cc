package core

import (
	"errors"
	"fmt"
)

var (
	// ErrCommandInFlight is returned when a dispatch would create a second
	// live record for the same (target, kind) pair.
	ErrCommandInFlight = errors.New("command already in flight for this target and kind")

	// ErrInvalidCommand is returned for empty target/kind/action or
	// non-scalar parameter values.
	ErrInvalidCommand = errors.New("invalid command")
)

// DispatchError wraps a record-store failure at dispatch time. The caller
// must retry explicitly; no watch was started.
type DispatchError struct {
	Path string
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch %s: %v", e.Path, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
