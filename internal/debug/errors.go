package debug

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is returned when an operation is not valid in the
	// session's current lifecycle state. It is never returned for a request
	// that reached the adapter.
	ErrInvalidState = errors.New("invalid session state")

	// ErrSessionNotFound is returned for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")

	// ErrBreakpointNotFound is returned for unknown breakpoint ids.
	ErrBreakpointNotFound = errors.New("breakpoint not found")

	// ErrStaleReference is returned when a variables reference from an
	// earlier stop is used after the session stopped or resumed again.
	ErrStaleReference = errors.New("stale variables reference")

	// ErrNoAdapter is returned when a configuration has no usable adapter.
	ErrNoAdapter = errors.New("no debug adapter")

	// ErrNotSupported is returned for operations the adapter did not
	// advertise in its capabilities.
	ErrNotSupported = errors.New("not supported by adapter")
)

// StateError reports an operation attempted in the wrong state.
type StateError struct {
	Op    string
	State State
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("%s: session is %s", e.Op, e.State)
}

// Is reports whether target is ErrInvalidState.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
