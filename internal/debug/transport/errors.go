package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Send after the transport has closed.
	ErrClosed = errors.New("transport closed")

	// ErrFraming matches every *FramingError.
	ErrFraming = errors.New("framing error")
)

// FramingError reports a corrupt, truncated or oversized frame.
type FramingError struct {
	// Codec is the name of the codec that rejected the frame.
	Codec string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *FramingError) Error() string {
	return fmt.Sprintf("%s framing: %v", e.Codec, e.Err)
}

// Unwrap returns the underlying cause.
func (e *FramingError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrFraming.
func (e *FramingError) Is(target error) bool {
	return target == ErrFraming
}
