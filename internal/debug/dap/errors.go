package dap

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTimeout is returned when a request receives no response in time.
	ErrTimeout = errors.New("request timed out")

	// ErrSessionTerminated is returned for requests pending or issued after
	// the connection to the adapter closed.
	ErrSessionTerminated = errors.New("session terminated")

	// ErrAdapterRejected matches every *AdapterError.
	ErrAdapterRejected = errors.New("adapter rejected request")
)

// AdapterError is a response with success set to false.
type AdapterError struct {
	// Command is the rejected request's command.
	Command string

	// Message is the short error token from the response (e.g. "cancelled").
	Message string

	// Format is the adapter's user-facing message with variables substituted.
	Format string

	// ID is the adapter's error identifier, if any.
	ID int

	// ShowUser is the adapter's hint that the error should be displayed.
	ShowUser bool
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	detail := e.Format
	if detail == "" {
		detail = e.Message
	}
	if detail == "" {
		return fmt.Sprintf("%s failed", e.Command)
	}
	return fmt.Sprintf("%s failed: %s", e.Command, detail)
}

// Is reports whether target is ErrAdapterRejected.
func (e *AdapterError) Is(target error) bool {
	return target == ErrAdapterRejected
}

// Text returns the most descriptive message the adapter supplied.
func (e *AdapterError) Text() string {
	if e.Format != "" {
		return e.Format
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Command + " failed"
}

// newAdapterError builds an AdapterError from a failed response.
func newAdapterError(resp *Response) *AdapterError {
	aerr := &AdapterError{
		Command: resp.Command,
		Message: resp.Message,
	}
	var body ErrorResponseBody
	if len(resp.Body) > 0 && unmarshalBody(resp.Body, &body) == nil && body.Error != nil {
		aerr.ID = body.Error.ID
		aerr.ShowUser = body.Error.ShowUser
		aerr.Format = expandFormat(body.Error.Format, body.Error.Variables)
	}
	return aerr
}

// expandFormat replaces {name} placeholders with their variable values.
func expandFormat(format string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(format, "{") {
		return format
	}
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(format)
}
