package dap

import (
	"context"
	"encoding/json"
	"fmt"
)

// call sends command and decodes the response body into T.
func call[T any](ctx context.Context, c *Client, command string, args any, opts []RequestOption) (*T, error) {
	resp, err := c.SendRequest(ctx, command, args, opts...)
	if err != nil {
		return nil, err
	}
	var body T
	if err := unmarshalBody(resp.Body, &body); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", command, err)
	}
	return &body, nil
}

// exec sends command and discards the response body.
func exec(ctx context.Context, c *Client, command string, args any, opts []RequestOption) error {
	_, err := c.SendRequest(ctx, command, args, opts...)
	return err
}

// Initialize sends initialize and returns the adapter capabilities.
func (c *Client) Initialize(ctx context.Context, args InitializeRequestArguments, opts ...RequestOption) (*Capabilities, error) {
	return call[Capabilities](ctx, c, "initialize", args, opts)
}

// Launch sends launch with adapter-specific arguments.
func (c *Client) Launch(ctx context.Context, args json.RawMessage, opts ...RequestOption) error {
	return exec(ctx, c, "launch", args, opts)
}

// Attach sends attach with adapter-specific arguments.
func (c *Client) Attach(ctx context.Context, args json.RawMessage, opts ...RequestOption) error {
	return exec(ctx, c, "attach", args, opts)
}

// ConfigurationDone ends the configuration phase.
func (c *Client) ConfigurationDone(ctx context.Context, opts ...RequestOption) error {
	return exec(ctx, c, "configurationDone", nil, opts)
}

// SetBreakpoints replaces the breakpoints of one source. The result is
// positionally matched to args.Breakpoints.
func (c *Client) SetBreakpoints(ctx context.Context, args SetBreakpointsArguments, opts ...RequestOption) ([]Breakpoint, error) {
	if args.Breakpoints == nil {
		args.Breakpoints = []SourceBreakpoint{}
	}
	body, err := call[SetBreakpointsResponseBody](ctx, c, "setBreakpoints", args, opts)
	if err != nil {
		return nil, err
	}
	return body.Breakpoints, nil
}

// SetFunctionBreakpoints replaces every function breakpoint.
func (c *Client) SetFunctionBreakpoints(ctx context.Context, args SetFunctionBreakpointsArguments, opts ...RequestOption) ([]Breakpoint, error) {
	if args.Breakpoints == nil {
		args.Breakpoints = []FunctionBreakpoint{}
	}
	body, err := call[SetBreakpointsResponseBody](ctx, c, "setFunctionBreakpoints", args, opts)
	if err != nil {
		return nil, err
	}
	return body.Breakpoints, nil
}

// SetExceptionBreakpoints selects the enabled exception filters.
func (c *Client) SetExceptionBreakpoints(ctx context.Context, args SetExceptionBreakpointsArguments, opts ...RequestOption) error {
	if args.Filters == nil {
		args.Filters = []string{}
	}
	return exec(ctx, c, "setExceptionBreakpoints", args, opts)
}

// Continue resumes a thread.
func (c *Client) Continue(ctx context.Context, args ThreadArguments, opts ...RequestOption) (*ContinueResponseBody, error) {
	return call[ContinueResponseBody](ctx, c, "continue", args, opts)
}

// Next steps over.
func (c *Client) Next(ctx context.Context, args ThreadArguments, opts ...RequestOption) error {
	return exec(ctx, c, "next", args, opts)
}

// StepIn steps into.
func (c *Client) StepIn(ctx context.Context, args ThreadArguments, opts ...RequestOption) error {
	return exec(ctx, c, "stepIn", args, opts)
}

// StepOut steps out.
func (c *Client) StepOut(ctx context.Context, args ThreadArguments, opts ...RequestOption) error {
	return exec(ctx, c, "stepOut", args, opts)
}

// Pause suspends a thread.
func (c *Client) Pause(ctx context.Context, args ThreadArguments, opts ...RequestOption) error {
	return exec(ctx, c, "pause", args, opts)
}

// Threads lists the debuggee threads.
func (c *Client) Threads(ctx context.Context, opts ...RequestOption) ([]Thread, error) {
	body, err := call[ThreadsResponseBody](ctx, c, "threads", nil, opts)
	if err != nil {
		return nil, err
	}
	return body.Threads, nil
}

// StackTrace returns the frames of a thread.
func (c *Client) StackTrace(ctx context.Context, args StackTraceArguments, opts ...RequestOption) (*StackTraceResponseBody, error) {
	return call[StackTraceResponseBody](ctx, c, "stackTrace", args, opts)
}

// Scopes returns the scopes of a frame.
func (c *Client) Scopes(ctx context.Context, args ScopesArguments, opts ...RequestOption) ([]Scope, error) {
	body, err := call[ScopesResponseBody](ctx, c, "scopes", args, opts)
	if err != nil {
		return nil, err
	}
	return body.Scopes, nil
}

// Variables returns the children of a variables reference.
func (c *Client) Variables(ctx context.Context, args VariablesArguments, opts ...RequestOption) ([]Variable, error) {
	body, err := call[VariablesResponseBody](ctx, c, "variables", args, opts)
	if err != nil {
		return nil, err
	}
	return body.Variables, nil
}

// SetVariable assigns a value to a variable.
func (c *Client) SetVariable(ctx context.Context, args SetVariableArguments, opts ...RequestOption) (*SetVariableResponseBody, error) {
	return call[SetVariableResponseBody](ctx, c, "setVariable", args, opts)
}

// Evaluate evaluates an expression.
func (c *Client) Evaluate(ctx context.Context, args EvaluateArguments, opts ...RequestOption) (*EvaluateResponseBody, error) {
	return call[EvaluateResponseBody](ctx, c, "evaluate", args, opts)
}

// Source fetches adapter-held source content.
func (c *Client) Source(ctx context.Context, args SourceArguments, opts ...RequestOption) (*SourceResponseBody, error) {
	return call[SourceResponseBody](ctx, c, "source", args, opts)
}

// Restart restarts the debuggee. Arguments are adapter-specific and may be nil.
func (c *Client) Restart(ctx context.Context, args json.RawMessage, opts ...RequestOption) error {
	var a any
	if len(args) > 0 {
		a = map[string]json.RawMessage{"arguments": args}
	}
	return exec(ctx, c, "restart", a, opts)
}

// Terminate asks the debuggee to terminate.
func (c *Client) Terminate(ctx context.Context, args TerminateArguments, opts ...RequestOption) error {
	return exec(ctx, c, "terminate", args, opts)
}

// Disconnect ends the debug connection.
func (c *Client) Disconnect(ctx context.Context, args DisconnectArguments, opts ...RequestOption) error {
	return exec(ctx, c, "disconnect", args, opts)
}
