package dap

import (
	"encoding/json"
)

// Message types.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// ProtocolMessage is the envelope shared by all messages.
type ProtocolMessage struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"`
}

// Request is a client-to-adapter (or reverse) request.
type Request struct {
	ProtocolMessage
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response answers a request by RequestSeq.
type Response struct {
	ProtocolMessage
	RequestSeq int             `json:"request_seq"`
	Success    bool            `json:"success"`
	Command    string          `json:"command"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Event is an unsolicited adapter notification.
type Event struct {
	ProtocolMessage
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

// ErrorResponseBody is the body of a failed response.
type ErrorResponseBody struct {
	Error *ErrorMessage `json:"error,omitempty"`
}

// ErrorMessage is a structured adapter error.
type ErrorMessage struct {
	ID        int               `json:"id"`
	Format    string            `json:"format"`
	Variables map[string]string `json:"variables,omitempty"`
	ShowUser  bool              `json:"showUser,omitempty"`
}

// Capabilities describes the features an adapter supports.
type Capabilities struct {
	SupportsConfigurationDoneRequest  bool                         `json:"supportsConfigurationDoneRequest,omitempty"`
	SupportsFunctionBreakpoints       bool                         `json:"supportsFunctionBreakpoints,omitempty"`
	SupportsConditionalBreakpoints    bool                         `json:"supportsConditionalBreakpoints,omitempty"`
	SupportsHitConditionalBreakpoints bool                         `json:"supportsHitConditionalBreakpoints,omitempty"`
	SupportsEvaluateForHovers         bool                         `json:"supportsEvaluateForHovers,omitempty"`
	ExceptionBreakpointFilters        []ExceptionBreakpointsFilter `json:"exceptionBreakpointFilters,omitempty"`
	SupportsSetVariable               bool                         `json:"supportsSetVariable,omitempty"`
	SupportsRestartRequest            bool                         `json:"supportsRestartRequest,omitempty"`
	SupportTerminateDebuggee          bool                         `json:"supportTerminateDebuggee,omitempty"`
	SupportsDelayedStackTraceLoading  bool                         `json:"supportsDelayedStackTraceLoading,omitempty"`
	SupportsLogPoints                 bool                         `json:"supportsLogPoints,omitempty"`
	SupportsTerminateRequest          bool                         `json:"supportsTerminateRequest,omitempty"`
	SupportsExceptionFilterOptions    bool                         `json:"supportsExceptionFilterOptions,omitempty"`
	SupportsSingleThreadExecution     bool                         `json:"supportsSingleThreadExecutionRequests,omitempty"`
}

// Merge overlays the capabilities set in update onto c.
func (c *Capabilities) Merge(update Capabilities) {
	if update.SupportsConfigurationDoneRequest {
		c.SupportsConfigurationDoneRequest = true
	}
	if update.SupportsFunctionBreakpoints {
		c.SupportsFunctionBreakpoints = true
	}
	if update.SupportsConditionalBreakpoints {
		c.SupportsConditionalBreakpoints = true
	}
	if update.SupportsHitConditionalBreakpoints {
		c.SupportsHitConditionalBreakpoints = true
	}
	if update.SupportsEvaluateForHovers {
		c.SupportsEvaluateForHovers = true
	}
	if len(update.ExceptionBreakpointFilters) > 0 {
		c.ExceptionBreakpointFilters = update.ExceptionBreakpointFilters
	}
	if update.SupportsSetVariable {
		c.SupportsSetVariable = true
	}
	if update.SupportsRestartRequest {
		c.SupportsRestartRequest = true
	}
	if update.SupportTerminateDebuggee {
		c.SupportTerminateDebuggee = true
	}
	if update.SupportsDelayedStackTraceLoading {
		c.SupportsDelayedStackTraceLoading = true
	}
	if update.SupportsLogPoints {
		c.SupportsLogPoints = true
	}
	if update.SupportsTerminateRequest {
		c.SupportsTerminateRequest = true
	}
	if update.SupportsExceptionFilterOptions {
		c.SupportsExceptionFilterOptions = true
	}
	if update.SupportsSingleThreadExecution {
		c.SupportsSingleThreadExecution = true
	}
}

// ExceptionBreakpointsFilter is an exception filter offered by the adapter.
type ExceptionBreakpointsFilter struct {
	Filter      string `json:"filter"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// InitializeRequestArguments are sent with initialize.
type InitializeRequestArguments struct {
	ClientID                     string `json:"clientID,omitempty"`
	ClientName                   string `json:"clientName,omitempty"`
	AdapterID                    string `json:"adapterID"`
	Locale                       string `json:"locale,omitempty"`
	LinesStartAt1                bool   `json:"linesStartAt1"`
	ColumnsStartAt1              bool   `json:"columnsStartAt1"`
	PathFormat                   string `json:"pathFormat,omitempty"`
	SupportsVariableType         bool   `json:"supportsVariableType,omitempty"`
	SupportsVariablePaging       bool   `json:"supportsVariablePaging,omitempty"`
	SupportsRunInTerminalRequest bool   `json:"supportsRunInTerminalRequest,omitempty"`
}

// Source identifies a source file or adapter-provided content.
type Source struct {
	Name            string `json:"name,omitempty"`
	Path            string `json:"path,omitempty"`
	SourceReference int    `json:"sourceReference,omitempty"`
	Origin          string `json:"origin,omitempty"`
}

// SourceBreakpoint is one entry of a setBreakpoints request.
type SourceBreakpoint struct {
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty"`
	LogMessage   string `json:"logMessage,omitempty"`
}

// FunctionBreakpoint is one entry of a setFunctionBreakpoints request.
type FunctionBreakpoint struct {
	Name         string `json:"name"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hitCondition,omitempty"`
}

// Breakpoint is adapter-reported breakpoint state.
type Breakpoint struct {
	ID        int     `json:"id,omitempty"`
	Verified  bool    `json:"verified"`
	Message   string  `json:"message,omitempty"`
	Source    *Source `json:"source,omitempty"`
	Line      int     `json:"line,omitempty"`
	Column    int     `json:"column,omitempty"`
	EndLine   int     `json:"endLine,omitempty"`
	EndColumn int     `json:"endColumn,omitempty"`
}

// SetBreakpointsArguments replace every breakpoint in one source.
type SetBreakpointsArguments struct {
	Source         Source             `json:"source"`
	Breakpoints    []SourceBreakpoint `json:"breakpoints"`
	SourceModified bool               `json:"sourceModified,omitempty"`
}

// SetBreakpointsResponseBody holds one Breakpoint per requested entry, in order.
type SetBreakpointsResponseBody struct {
	Breakpoints []Breakpoint `json:"breakpoints"`
}

// SetFunctionBreakpointsArguments replace every function breakpoint.
type SetFunctionBreakpointsArguments struct {
	Breakpoints []FunctionBreakpoint `json:"breakpoints"`
}

// SetExceptionBreakpointsArguments select the enabled exception filters.
type SetExceptionBreakpointsArguments struct {
	Filters []string `json:"filters"`
}

// ThreadArguments address a single thread.
type ThreadArguments struct {
	ThreadID     int  `json:"threadId"`
	SingleThread bool `json:"singleThread,omitempty"`
}

// ContinueResponseBody is returned by continue.
type ContinueResponseBody struct {
	AllThreadsContinued *bool `json:"allThreadsContinued,omitempty"`
}

// Thread is an adapter thread.
type Thread struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ThreadsResponseBody is returned by threads.
type ThreadsResponseBody struct {
	Threads []Thread `json:"threads"`
}

// StackTraceArguments request frames for a thread.
type StackTraceArguments struct {
	ThreadID   int `json:"threadId"`
	StartFrame int `json:"startFrame,omitempty"`
	Levels     int `json:"levels,omitempty"`
}

// StackFrame is one frame of a stack trace.
type StackFrame struct {
	ID               int     `json:"id"`
	Name             string  `json:"name"`
	Source           *Source `json:"source,omitempty"`
	Line             int     `json:"line"`
	Column           int     `json:"column"`
	EndLine          int     `json:"endLine,omitempty"`
	EndColumn        int     `json:"endColumn,omitempty"`
	PresentationHint string  `json:"presentationHint,omitempty"`
}

// StackTraceResponseBody is returned by stackTrace.
type StackTraceResponseBody struct {
	StackFrames []StackFrame `json:"stackFrames"`
	TotalFrames int          `json:"totalFrames,omitempty"`
}

// ScopesArguments request the scopes of a frame.
type ScopesArguments struct {
	FrameID int `json:"frameId"`
}

// Scope is a root of the variable tree for a frame.
type Scope struct {
	Name               string `json:"name"`
	PresentationHint   string `json:"presentationHint,omitempty"`
	VariablesReference int    `json:"variablesReference"`
	NamedVariables     int    `json:"namedVariables,omitempty"`
	IndexedVariables   int    `json:"indexedVariables,omitempty"`
	Expensive          bool   `json:"expensive"`
}

// ScopesResponseBody is returned by scopes.
type ScopesResponseBody struct {
	Scopes []Scope `json:"scopes"`
}

// VariablesArguments request the children of a reference.
type VariablesArguments struct {
	VariablesReference int    `json:"variablesReference"`
	Filter             string `json:"filter,omitempty"`
	Start              int    `json:"start,omitempty"`
	Count              int    `json:"count,omitempty"`
}

// Variable is a named value, possibly with children.
type Variable struct {
	Name               string `json:"name"`
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	EvaluateName       string `json:"evaluateName,omitempty"`
	VariablesReference int    `json:"variablesReference"`
	NamedVariables     int    `json:"namedVariables,omitempty"`
	IndexedVariables   int    `json:"indexedVariables,omitempty"`
}

// VariablesResponseBody is returned by variables.
type VariablesResponseBody struct {
	Variables []Variable `json:"variables"`
}

// SetVariableArguments assign a new value to a child of a reference.
type SetVariableArguments struct {
	VariablesReference int    `json:"variablesReference"`
	Name               string `json:"name"`
	Value              string `json:"value"`
}

// SetVariableResponseBody is returned by setVariable.
type SetVariableResponseBody struct {
	Value              string `json:"value"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference,omitempty"`
}

// Evaluate contexts.
const (
	ContextWatch     = "watch"
	ContextREPL      = "repl"
	ContextHover     = "hover"
	ContextClipboard = "clipboard"
)

// EvaluateArguments evaluate an expression, optionally in a frame.
type EvaluateArguments struct {
	Expression string `json:"expression"`
	FrameID    int    `json:"frameId,omitempty"`
	Context    string `json:"context,omitempty"`
}

// EvaluateResponseBody is returned by evaluate.
type EvaluateResponseBody struct {
	Result             string `json:"result"`
	Type               string `json:"type,omitempty"`
	VariablesReference int    `json:"variablesReference"`
	NamedVariables     int    `json:"namedVariables,omitempty"`
	IndexedVariables   int    `json:"indexedVariables,omitempty"`
}

// SourceArguments request adapter-held source content.
type SourceArguments struct {
	Source          *Source `json:"source,omitempty"`
	SourceReference int     `json:"sourceReference"`
}

// SourceResponseBody is returned by source.
type SourceResponseBody struct {
	Content  string `json:"content"`
	MimeType string `json:"mimeType,omitempty"`
}

// DisconnectArguments end the debug connection.
type DisconnectArguments struct {
	Restart           bool `json:"restart,omitempty"`
	TerminateDebuggee bool `json:"terminateDebuggee,omitempty"`
}

// TerminateArguments ask the debuggee to terminate gracefully.
type TerminateArguments struct {
	Restart bool `json:"restart,omitempty"`
}

// StoppedEventBody is the body of the stopped event.
type StoppedEventBody struct {
	Reason            string `json:"reason"`
	Description       string `json:"description,omitempty"`
	ThreadID          int    `json:"threadId,omitempty"`
	PreserveFocusHint bool   `json:"preserveFocusHint,omitempty"`
	Text              string `json:"text,omitempty"`
	AllThreadsStopped bool   `json:"allThreadsStopped,omitempty"`
	HitBreakpointIDs  []int  `json:"hitBreakpointIds,omitempty"`
}

// ContinuedEventBody is the body of the continued event.
type ContinuedEventBody struct {
	ThreadID            int  `json:"threadId"`
	AllThreadsContinued bool `json:"allThreadsContinued,omitempty"`
}

// ExitedEventBody is the body of the exited event.
type ExitedEventBody struct {
	ExitCode int `json:"exitCode"`
}

// TerminatedEventBody is the body of the terminated event.
type TerminatedEventBody struct {
	Restart interface{} `json:"restart,omitempty"`
}

// ThreadEventBody is the body of the thread event.
type ThreadEventBody struct {
	Reason   string `json:"reason"`
	ThreadID int    `json:"threadId"`
}

// Output categories.
const (
	CategoryConsole   = "console"
	CategoryImportant = "important"
	CategoryStdout    = "stdout"
	CategoryStderr    = "stderr"
	CategoryTelemetry = "telemetry"
)

// OutputEventBody is the body of the output event.
type OutputEventBody struct {
	Category           string          `json:"category,omitempty"`
	Output             string          `json:"output"`
	Group              string          `json:"group,omitempty"`
	VariablesReference int             `json:"variablesReference,omitempty"`
	Source             *Source         `json:"source,omitempty"`
	Line               int             `json:"line,omitempty"`
	Column             int             `json:"column,omitempty"`
	Data               json.RawMessage `json:"data,omitempty"`
}

// BreakpointEventBody is the body of the breakpoint event.
type BreakpointEventBody struct {
	Reason     string     `json:"reason"`
	Breakpoint Breakpoint `json:"breakpoint"`
}

// CapabilitiesEventBody is the body of the capabilities event.
type CapabilitiesEventBody struct {
	Capabilities Capabilities `json:"capabilities"`
}
