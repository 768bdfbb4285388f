// Package daptest provides a scriptable in-process debug adapter for tests.
//
// The adapter speaks the real DAP wire format over one end of a net.Pipe.
// Every request is recorded; commands without a registered handler get a
// canned successful reply.
package daptest

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-dap"
)

// Request is a request received by the fake adapter.
type Request struct {
	Seq       int
	Command   string
	Arguments json.RawMessage

	// Message is the request decoded into its go-dap type, or nil if
	// go-dap does not know the command.
	Message dap.Message
}

// Handler answers a request. It must call one of the Adapter reply methods
// unless it wants the request to go unanswered.
type Handler func(a *Adapter, req *Request)

// Adapter is a fake debug adapter.
type Adapter struct {
	conn   net.Conn
	reader *bufio.Reader

	writeMu sync.Mutex
	seq     int

	mu        sync.Mutex
	handlers  map[string]Handler
	requests  []*Request
	responses []json.RawMessage
	changed   chan struct{}

	// Capabilities are returned by the default initialize handler.
	Capabilities dap.Capabilities

	// Threads are returned by the default threads handler.
	Threads []dap.Thread

	done chan struct{}
}

// New starts a fake adapter. The returned connection is the client end.
// The adapter is closed when the test ends.
func New(t testing.TB) (*Adapter, net.Conn) {
	t.Helper()

	server, client := net.Pipe()
	a := &Adapter{
		conn:     server,
		reader:   bufio.NewReader(server),
		handlers: make(map[string]Handler),
		changed:  make(chan struct{}),
		Threads:  []dap.Thread{{Id: 1, Name: "main"}},
		done:     make(chan struct{}),
	}
	a.Capabilities.SupportsConfigurationDoneRequest = true

	go a.serve()
	t.Cleanup(func() { a.Close() })
	return a, client
}

// Handle registers h for command, replacing the default behavior.
func (a *Adapter) Handle(command string, h Handler) {
	a.mu.Lock()
	a.handlers[command] = h
	a.mu.Unlock()
}

// Close closes the adapter end of the connection.
func (a *Adapter) Close() {
	_ = a.conn.Close()
}

// Done is closed when the serve loop exits.
func (a *Adapter) Done() <-chan struct{} {
	return a.done
}

func (a *Adapter) serve() {
	defer close(a.done)
	for {
		raw, err := dap.ReadBaseMessage(a.reader)
		if err != nil {
			return
		}

		var envelope struct {
			Seq       int             `json:"seq"`
			Type      string          `json:"type"`
			Command   string          `json:"command"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if envelope.Type == "response" {
			a.mu.Lock()
			a.responses = append(a.responses, raw)
			close(a.changed)
			a.changed = make(chan struct{})
			a.mu.Unlock()
			continue
		}
		if envelope.Type != "request" {
			continue
		}

		req := &Request{
			Seq:       envelope.Seq,
			Command:   envelope.Command,
			Arguments: envelope.Arguments,
		}
		if msg, err := dap.DecodeProtocolMessage(raw); err == nil {
			req.Message = msg
		}

		a.mu.Lock()
		a.requests = append(a.requests, req)
		close(a.changed)
		a.changed = make(chan struct{})
		h := a.handlers[req.Command]
		a.mu.Unlock()

		if h == nil {
			h = defaultHandler(req.Command)
		}
		h(a, req)
	}
}

func defaultHandler(command string) Handler {
	switch command {
	case "initialize":
		return func(a *Adapter, req *Request) {
			a.Respond(req, a.Capabilities)
			a.Initialized()
		}
	case "setBreakpoints":
		return func(a *Adapter, req *Request) {
			var args dap.SetBreakpointsArguments
			_ = json.Unmarshal(req.Arguments, &args)
			a.Respond(req, dap.SetBreakpointsResponseBody{Breakpoints: VerifyAll(args.Breakpoints)})
		}
	case "setFunctionBreakpoints":
		return func(a *Adapter, req *Request) {
			var args dap.SetFunctionBreakpointsArguments
			_ = json.Unmarshal(req.Arguments, &args)
			bps := make([]dap.Breakpoint, len(args.Breakpoints))
			for i := range bps {
				bps[i] = dap.Breakpoint{Verified: true}
			}
			a.Respond(req, dap.SetFunctionBreakpointsResponseBody{Breakpoints: bps})
		}
	case "threads":
		return func(a *Adapter, req *Request) {
			a.Respond(req, dap.ThreadsResponseBody{Threads: a.Threads})
		}
	default:
		return func(a *Adapter, req *Request) {
			a.Respond(req, nil)
		}
	}
}

// VerifyAll returns one verified breakpoint per source breakpoint, in order.
func VerifyAll(in []dap.SourceBreakpoint) []dap.Breakpoint {
	out := make([]dap.Breakpoint, len(in))
	for i, bp := range in {
		out[i] = dap.Breakpoint{Id: i + 1, Verified: true, Line: bp.Line}
	}
	return out
}

type response struct {
	dap.Response
	Body any `json:"body,omitempty"`
}

type errorResponse struct {
	dap.Response
	Body struct {
		Error struct {
			ID     int    `json:"id"`
			Format string `json:"format"`
		} `json:"error"`
	} `json:"body"`
}

// Respond sends a successful response with body, which may be nil.
func (a *Adapter) Respond(req *Request, body any) {
	resp := &response{Body: body}
	resp.Type = "response"
	resp.Command = req.Command
	resp.RequestSeq = req.Seq
	resp.Success = true
	a.send(resp)
}

// RespondSeq sends a successful response for an arbitrary request sequence.
func (a *Adapter) RespondSeq(requestSeq int, command string) {
	a.Respond(&Request{Seq: requestSeq, Command: command}, nil)
}

// Fail sends a failed response with a user-facing message.
func (a *Adapter) Fail(req *Request, message string) {
	resp := &errorResponse{}
	resp.Type = "response"
	resp.Command = req.Command
	resp.RequestSeq = req.Seq
	resp.Success = false
	resp.Message = "failed"
	resp.Body.Error.ID = 1000
	resp.Body.Error.Format = message
	a.send(resp)
}

// Send writes any protocol message as is.
func (a *Adapter) Send(msg dap.Message) {
	a.send(msg)
}

func (a *Adapter) send(msg dap.Message) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	switch m := msg.(type) {
	case *response:
		a.seq++
		m.Seq = a.seq
	case *errorResponse:
		a.seq++
		m.Seq = a.seq
	}
	_ = dap.WriteProtocolMessage(a.conn, msg)
}

// SendJSON writes payload as one framed message.
func (a *Adapter) SendJSON(payload []byte) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_ = dap.WriteBaseMessage(a.conn, payload)
}

// WriteRaw writes bytes to the client unframed.
func (a *Adapter) WriteRaw(b []byte) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	_, _ = a.conn.Write(b)
}

func (a *Adapter) nextEventSeq() int {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	a.seq++
	return a.seq
}

func (a *Adapter) event(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: a.nextEventSeq(), Type: "event"},
		Event:           name,
	}
}

// Initialized sends the initialized event.
func (a *Adapter) Initialized() {
	a.Send(&dap.InitializedEvent{Event: a.event("initialized")})
}

// Stopped sends a stopped event for threadID.
func (a *Adapter) Stopped(threadID int, reason string) {
	a.Send(&dap.StoppedEvent{
		Event: a.event("stopped"),
		Body:  dap.StoppedEventBody{Reason: reason, ThreadId: threadID, AllThreadsStopped: true},
	})
}

// Continued sends a continued event for threadID.
func (a *Adapter) Continued(threadID int) {
	a.Send(&dap.ContinuedEvent{
		Event: a.event("continued"),
		Body:  dap.ContinuedEventBody{ThreadId: threadID, AllThreadsContinued: true},
	})
}

// Output sends an output event.
func (a *Adapter) Output(category, text string) {
	a.Send(&dap.OutputEvent{
		Event: a.event("output"),
		Body:  dap.OutputEventBody{Category: category, Output: text},
	})
}

// Thread sends a thread event.
func (a *Adapter) Thread(reason string, threadID int) {
	a.Send(&dap.ThreadEvent{
		Event: a.event("thread"),
		Body:  dap.ThreadEventBody{Reason: reason, ThreadId: threadID},
	})
}

// BreakpointChanged sends a breakpoint event with reason "changed".
func (a *Adapter) BreakpointChanged(bp dap.Breakpoint) {
	a.Send(&dap.BreakpointEvent{
		Event: a.event("breakpoint"),
		Body:  dap.BreakpointEventBody{Reason: "changed", Breakpoint: bp},
	})
}

// Exited sends an exited event.
func (a *Adapter) Exited(code int) {
	a.Send(&dap.ExitedEvent{
		Event: a.event("exited"),
		Body:  dap.ExitedEventBody{ExitCode: code},
	})
}

// Terminated sends a terminated event.
func (a *Adapter) Terminated() {
	a.Send(&dap.TerminatedEvent{Event: a.event("terminated")})
}

// Requests returns the recorded requests in arrival order.
func (a *Adapter) Requests() []*Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*Request(nil), a.requests...)
}

// Commands returns the recorded request commands in arrival order.
func (a *Adapter) Commands() []string {
	reqs := a.Requests()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Command
	}
	return out
}

// ClientResponses returns the responses the client sent to reverse requests.
func (a *Adapter) ClientResponses() []json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]json.RawMessage(nil), a.responses...)
}

// WaitForResponse blocks until the client has sent n responses.
func (a *Adapter) WaitForResponse(t testing.TB, n int, timeout time.Duration) []json.RawMessage {
	t.Helper()
	deadline := time.After(timeout)
	for {
		a.mu.Lock()
		changed := a.changed
		got := append([]json.RawMessage(nil), a.responses...)
		a.mu.Unlock()

		if len(got) >= n {
			return got
		}
		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("timed out waiting for %d client responses; got %d", n, len(got))
			return nil
		}
	}
}

// RequestsFor returns the recorded requests for command.
func (a *Adapter) RequestsFor(command string) []*Request {
	var out []*Request
	for _, r := range a.Requests() {
		if r.Command == command {
			out = append(out, r)
		}
	}
	return out
}

// WaitFor blocks until n requests for command have arrived and returns them.
// It fails the test after timeout.
func (a *Adapter) WaitFor(t testing.TB, command string, n int, timeout time.Duration) []*Request {
	t.Helper()
	deadline := time.After(timeout)
	for {
		a.mu.Lock()
		changed := a.changed
		a.mu.Unlock()

		if reqs := a.RequestsFor(command); len(reqs) >= n {
			return reqs
		}

		select {
		case <-changed:
		case <-deadline:
			t.Fatalf("timed out waiting for %d %q requests; got %v", n, command, a.Commands())
			return nil
		}
	}
}
