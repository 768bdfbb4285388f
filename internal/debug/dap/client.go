// Package dap implements the Debug Adapter Protocol client.
//
// A Client correlates requests with responses by sequence number and
// dispatches adapter events to subscribers. Responses are resolved on the
// transport's read goroutine; events and closure notifications are delivered
// in arrival order on a separate goroutine, so event handlers may issue
// requests of their own.
package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/dshills/debugengine/internal/debug/transport"
	"github.com/dshills/debugengine/internal/event"
	"github.com/dshills/debugengine/internal/logging"
)

// AnyEvent subscribes to every event.
const AnyEvent = "*"

// Client is a DAP client bound to one adapter connection.
type Client struct {
	tr             *transport.Transport
	logger         *slog.Logger
	defaultTimeout time.Duration

	seq atomic.Int64

	pendingMu sync.Mutex
	pending   map[int]*pendingRequest

	handlerMu sync.RWMutex
	handlers  map[string]*event.Emitter[Event]
	closedEm  *event.Emitter[error]
	notified  atomic.Bool
	onPanic   event.EmitterOption

	queue *dispatchQueue

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.RWMutex
	err       error

	warnLimit *rate.Limiter
}

// pendingRequest tracks a request awaiting its response.
type pendingRequest struct {
	command  string
	done     chan struct{}
	once     sync.Once
	response *Response
	err      error
}

func (p *pendingRequest) resolve(resp *Response, err error) {
	p.once.Do(func() {
		p.response = resp
		p.err = err
		close(p.done)
	})
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDefaultTimeout sets the timeout for requests that do not specify one.
// Zero disables the default.
func WithDefaultTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.defaultTimeout = d
	}
}

// NewClient creates a client over tr and starts the transport.
func NewClient(tr *transport.Transport, opts ...ClientOption) *Client {
	c := &Client{
		tr:        tr,
		logger:    logging.WithComponent(logging.ComponentDAP),
		pending:   make(map[int]*pendingRequest),
		handlers:  make(map[string]*event.Emitter[Event]),
		done:      make(chan struct{}),
		warnLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.onPanic = event.WithPanicHandler(func(name string, recovered any, stack []byte) {
		c.logger.Error("event handler panic", "event", name, "panic", recovered, "stack", string(stack))
	})
	c.closedEm = event.NewEmitter[error]("closed", c.onPanic)
	c.queue = newDispatchQueue()
	go c.queue.run()

	tr.OnFrame(c.handleFrame)
	tr.OnClosed(c.handleClosed)
	tr.Start()
	return c
}

// RequestOption configures a single request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	timeout time.Duration
}

// WithTimeout bounds the request. Zero waits indefinitely.
func WithTimeout(d time.Duration) RequestOption {
	return func(rc *requestConfig) {
		rc.timeout = d
	}
}

// SendRequest sends command and waits for its response.
//
// The returned error is ErrTimeout if the timeout elapses, ErrSessionTerminated
// if the connection closes first, ctx.Err() if ctx ends first, and an
// *AdapterError if the adapter answers with success false. In every case the
// pending entry is removed and a late response is discarded.
func (c *Client) SendRequest(ctx context.Context, command string, args any, opts ...RequestOption) (*Response, error) {
	call, err := c.Go(ctx, command, args, opts...)
	if err != nil {
		return nil, err
	}
	return call.Wait()
}

// Call is a request that has been written to the adapter and may still be
// awaiting its response.
type Call struct {
	client  *Client
	ctx     context.Context
	seq     int
	command string
	timeout time.Duration
	sent    time.Time
	p       *pendingRequest
}

// Go writes command to the adapter and returns without waiting for the
// response. An error means nothing was sent. The caller must call Wait.
func (c *Client) Go(ctx context.Context, command string, args any, opts ...RequestOption) (*Call, error) {
	rc := requestConfig{timeout: c.defaultTimeout}
	for _, opt := range opts {
		opt(&rc)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var argsJSON json.RawMessage
	if args != nil {
		var err error
		argsJSON, err = marshalArgs(args)
		if err != nil {
			return nil, fmt.Errorf("marshal %s arguments: %w", command, err)
		}
	}

	seq := int(c.seq.Add(1))
	payload, err := json.Marshal(Request{
		ProtocolMessage: ProtocolMessage{Seq: seq, Type: TypeRequest},
		Command:         command,
		Arguments:       argsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", command, err)
	}

	p := &pendingRequest{command: command, done: make(chan struct{})}

	c.pendingMu.Lock()
	if c.isClosed() {
		c.pendingMu.Unlock()
		return nil, fmt.Errorf("%s: %w", command, ErrSessionTerminated)
	}
	c.pending[seq] = p
	c.pendingMu.Unlock()

	c.logger.Debug("request", "seq", seq, "command", command)
	sent := time.Now()
	if err := c.tr.Send(payload); err != nil {
		c.removePending(seq)
		return nil, fmt.Errorf("%s: %w: %v", command, ErrSessionTerminated, err)
	}

	return &Call{
		client:  c,
		ctx:     ctx,
		seq:     seq,
		command: command,
		timeout: rc.timeout,
		sent:    sent,
		p:       p,
	}, nil
}

// Seq returns the request sequence number.
func (call *Call) Seq() int {
	return call.seq
}

// Wait blocks until the response arrives, the timeout measured from the
// send elapses, the connection closes, or the request context ends.
func (call *Call) Wait() (*Response, error) {
	var timeout <-chan time.Time
	if call.timeout > 0 {
		timer := time.NewTimer(call.timeout - time.Since(call.sent))
		defer timer.Stop()
		timeout = timer.C
	}

	p := call.p
	select {
	case <-p.done:
		if p.err != nil {
			return nil, p.err
		}
		if !p.response.Success {
			return p.response, newAdapterError(p.response)
		}
		return p.response, nil
	case <-timeout:
		call.client.removePending(call.seq)
		return nil, fmt.Errorf("%s: %w after %s", call.command, ErrTimeout, call.timeout)
	case <-call.ctx.Done():
		call.client.removePending(call.seq)
		return nil, call.ctx.Err()
	}
}

func marshalArgs(args any) (json.RawMessage, error) {
	switch v := args.(type) {
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		return json.Marshal(args)
	}
}

func (c *Client) removePending(seq int) {
	c.pendingMu.Lock()
	delete(c.pending, seq)
	c.pendingMu.Unlock()
}

// PendingCount returns the number of requests awaiting a response.
func (c *Client) PendingCount() int {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	return len(c.pending)
}

// handleFrame runs on the transport's read goroutine.
func (c *Client) handleFrame(payload []byte) {
	fields := gjson.GetManyBytes(payload, "type", "request_seq", "event", "command", "seq")
	switch fields[0].String() {
	case TypeResponse:
		c.handleResponse(int(fields[1].Int()), payload)
	case TypeEvent:
		c.handleEvent(fields[2].String(), payload)
	case TypeRequest:
		c.handleReverseRequest(int(fields[4].Int()), fields[3].String())
	default:
		c.warn("discarding message with unknown type", "type", fields[0].String())
	}
}

func (c *Client) handleResponse(requestSeq int, payload []byte) {
	c.pendingMu.Lock()
	p, ok := c.pending[requestSeq]
	if ok {
		delete(c.pending, requestSeq)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.warn("discarding response for unknown request", "request_seq", requestSeq)
		return
	}

	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		p.resolve(nil, fmt.Errorf("decode %s response: %w", p.command, err))
		return
	}
	c.logger.Debug("response", "request_seq", requestSeq, "command", resp.Command, "success", resp.Success)
	p.resolve(&resp, nil)
}

func (c *Client) handleEvent(name string, payload []byte) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		c.warn("discarding undecodable event", "event", name, "error", err)
		return
	}
	c.logger.Debug("event", "event", name)
	c.queue.push(func() { c.dispatchEvent(evt) })
}

func (c *Client) dispatchEvent(evt Event) {
	c.handlerMu.RLock()
	named := c.handlers[evt.Event]
	wildcard := c.handlers[AnyEvent]
	c.handlerMu.RUnlock()

	if named != nil {
		named.Emit(evt)
	}
	if wildcard != nil {
		wildcard.Emit(evt)
	}
}

// handleReverseRequest declines adapter-initiated requests such as
// runInTerminal and startDebugging.
func (c *Client) handleReverseRequest(seq int, command string) {
	c.logger.Info("declining reverse request", "command", command)
	payload, err := json.Marshal(Response{
		ProtocolMessage: ProtocolMessage{Seq: int(c.seq.Add(1)), Type: TypeResponse},
		RequestSeq:      seq,
		Success:         false,
		Command:         command,
		Message:         "not supported",
	})
	if err != nil {
		return
	}
	go func() {
		if err := c.tr.Send(payload); err != nil {
			c.logger.Debug("reverse response not sent", "command", command, "error", err)
		}
	}()
}

func (c *Client) warn(msg string, args ...any) {
	if c.warnLimit.Allow() {
		c.logger.Warn(msg, args...)
		return
	}
	c.logger.Debug(msg, args...)
}

// handleClosed fails every pending request and notifies OnClosed
// subscribers after all previously received events.
func (c *Client) handleClosed(cause error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()

		c.pendingMu.Lock()
		pending := c.pending
		c.pending = make(map[int]*pendingRequest)
		close(c.done)
		c.pendingMu.Unlock()

		for _, p := range pending {
			p.resolve(nil, fmt.Errorf("%s: %w", p.command, ErrSessionTerminated))
		}

		if cause != nil {
			c.logger.Warn("adapter connection lost", "error", cause)
		} else {
			c.logger.Debug("adapter connection closed")
		}

		c.queue.push(func() {
			c.notified.Store(true)
			c.closedEm.Emit(cause)
			c.closedEm.Close()
		})
		c.queue.stop()
	})
}

func (c *Client) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// OnEvent subscribes fn to events named name, or to every event for AnyEvent.
func (c *Client) OnEvent(name string, fn func(Event)) event.Subscription {
	c.handlerMu.Lock()
	em, ok := c.handlers[name]
	if !ok {
		em = event.NewEmitter[Event](name, c.onPanic)
		c.handlers[name] = em
	}
	c.handlerMu.Unlock()
	return em.Subscribe(fn)
}

// OnClosed subscribes to connection closure. The cause is nil for an orderly
// close. Subscribing after closure calls fn immediately.
func (c *Client) OnClosed(fn func(error)) event.Subscription {
	var once sync.Once
	call := func(cause error) {
		once.Do(func() { fn(cause) })
	}
	sub := c.closedEm.Subscribe(call)
	if !sub.Active() || c.notified.Load() {
		call(c.Err())
	}
	return sub
}

// Done is closed when the connection has closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the closure cause.
func (c *Client) Err() error {
	c.errMu.RLock()
	defer c.errMu.RUnlock()
	return c.err
}

// Close closes the transport. Pending requests fail with ErrSessionTerminated.
func (c *Client) Close() error {
	return c.tr.Close()
}

// DecodeBody unmarshals an event body into T.
func DecodeBody[T any](evt Event) (T, error) {
	var body T
	if err := unmarshalBody(evt.Body, &body); err != nil {
		return body, fmt.Errorf("decode %s event: %w", evt.Event, err)
	}
	return body, nil
}

func unmarshalBody(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, v)
}

// dispatchQueue runs queued functions one at a time in push order.
type dispatchQueue struct {
	mu      sync.Mutex
	items   []func()
	wake    chan struct{}
	stopped bool
}

func newDispatchQueue() *dispatchQueue {
	return &dispatchQueue{wake: make(chan struct{}, 1)}
}

func (q *dispatchQueue) push(fn func()) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// stop lets the queue drain and exit. Later pushes are dropped.
func (q *dispatchQueue) stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *dispatchQueue) run() {
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		stopped := q.stopped
		q.mu.Unlock()

		for _, fn := range items {
			fn()
		}

		if len(items) == 0 {
			if stopped {
				return
			}
			<-q.wake
		}
	}
}
