package debug

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"github.com/dshills/debugengine/internal/config"
	"github.com/dshills/debugengine/internal/debug/dap"
	"github.com/dshills/debugengine/internal/event"
)

// sessionIDField is stamped into launch and attach arguments.
const sessionIDField = "__sessionId"

// StopEvent is delivered to OnDidStop subscribers.
type StopEvent struct {
	Session           *Session
	ThreadID          int
	Reason            string
	Description       string
	AllThreadsStopped bool
	HitBreakpointIDs  []int
}

// Session is one debug connection and its lifecycle.
//
// Adapter events are applied on the client's dispatch goroutine in arrival
// order. Operations may be called from any goroutine.
type Session struct {
	id     string
	cfg    Configuration
	client *dap.Client
	conn   io.Closer
	logger *slog.Logger

	clientInfo        config.ClientSettings
	requestTimeout    time.Duration
	handshakeTimeout  time.Duration
	disconnectTimeout time.Duration

	breakpoints *BreakpointManager
	console     *Console
	vars        *VariableCache

	// pushMu serializes breakpoint pushes to this session. bpReady is
	// guarded by it and set once the handshake reaches configuration.
	pushMu  sync.Mutex
	bpReady bool

	mu          sync.Mutex
	state       State
	caps        dap.Capabilities
	threads     *threadTable
	focusThread int
	focusFrame  int
	exitCode    *int
	stopCount   uint64
	cause       error

	initialized chan struct{}
	initOnce    sync.Once
	terminated  chan struct{}
	termOnce    sync.Once

	stateEm *event.Emitter[StateChange]
	stopEm  *event.Emitter[StopEvent]
	termEm  *event.Emitter[*Session]

	subs []event.Subscription
}

type sessionParams struct {
	id          string
	cfg         Configuration
	client      *dap.Client
	conn        io.Closer
	settings    config.Settings
	breakpoints *BreakpointManager
	console     *Console
	logger      *slog.Logger
}

func newSession(p sessionParams) *Session {
	s := &Session{
		id:                p.id,
		cfg:               p.cfg.clone(),
		client:            p.client,
		conn:              p.conn,
		logger:            p.logger,
		clientInfo:        p.settings.Client,
		requestTimeout:    p.settings.Timeouts.Request.Std(),
		handshakeTimeout:  p.settings.Timeouts.Handshake.Std(),
		disconnectTimeout: p.settings.Timeouts.Disconnect.Std(),
		breakpoints:       p.breakpoints,
		console:           p.console,
		vars:              NewVariableCache(p.id, p.client),
		threads:           newThreadTable(),
		initialized:       make(chan struct{}),
		terminated:        make(chan struct{}),
		stateEm:           event.NewEmitter[StateChange]("session.state", event.WithPanicHandler(logPanic)),
		stopEm:            event.NewEmitter[StopEvent]("session.stop", event.WithPanicHandler(logPanic)),
		termEm:            event.NewEmitter[*Session]("session.terminate", event.WithPanicHandler(logPanic)),
	}
	s.subscribe()
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Configuration returns the configuration the session was created from.
func (s *Session) Configuration() Configuration {
	return s.cfg.clone()
}

// Name returns the configuration name.
func (s *Session) Name() string {
	return s.cfg.Name
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Capabilities returns the adapter capabilities.
func (s *Session) Capabilities() dap.Capabilities {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps
}

// ExitCode returns the debuggee exit code, if the adapter reported one.
func (s *Session) ExitCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.exitCode == nil {
		return 0, false
	}
	return *s.exitCode, true
}

// Err returns why the session terminated, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

// Done is closed once the session has terminated.
func (s *Session) Done() <-chan struct{} {
	return s.terminated
}

// VariableCache returns the session's variable cache.
func (s *Session) VariableCache() *VariableCache {
	return s.vars
}

// OnDidChangeState subscribes to lifecycle transitions.
func (s *Session) OnDidChangeState(fn func(StateChange)) event.Subscription {
	return s.stateEm.Subscribe(fn)
}

// OnDidStop subscribes to stopped events.
func (s *Session) OnDidStop(fn func(StopEvent)) event.Subscription {
	return s.stopEm.Subscribe(fn)
}

// OnDidTerminate subscribes to termination. It fires once.
func (s *Session) OnDidTerminate(fn func(*Session)) event.Subscription {
	return s.termEm.Subscribe(fn)
}

// transition moves from one state to another and reports whether it did.
func (s *Session) transition(from, to State) bool {
	s.mu.Lock()
	if s.state != from {
		s.mu.Unlock()
		return false
	}
	s.state = to
	s.mu.Unlock()
	s.notifyState(from, to)
	return true
}

func (s *Session) notifyState(from, to State) {
	s.logger.Debug("session state", "from", from.String(), "to", to.String())
	s.stateEm.Emit(StateChange{Session: s, From: from, To: to})
}

// require fails with a StateError unless the session is in one of states.
func (s *Session) require(op string, states ...State) error {
	s.mu.Lock()
	cur := s.state
	s.mu.Unlock()
	for _, st := range states {
		if cur == st {
			return nil
		}
	}
	return &StateError{Op: op, State: cur}
}

func (s *Session) requireLive(op string) error {
	return s.require(op, StateInitializing, StateRunning, StateStopped)
}

// Start runs the adapter handshake: initialize, launch or attach,
// breakpoint configuration and configurationDone. Any failure terminates
// the session and is returned as a single error.
func (s *Session) Start(ctx context.Context) error {
	if !s.transition(StateInactive, StateInitializing) {
		return &StateError{Op: "start", State: s.State()}
	}
	if err := s.handshake(ctx); err != nil {
		s.logger.Error("session failed to start", "error", err)
		s.terminate(err)
		return fmt.Errorf("start %q: %w", s.cfg.Name, err)
	}
	s.logger.Info("session started", "request", s.cfg.Request)
	return nil
}

func (s *Session) initializeArguments() dap.InitializeRequestArguments {
	return dap.InitializeRequestArguments{
		ClientID:               s.clientInfo.ID,
		ClientName:             s.clientInfo.Name,
		AdapterID:              s.cfg.Type,
		Locale:                 s.clientInfo.Locale,
		LinesStartAt1:          true,
		ColumnsStartAt1:        true,
		PathFormat:             "path",
		SupportsVariableType:   true,
		SupportsVariablePaging: true,
	}
}

// requestArguments returns the launch or attach arguments with the session
// id added.
func (s *Session) requestArguments() (json.RawMessage, error) {
	raw := []byte("{}")
	if len(s.cfg.Arguments) > 0 {
		raw = append([]byte(nil), s.cfg.Arguments...)
	}
	out, err := sjson.SetBytes(raw, sessionIDField, s.id)
	if err != nil {
		return nil, fmt.Errorf("%s arguments: %w", s.cfg.Request, err)
	}
	return out, nil
}

func (s *Session) handshake(ctx context.Context) error {
	hs := dap.WithTimeout(s.handshakeTimeout)

	caps, err := s.client.Initialize(ctx, s.initializeArguments(), hs)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	s.mu.Lock()
	s.caps = *caps
	s.mu.Unlock()
	s.breakpoints.registerExceptionFilters(caps.ExceptionBreakpointFilters)

	args, err := s.requestArguments()
	if err != nil {
		return err
	}
	call, err := s.client.Go(ctx, s.cfg.Request, args, hs)
	if err != nil {
		return fmt.Errorf("%s: %w", s.cfg.Request, err)
	}
	launched := make(chan error, 1)
	go func() {
		_, err := call.Wait()
		launched <- err
	}()

	acked := false
	var timeout <-chan time.Time
	if s.handshakeTimeout > 0 {
		timer := time.NewTimer(s.handshakeTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case <-s.initialized:
	case err := <-launched:
		if err != nil {
			return fmt.Errorf("%s: %w", s.cfg.Request, err)
		}
		acked = true
	case <-timeout:
		return fmt.Errorf("waiting for initialized event: %w", dap.ErrTimeout)
	case <-s.client.Done():
		return fmt.Errorf("waiting for initialized event: %w", dap.ErrSessionTerminated)
	case <-ctx.Done():
		return ctx.Err()
	}

	s.pushMu.Lock()
	err = s.breakpoints.configure(ctx, s)
	s.pushMu.Unlock()
	if err != nil {
		if fatalHandshakeError(err) {
			return fmt.Errorf("configure breakpoints: %w", err)
		}
		s.logger.Warn("breakpoint configuration rejected", "error", err)
	}

	if s.Capabilities().SupportsConfigurationDoneRequest {
		if err := s.client.ConfigurationDone(ctx, hs); err != nil {
			return fmt.Errorf("configurationDone: %w", err)
		}
	}

	if !acked {
		if err := <-launched; err != nil {
			return fmt.Errorf("%s: %w", s.cfg.Request, err)
		}
	}
	s.transition(StateInitializing, StateRunning)
	return nil
}

// fatalHandshakeError separates lost or unresponsive adapters from
// rejected breakpoints, which only leave breakpoints unverified.
func fatalHandshakeError(err error) bool {
	return errors.Is(err, dap.ErrTimeout) ||
		errors.Is(err, dap.ErrSessionTerminated) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Continue resumes threadID, or every thread if the adapter says so.
func (s *Session) Continue(ctx context.Context, threadID int) error {
	if err := s.require("continue", StateStopped); err != nil {
		return err
	}
	stops := s.stopGeneration()
	resp, err := s.client.Continue(ctx, dap.ThreadArguments{ThreadID: threadID})
	if err != nil {
		return err
	}
	all := resp.AllThreadsContinued == nil || *resp.AllThreadsContinued
	s.resumed(stops, threadID, all)
	return nil
}

// StepOver steps threadID over the current line.
func (s *Session) StepOver(ctx context.Context, threadID int) error {
	return s.step(ctx, "next", threadID, s.client.Next)
}

// StepIn steps threadID into the call on the current line.
func (s *Session) StepIn(ctx context.Context, threadID int) error {
	return s.step(ctx, "stepIn", threadID, s.client.StepIn)
}

// StepOut runs threadID until the current function returns.
func (s *Session) StepOut(ctx context.Context, threadID int) error {
	return s.step(ctx, "stepOut", threadID, s.client.StepOut)
}

func (s *Session) step(ctx context.Context, op string, threadID int,
	send func(context.Context, dap.ThreadArguments, ...dap.RequestOption) error) error {
	if err := s.require(op, StateStopped); err != nil {
		return err
	}
	stops := s.stopGeneration()
	if err := send(ctx, dap.ThreadArguments{ThreadID: threadID}); err != nil {
		return err
	}
	s.resumed(stops, threadID, true)
	return nil
}

// Pause suspends threadID. The state changes when the stopped event arrives.
func (s *Session) Pause(ctx context.Context, threadID int) error {
	if err := s.require("pause", StateRunning); err != nil {
		return err
	}
	return s.client.Pause(ctx, dap.ThreadArguments{ThreadID: threadID})
}

// Restart restarts the debuggee when the adapter supports it.
func (s *Session) Restart(ctx context.Context) error {
	if err := s.require("restart", StateRunning, StateStopped); err != nil {
		return err
	}
	if !s.Capabilities().SupportsRestartRequest {
		return fmt.Errorf("restart: %w", ErrNotSupported)
	}
	args, err := s.requestArguments()
	if err != nil {
		return err
	}
	body, err := sjson.SetRawBytes([]byte(`{}`), "arguments", args)
	if err != nil {
		return fmt.Errorf("restart arguments: %w", err)
	}
	stops := s.stopGeneration()
	if err := s.client.Restart(ctx, body); err != nil {
		return err
	}
	s.resumed(stops, 0, true)
	return nil
}

// Terminate asks the debuggee to end. Adapters without a terminate request
// are disconnected with terminateDebuggee set.
func (s *Session) Terminate(ctx context.Context) error {
	if s.State() == StateTerminated {
		return nil
	}
	if s.Capabilities().SupportsTerminateRequest {
		err := s.client.Terminate(ctx, dap.TerminateArguments{}, dap.WithTimeout(s.disconnectTimeout))
		if err == nil || !errors.Is(err, dap.ErrAdapterRejected) {
			return ignoreClosed(err)
		}
		s.logger.Debug("terminate rejected, disconnecting", "error", err)
	}
	return s.Disconnect(ctx, true)
}

// Disconnect ends the connection and terminates the session.
func (s *Session) Disconnect(ctx context.Context, terminateDebuggee bool) error {
	if s.State() == StateTerminated {
		return nil
	}
	err := s.client.Disconnect(ctx, dap.DisconnectArguments{TerminateDebuggee: terminateDebuggee},
		dap.WithTimeout(s.disconnectTimeout))
	s.terminate(nil)
	return ignoreClosed(err)
}

func ignoreClosed(err error) error {
	if errors.Is(err, dap.ErrSessionTerminated) {
		return nil
	}
	return err
}

// Evaluate evaluates expression in frameID. Adapter rejections and timeouts
// do not fail the call: they are reported on the console and returned in
// the node's Err. REPL evaluations are echoed to the console.
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (*ExpressionNode, error) {
	if err := s.requireLive("evaluate"); err != nil {
		return nil, err
	}
	node, err := s.vars.Evaluate(ctx, expression, frameID, evalContext)
	if err != nil {
		if !errors.Is(err, dap.ErrAdapterRejected) && !errors.Is(err, dap.ErrTimeout) {
			return nil, err
		}
		node = &ExpressionNode{Key: "expr:" + expression, Name: expression, Err: err}
		if evalContext != dap.ContextREPL {
			s.console.AppendError(s.id, expression+": "+errorText(err))
		}
	}
	if evalContext == dap.ContextREPL {
		s.console.AppendResult(s.id, node)
	}
	return node, nil
}

func errorText(err error) string {
	var aerr *dap.AdapterError
	if errors.As(err, &aerr) {
		return aerr.Text()
	}
	return err.Error()
}

// Scopes returns the scopes of frameID.
func (s *Session) Scopes(ctx context.Context, frameID int) ([]*ExpressionNode, error) {
	if err := s.require("scopes", StateStopped); err != nil {
		return nil, err
	}
	return s.vars.Scopes(ctx, frameID)
}

// Children expands ref. A reference from an earlier stop fails with
// ErrStaleReference.
func (s *Session) Children(ctx context.Context, ref Reference) ([]*ExpressionNode, error) {
	if err := s.requireLive("variables"); err != nil {
		return nil, err
	}
	return s.vars.Children(ctx, ref)
}

// SetVariable assigns a new value to the child name of parent.
func (s *Session) SetVariable(ctx context.Context, parent Reference, name, value string) (*ExpressionNode, error) {
	if err := s.require("setVariable", StateStopped); err != nil {
		return nil, err
	}
	if !s.Capabilities().SupportsSetVariable {
		return nil, fmt.Errorf("setVariable: %w", ErrNotSupported)
	}
	return s.vars.SetVariable(ctx, parent, name, value)
}

// Source fetches adapter-held source content.
func (s *Session) Source(ctx context.Context, src dap.Source) (string, error) {
	if err := s.requireLive("source"); err != nil {
		return "", err
	}
	body, err := s.client.Source(ctx, dap.SourceArguments{Source: &src, SourceReference: src.SourceReference})
	if err != nil {
		return "", err
	}
	return body.Content, nil
}

// Threads returns the known threads in adapter order.
func (s *Session) Threads() []Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threads.snapshot()
}

// FetchThreads refreshes the thread list from the adapter.
func (s *Session) FetchThreads(ctx context.Context) ([]Thread, error) {
	if err := s.require("threads", StateRunning, StateStopped); err != nil {
		return nil, err
	}
	threads, err := s.client.Threads(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads.replace(threads)
	if _, ok := s.threads.byID[s.focusThread]; !ok {
		s.focusThread, s.focusFrame = 0, 0
	}
	return s.threads.snapshot(), nil
}

// StackTrace returns the frames of a stopped thread, fetching them on
// first use after each stop.
func (s *Session) StackTrace(ctx context.Context, threadID int) ([]StackFrame, error) {
	s.mu.Lock()
	if s.state != StateStopped {
		st := s.state
		s.mu.Unlock()
		return nil, &StateError{Op: "stackTrace", State: st}
	}
	th, ok := s.threads.byID[threadID]
	if !ok || !th.Stopped {
		s.mu.Unlock()
		return nil, fmt.Errorf("stackTrace: %w: thread %d is not stopped", ErrInvalidState, threadID)
	}
	if frames, ok := s.threads.frames[threadID]; ok {
		s.mu.Unlock()
		return append([]StackFrame(nil), frames...), nil
	}
	stops := s.stopCount
	s.mu.Unlock()

	body, err := s.client.StackTrace(ctx, dap.StackTraceArguments{ThreadID: threadID})
	if err != nil {
		return nil, err
	}
	frames := make([]StackFrame, len(body.StackFrames))
	for i, f := range body.StackFrames {
		frames[i] = newStackFrame(threadID, f)
	}

	s.mu.Lock()
	if s.stopCount == stops {
		s.threads.frames[threadID] = frames
	}
	s.mu.Unlock()
	return append([]StackFrame(nil), frames...), nil
}

// FocusedThread returns the focused thread id, or 0.
func (s *Session) FocusedThread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focusThread
}

// FocusedFrame returns the focused frame of the focused thread, defaulting
// to the top frame. It returns nil when no thread is focused.
func (s *Session) FocusedFrame(ctx context.Context) (*StackFrame, error) {
	s.mu.Lock()
	threadID, frameID := s.focusThread, s.focusFrame
	s.mu.Unlock()
	if threadID == 0 {
		return nil, nil
	}

	frames, err := s.StackTrace(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, nil
	}
	for i := range frames {
		if frames[i].ID == frameID {
			return &frames[i], nil
		}
	}
	return &frames[0], nil
}

// SetFocus focuses threadID and frameID. A zero frameID selects the top
// frame.
func (s *Session) SetFocus(threadID, frameID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads.byID[threadID]; !ok {
		return fmt.Errorf("unknown thread %d", threadID)
	}
	s.focusThread, s.focusFrame = threadID, frameID
	return nil
}

func (s *Session) stopGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCount
}

// resumed applies an explicit or implied continue. It does nothing if a
// stop arrived after stops was sampled, so a fast stop is never
// overwritten by the response to the request that caused it.
func (s *Session) resumed(stops uint64, threadID int, all bool) {
	s.mu.Lock()
	if s.stopCount != stops || s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.resumeLocked(threadID, all)
}

// resumeLocked is called with s.mu held and releases it.
func (s *Session) resumeLocked(threadID int, all bool) {
	if all || threadID == 0 {
		s.threads.setStopped(0, true, false, "")
		s.threads.dropFrames(0)
	} else {
		s.threads.setStopped(threadID, false, false, "")
		s.threads.dropFrames(threadID)
	}
	from := s.state
	running := !s.threads.anyStopped()
	if running && (from == StateStopped || from == StateInitializing) {
		s.state = StateRunning
	}
	to := s.state
	s.mu.Unlock()

	s.vars.Invalidate()
	if from != to {
		s.notifyState(from, to)
	}
}

// terminate moves the session to its final state, purges its breakpoint
// verification and closes the connection. It is idempotent.
func (s *Session) terminate(cause error) {
	s.termOnce.Do(func() {
		s.mu.Lock()
		from := s.state
		s.state = StateTerminated
		s.cause = cause
		s.threads = newThreadTable()
		s.focusThread, s.focusFrame = 0, 0
		s.mu.Unlock()

		s.breakpoints.detach(s.id)
		s.vars.Invalidate()

		if cause != nil {
			s.logger.Warn("session terminated", "error", cause)
		} else {
			s.logger.Info("session terminated")
		}
		if from != StateTerminated {
			s.notifyState(from, StateTerminated)
		}
		s.termEm.Emit(s)
		close(s.terminated)

		for _, sub := range s.subs {
			sub.Cancel()
		}
		_ = s.client.Close()
	})
}

// close releases the adapter connection after termination.
func (s *Session) close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
