package debug

import (
	"strconv"

	"github.com/dshills/debugengine/internal/debug/dap"
)

// subscribe wires adapter events to the session. Handlers run on the
// client's dispatch goroutine, one at a time, in arrival order.
func (s *Session) subscribe() {
	on := func(name string, fn func(dap.Event)) {
		s.subs = append(s.subs, s.client.OnEvent(name, fn))
	}

	on("initialized", func(dap.Event) {
		s.initOnce.Do(func() { close(s.initialized) })
	})
	on("stopped", decoded(s, s.onStopped))
	on("continued", decoded(s, s.onContinued))
	on("exited", decoded(s, s.onExited))
	on("terminated", func(dap.Event) { s.terminate(nil) })
	on("thread", decoded(s, s.onThread))
	on("output", decoded(s, s.onOutput))
	on("breakpoint", decoded(s, func(body dap.BreakpointEventBody) {
		s.breakpoints.applyAdapterEvent(s.id, body)
	}))
	on("capabilities", decoded(s, s.onCapabilities))

	s.subs = append(s.subs, s.client.OnClosed(func(cause error) {
		s.terminate(cause)
	}))
}

// decoded adapts a typed body handler to an event handler. Undecodable
// bodies are logged and dropped.
func decoded[T any](s *Session, fn func(T)) func(dap.Event) {
	return func(evt dap.Event) {
		body, err := dap.DecodeBody[T](evt)
		if err != nil {
			s.logger.Warn("dropping event", "event", evt.Event, "error", err)
			return
		}
		fn(body)
	}
}

func (s *Session) onStopped(body dap.StoppedEventBody) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.stopCount++
	s.threads.setStopped(body.ThreadID, body.AllThreadsStopped, true, body.Reason)
	if body.AllThreadsStopped {
		s.threads.dropFrames(0)
	} else {
		s.threads.dropFrames(body.ThreadID)
	}
	if body.ThreadID > 0 && (!body.PreserveFocusHint || s.focusThread == 0) {
		s.focusThread, s.focusFrame = body.ThreadID, 0
	}
	from := s.state
	s.state = StateStopped
	s.mu.Unlock()

	s.vars.Invalidate()
	s.breakpoints.recordHits(s.id, body.HitBreakpointIDs)
	s.logger.Debug("stopped", "thread_id", body.ThreadID, "reason", body.Reason)

	if from != StateStopped {
		s.notifyState(from, StateStopped)
	}
	s.stopEm.Emit(StopEvent{
		Session:           s,
		ThreadID:          body.ThreadID,
		Reason:            body.Reason,
		Description:       body.Description,
		AllThreadsStopped: body.AllThreadsStopped,
		HitBreakpointIDs:  body.HitBreakpointIDs,
	})
}

func (s *Session) onContinued(body dap.ContinuedEventBody) {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.resumeLocked(body.ThreadID, body.AllThreadsContinued)
}

func (s *Session) onExited(body dap.ExitedEventBody) {
	s.mu.Lock()
	code := body.ExitCode
	s.exitCode = &code
	s.mu.Unlock()
	s.logger.Info("debuggee exited", "exit_code", code)
	s.terminate(nil)
}

func (s *Session) onThread(body dap.ThreadEventBody) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch body.Reason {
	case "started":
		s.threads.ensure(body.ThreadID)
	case "exited":
		s.threads.remove(body.ThreadID)
		if s.focusThread == body.ThreadID {
			s.focusThread, s.focusFrame = 0, 0
		}
	}
}

func (s *Session) onOutput(body dap.OutputEventBody) {
	var result *ExpressionNode
	if body.VariablesReference > 0 {
		gen := s.vars.Generation()
		result = &ExpressionNode{
			Key:       "output:" + strconv.Itoa(body.VariablesReference),
			Value:     body.Output,
			Reference: s.vars.ref(gen, body.VariablesReference),
		}
	}
	s.console.AppendOutput(s.id, body, result)
}

func (s *Session) onCapabilities(body dap.CapabilitiesEventBody) {
	s.mu.Lock()
	s.caps.Merge(body.Capabilities)
	s.mu.Unlock()
	if len(body.Capabilities.ExceptionBreakpointFilters) > 0 {
		s.breakpoints.registerExceptionFilters(body.Capabilities.ExceptionBreakpointFilters)
	}
}
