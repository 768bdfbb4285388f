package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/debugengine/internal/debug"
	"github.com/dshills/debugengine/internal/debug/dap"
	"github.com/dshills/debugengine/internal/event"
)

var errQuit = errors.New("quit")

// repl executes debugger commands against the active session and mirrors
// the console to out.
type repl struct {
	m *debug.Manager

	mu  sync.Mutex
	out io.Writer

	// printedSeq and printedLen track how much of the console has been
	// written, so coalesced chunks print only their new suffix.
	printedSeq uint64
	printedLen int

	subs []event.Subscription
}

func newREPL(m *debug.Manager, out io.Writer) *repl {
	r := &repl{m: m, out: out}
	r.subs = append(r.subs,
		m.Console().OnDidChange(r.flushConsole),
		m.OnDidCreateSession(r.watchSession),
	)
	return r
}

func (r *repl) close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
}

func (r *repl) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func (r *repl) watchSession(s *debug.Session) {
	stopSub := s.OnDidStop(func(e debug.StopEvent) {
		r.printf("stopped: %s (thread %d)\n", e.Reason, e.ThreadID)
	})
	termSub := s.OnDidTerminate(func(s *debug.Session) {
		if code, ok := s.ExitCode(); ok {
			r.printf("session %s exited with code %d\n", s.Name(), code)
			return
		}
		r.printf("session %s terminated\n", s.Name())
	})

	r.mu.Lock()
	r.subs = append(r.subs, stopSub, termSub)
	r.mu.Unlock()
}

// flushConsole writes console text not yet printed.
func (r *repl) flushConsole() {
	entries := r.m.Console().Entries()

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		switch {
		case e.Seq < r.printedSeq:
			continue
		case e.Seq == r.printedSeq:
			if len(e.Text) > r.printedLen {
				io.WriteString(r.out, e.Text[r.printedLen:])
				r.printedLen = len(e.Text)
			}
			continue
		}
		text := e.Text
		if e.Result != nil && e.Result.Err == nil && e.Result.Type != "" {
			text += " (" + e.Result.Type + ")"
		}
		io.WriteString(r.out, text)
		discrete := e.Result != nil || e.Category == ""
		if discrete && !strings.HasSuffix(text, "\n") {
			io.WriteString(r.out, "\n")
		}
		r.printedSeq, r.printedLen = e.Seq, len(e.Text)
	}
}

// run reads commands until quit, end of input, cancellation or the end of
// the session.
func (r *repl) run(ctx context.Context, s *debug.Session, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-s.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			return s.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := r.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				r.printf("error: %v\n", err)
			}
		}
	}
}

// exec runs one command line.
func (r *repl) exec(ctx context.Context, line string) error {
	cmd, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
	rest = strings.TrimSpace(rest)
	if cmd == "" {
		return nil
	}
	if cmd == "quit" || cmd == "q" || cmd == "exit" {
		return errQuit
	}
	switch cmd {
	case "break", "b":
		return r.addBreakpoint(ctx, rest)
	case "clear":
		return r.clearBreakpoint(ctx, rest)
	case "help", "?":
		r.printf("commands: continue next step out pause threads bt frame scopes eval break clear quit\n")
		return nil
	}

	s := r.m.ActiveSession()
	if s == nil {
		return errors.New("no active session")
	}
	switch cmd {
	case "continue", "c":
		return s.Continue(ctx, r.thread(s))
	case "next", "n":
		return s.StepOver(ctx, r.thread(s))
	case "step", "s":
		return s.StepIn(ctx, r.thread(s))
	case "out":
		return s.StepOut(ctx, r.thread(s))
	case "pause":
		return s.Pause(ctx, r.thread(s))
	case "threads":
		return r.threads(ctx, s)
	case "bt", "backtrace":
		return r.backtrace(ctx, s)
	case "frame", "f":
		return r.frame(ctx, s, rest)
	case "scopes", "locals":
		return r.scopes(ctx, s)
	case "eval", "p", "print":
		if rest == "" {
			return errors.New("usage: eval <expression>")
		}
		frameID := 0
		if f, err := s.FocusedFrame(ctx); err == nil && f != nil {
			frameID = f.ID
		}
		_, err := s.Evaluate(ctx, rest, frameID, dap.ContextREPL)
		return err
	default:
		return fmt.Errorf("unknown command %q (try help)", cmd)
	}
}

// thread returns the focused thread, or the first known one.
func (r *repl) thread(s *debug.Session) int {
	if id := s.FocusedThread(); id != 0 {
		return id
	}
	if threads := s.Threads(); len(threads) > 0 {
		return threads[0].ID
	}
	return 0
}

func (r *repl) addBreakpoint(ctx context.Context, loc string) error {
	var (
		file string
		line int
		err  error
	)
	if loc == "" {
		file, line, err = r.frameLocation(ctx)
	} else {
		file, line, err = parseLocation(loc)
	}
	if err != nil {
		return err
	}
	bp, err := r.m.Breakpoints().AddBreakpoint(ctx, file, debug.BreakpointSpec{Line: line})
	if bp.ID == 0 {
		return err
	}
	state := "pending"
	if bp, ok := r.m.Breakpoints().Breakpoint(bp.ID); ok && bp.Verified() {
		state = "verified"
	}
	r.printf("breakpoint %d at %s:%d (%s)\n", bp.ID, file, bp.Line, state)
	return err
}

// frameLocation returns the position of the focused frame.
func (r *repl) frameLocation(ctx context.Context) (string, int, error) {
	s := r.m.ActiveSession()
	if s == nil {
		return "", 0, errors.New("usage: break <file:line>")
	}
	f, err := s.FocusedFrame(ctx)
	if err != nil {
		return "", 0, err
	}
	if f == nil || f.SourceURI() == "" {
		return "", 0, errors.New("the focused frame has no source file")
	}
	return f.SourceURI(), f.Line, nil
}

func (r *repl) clearBreakpoint(ctx context.Context, loc string) error {
	file, line, err := parseLocation(loc)
	if err != nil {
		return err
	}
	for _, bp := range r.m.Breakpoints().BreakpointsFor(file) {
		if bp.Line == line {
			if err := r.m.Breakpoints().RemoveBreakpoint(ctx, bp.ID); err != nil {
				return err
			}
			r.printf("removed breakpoint %d\n", bp.ID)
			return nil
		}
	}
	return fmt.Errorf("no breakpoint at %s", loc)
}

func (r *repl) threads(ctx context.Context, s *debug.Session) error {
	threads, err := s.FetchThreads(ctx)
	if err != nil {
		return err
	}
	focused := s.FocusedThread()
	for _, th := range threads {
		mark := " "
		if th.ID == focused {
			mark = "*"
		}
		status := "running"
		if th.Stopped {
			status = "stopped"
			if th.StopReason != "" {
				status += ": " + th.StopReason
			}
		}
		r.printf("%s %d %s (%s)\n", mark, th.ID, th.Name, status)
	}
	return nil
}

func (r *repl) backtrace(ctx context.Context, s *debug.Session) error {
	frames, err := s.StackTrace(ctx, r.thread(s))
	if err != nil {
		return err
	}
	current, _ := s.FocusedFrame(ctx)
	for i, f := range frames {
		mark := " "
		if current != nil && current.ID == f.ID {
			mark = "*"
		}
		r.printf("%s #%d %s at %s\n", mark, i, f.Name, f.FormatLocation())
	}
	return nil
}

func (r *repl) frame(ctx context.Context, s *debug.Session, arg string) error {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return errors.New("usage: frame <n>")
	}
	thread := r.thread(s)
	frames, err := s.StackTrace(ctx, thread)
	if err != nil {
		return err
	}
	if n < 0 || n >= len(frames) {
		return fmt.Errorf("frame %d out of range", n)
	}
	if err := s.SetFocus(thread, frames[n].ID); err != nil {
		return err
	}
	r.printf("#%d %s at %s\n", n, frames[n].Name, frames[n].FormatLocation())
	return nil
}

func (r *repl) scopes(ctx context.Context, s *debug.Session) error {
	f, err := s.FocusedFrame(ctx)
	if err != nil {
		return err
	}
	if f == nil {
		return errors.New("no frame")
	}
	scopes, err := s.Scopes(ctx, f.ID)
	if err != nil {
		return err
	}
	for _, scope := range scopes {
		r.printf("%s:\n", scope.Name)
		if scope.Expensive || !scope.HasChildren() {
			continue
		}
		vars, err := s.Children(ctx, scope.Reference)
		if err != nil {
			r.printf("  <%v>\n", err)
			continue
		}
		for _, v := range vars {
			if v.Type != "" {
				r.printf("  %s %s = %s\n", v.Name, v.Type, v.Value)
			} else {
				r.printf("  %s = %s\n", v.Name, v.Value)
			}
		}
	}
	return nil
}
