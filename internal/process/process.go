package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// State represents the lifecycle state of an adapter process.
type State int

const (
	// StateCreated indicates the process has not been started.
	StateCreated State = iota
	// StateRunning indicates the process is running.
	StateRunning
	// StateExited indicates the process exited on its own.
	StateExited
	// StateKilled indicates the process was terminated by a signal.
	StateKilled
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Process is a supervised debug adapter child process.
//
// The adapter's stdin and stdout form the protocol stream returned by
// Stream. Stderr is consumed line by line and never mixed into the stream.
type Process struct {
	// ID is the supervisor-assigned identifier.
	ID string

	// Name is the adapter name used in logs.
	Name string

	// Cmd is the underlying command.
	Cmd *exec.Cmd

	// Started is the time the process was started.
	Started time.Time

	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr *lineWriter

	done     chan struct{}
	state    atomic.Int32
	exitCode atomic.Int32

	mu      sync.RWMutex
	exitErr error
}

func newProcess(id, name string, cmd *exec.Cmd, stderr *lineWriter) *Process {
	p := &Process{
		ID:     id,
		Name:   name,
		Cmd:    cmd,
		stderr: stderr,
		done:   make(chan struct{}),
	}
	p.state.Store(int32(StateCreated))
	p.exitCode.Store(-1)
	return p
}

// State returns the current process state.
func (p *Process) State() State {
	return State(p.state.Load())
}

// ExitCode returns the exit code, or -1 while the process is running.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// ExitError returns the error reported by Wait, if any.
func (p *Process) ExitError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exitErr
}

// Done is closed when the process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// IsRunning reports whether the process is running.
func (p *Process) IsRunning() bool {
	return p.State() == StateRunning
}

// PID returns the OS process id, or -1 if the process never started.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return -1
	}
	return p.Cmd.Process.Pid
}

// StderrTail returns the most recent stderr lines, oldest first.
func (p *Process) StderrTail() []string {
	if p.stderr == nil {
		return nil
	}
	return p.stderr.Tail()
}

// Stream returns the adapter's stdio as one duplex stream. Reads come from
// stdout and writes go to stdin. Reads drain buffered output after the
// process exits and then report io.EOF.
func (p *Process) Stream() io.ReadWriteCloser {
	return &stdio{p: p}
}

// LogStdout consumes stdout in the background and logs each line. It is for
// adapters that speak the protocol over a socket and must not block on a
// full stdout pipe. Stream must not be used afterwards.
func (p *Process) LogStdout() {
	if p.stderr == nil {
		return
	}
	w := newLineWriter(p.stderr.logger.With("stream", "stdout"))
	go func() {
		_, _ = io.Copy(w, p.stdout)
		_ = p.stdout.Close()
		w.Flush()
	}()
}

type stdio struct {
	p *Process
}

func (s *stdio) Read(b []byte) (int, error)  { return s.p.stdout.Read(b) }
func (s *stdio) Write(b []byte) (int, error) { return s.p.stdin.Write(b) }
func (s *stdio) Close() error {
	return errors.Join(s.p.stdin.Close(), s.p.stdout.Close())
}

// Signal sends sig to the process.
func (p *Process) Signal(sig os.Signal) error {
	if !p.IsRunning() || p.Cmd.Process == nil {
		return ErrNotRunning
	}
	return p.Cmd.Process.Signal(sig)
}

// Kill sends SIGKILL.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Stop asks the process to exit with SIGTERM and kills it if it is still
// running after grace. Stop returns once the process has exited.
func (p *Process) Stop(grace time.Duration) error {
	if !p.IsRunning() {
		<-p.done
		return nil
	}
	if err := p.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	if err := p.Kill(); err != nil && !errors.Is(err, ErrNotRunning) {
		return err
	}
	<-p.done
	return nil
}

func (p *Process) start() error {
	if p.State() != StateCreated {
		return ErrAlreadyStarted
	}
	if err := p.Cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.Name, err)
	}
	p.Started = time.Now()
	p.state.Store(int32(StateRunning))
	go p.wait()
	return nil
}

func (p *Process) wait() {
	err := p.Cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.mu.Unlock()

	code, state := 0, StateExited
	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		code = exitErr.ExitCode()
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			state = StateKilled
		}
	case err != nil:
		code = -1
	}
	if p.stderr != nil {
		p.stderr.Flush()
	}

	p.exitCode.Store(int32(code))
	p.state.Store(int32(state))
	close(p.done)
}

var (
	// ErrNotRunning is returned when signalling a process that is not running.
	ErrNotRunning = errors.New("process not running")

	// ErrAlreadyStarted is returned when starting a process twice.
	ErrAlreadyStarted = errors.New("process already started")
)
