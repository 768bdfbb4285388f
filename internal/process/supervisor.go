package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/debugengine/internal/logging"
)

// waitDelay bounds how long Wait blocks on stderr after the adapter exits,
// for adapters that leave children holding the pipe open.
const waitDelay = 2 * time.Second

// Supervisor starts debug adapter processes and tracks them until they exit.
//
// Supervisor is safe for concurrent use.
type Supervisor struct {
	mu        sync.RWMutex
	processes map[string]*Process
	closed    atomic.Bool

	maxProcesses int
	onExit       func(p *Process)
	logger       *slog.Logger
}

// SupervisorOption configures a Supervisor.
type SupervisorOption func(*Supervisor)

// WithMaxProcesses limits the number of live adapters. Zero means unlimited.
func WithMaxProcesses(n int) SupervisorOption {
	return func(s *Supervisor) {
		s.maxProcesses = n
	}
}

// WithExitCallback registers fn to run after a process exits.
func WithExitCallback(fn func(p *Process)) SupervisorOption {
	return func(s *Supervisor) {
		s.onExit = fn
	}
}

// WithLogger sets the logger that receives adapter stderr and exit records.
func WithLogger(l *slog.Logger) SupervisorOption {
	return func(s *Supervisor) {
		s.logger = l
	}
}

// NewSupervisor creates a supervisor.
func NewSupervisor(opts ...SupervisorOption) *Supervisor {
	s := &Supervisor{
		processes: make(map[string]*Process),
		logger:    logging.WithComponent(logging.ComponentAdapter),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches cmd under a fresh id. The command's stdin and stdout become
// the process Stream; its stderr must be unset and is captured line by line.
func (s *Supervisor) Start(name string, cmd *exec.Cmd) (*Process, error) {
	return s.StartWithID(uuid.NewString(), name, cmd)
}

// StartWithID launches cmd under id.
func (s *Supervisor) StartWithID(id, name string, cmd *exec.Cmd) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return nil, ErrSupervisorShutdown
	}
	if s.maxProcesses > 0 && len(s.processes) >= s.maxProcesses {
		return nil, fmt.Errorf("%w: %d", ErrProcessLimit, s.maxProcesses)
	}
	if _, exists := s.processes[id]; exists {
		return nil, fmt.Errorf("process id already in use: %s", id)
	}
	if cmd.Stdin != nil || cmd.Stdout != nil || cmd.Stderr != nil {
		return nil, errors.New("adapter command must not have stdio attached")
	}

	logger := s.logger.With("adapter", name, "process_id", id)
	stderr := newLineWriter(logger)
	cmd.Stderr = stderr
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = waitDelay
	}

	proc := newProcess(id, name, cmd, stderr)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	// stdout is a plain pipe rather than StdoutPipe so that Wait never closes
	// the read end before buffered output has been consumed.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stdout = stdoutW
	proc.stdin, proc.stdout = stdin, stdout

	err = proc.start()
	_ = stdoutW.Close()
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		return nil, err
	}
	logger.Info("adapter started", "pid", proc.PID(), "path", cmd.Path)

	s.processes[id] = proc
	go s.monitor(proc, logger)
	return proc, nil
}

func (s *Supervisor) monitor(proc *Process, logger *slog.Logger) {
	<-proc.Done()

	logger.Info("adapter exited",
		"exit_code", proc.ExitCode(),
		"state", proc.State().String(),
		"runtime", time.Since(proc.Started).Round(time.Millisecond))

	if s.onExit != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("exit callback panic", "panic", r)
				}
			}()
			s.onExit(proc)
		}()
	}

	s.mu.Lock()
	delete(s.processes, proc.ID)
	s.mu.Unlock()
}

// Get returns the live process with id, or nil.
func (s *Supervisor) Get(id string) *Process {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[id]
}

// List returns the live processes.
func (s *Supervisor) List() []*Process {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Process, 0, len(s.processes))
	for _, p := range s.processes {
		out = append(out, p)
	}
	return out
}

// Count returns the number of live processes.
func (s *Supervisor) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.processes)
}

// IsShuttingDown reports whether Shutdown has been called.
func (s *Supervisor) IsShuttingDown() bool {
	return s.closed.Load()
}

// Shutdown stops every adapter, allowing each grace to exit after SIGTERM
// before it is killed. It returns once all processes are gone.
func (s *Supervisor) Shutdown(grace time.Duration) {
	if s.closed.Swap(true) {
		return
	}

	var wg sync.WaitGroup
	for _, p := range s.List() {
		wg.Add(1)
		go func(p *Process) {
			defer wg.Done()
			if err := p.Stop(grace); err != nil {
				s.logger.Warn("stop adapter", "adapter", p.Name, "error", err)
			}
		}(p)
	}
	wg.Wait()

	for s.Count() > 0 {
		time.Sleep(time.Millisecond)
	}
}

var (
	// ErrSupervisorShutdown is returned by Start after Shutdown.
	ErrSupervisorShutdown = errors.New("supervisor is shutting down")

	// ErrProcessLimit is returned when the process limit is reached.
	ErrProcessLimit = errors.New("process limit reached")
)
