package process

import (
	"bufio"
	"io"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/debugengine/internal/logging"
)

func newTestSupervisor(t *testing.T, opts ...SupervisorOption) *Supervisor {
	t.Helper()
	opts = append([]SupervisorOption{WithLogger(logging.Discard())}, opts...)
	s := NewSupervisor(opts...)
	t.Cleanup(func() { s.Shutdown(time.Second) })
	return s
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("process %s did not exit", p.Name)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "created"},
		{StateRunning, "running"},
		{StateExited, "exited"},
		{StateKilled, "killed"},
		{State(42), "unknown(42)"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestStreamRoundTrip(t *testing.T) {
	s := newTestSupervisor(t)
	proc, err := s.Start("cat", exec.Command("cat"))
	require.NoError(t, err)
	assert.True(t, proc.IsRunning())
	assert.Positive(t, proc.PID())

	stream := proc.Stream()
	_, err = io.WriteString(stream, "ping\n")
	require.NoError(t, err)

	line, err := bufio.NewReader(stream).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)

	require.NoError(t, stream.Close())
	waitDone(t, proc)
	assert.Equal(t, StateExited, proc.State())
	assert.Equal(t, 0, proc.ExitCode())
}

func TestExitCodeRecorded(t *testing.T) {
	s := newTestSupervisor(t)
	proc, err := s.Start("fail", exec.Command("sh", "-c", "exit 3"))
	require.NoError(t, err)

	waitDone(t, proc)
	assert.Equal(t, 3, proc.ExitCode())
	assert.Error(t, proc.ExitError())
}

func TestStderrCaptured(t *testing.T) {
	s := newTestSupervisor(t)
	proc, err := s.Start("noisy", exec.Command("sh", "-c", "echo one >&2; printf two >&2"))
	require.NoError(t, err)

	waitDone(t, proc)
	assert.Equal(t, []string{"one", "two"}, proc.StderrTail())
}

func TestStderrTailBounded(t *testing.T) {
	w := newLineWriter(logging.Discard())
	for i := 0; i < tailLines+5; i++ {
		_, _ = w.Write([]byte("line\n"))
	}
	_, _ = w.Write([]byte("last\r\n"))
	tail := w.Tail()
	assert.Len(t, tail, tailLines)
	assert.Equal(t, "last", tail[len(tail)-1])
}

func TestStopTerminates(t *testing.T) {
	s := newTestSupervisor(t)
	proc, err := s.Start("sleep", exec.Command("sleep", "30"))
	require.NoError(t, err)

	require.NoError(t, proc.Stop(time.Second))
	assert.Equal(t, StateKilled, proc.State())
	assert.ErrorIs(t, proc.Kill(), ErrNotRunning)
}

func TestStopKillsAfterGrace(t *testing.T) {
	s := newTestSupervisor(t)
	proc, err := s.Start("stubborn", exec.Command("sh", "-c", `trap "" TERM; while :; do sleep 0.05; done`))
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, proc.Stop(100*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, StateKilled, proc.State())
}
