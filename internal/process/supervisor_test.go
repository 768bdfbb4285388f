package process

import (
	"os"
	"os/exec"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupervisorTracksProcesses(t *testing.T) {
	s := newTestSupervisor(t)
	proc, err := s.StartWithID("fixed", "sleep", exec.Command("sleep", "30"))
	require.NoError(t, err)

	assert.Same(t, proc, s.Get("fixed"))
	assert.Equal(t, 1, s.Count())
	assert.Len(t, s.List(), 1)

	_, err = s.StartWithID("fixed", "again", exec.Command("sleep", "30"))
	assert.Error(t, err)

	require.NoError(t, proc.Kill())
	waitDone(t, proc)
	assert.Eventually(t, func() bool { return s.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Nil(t, s.Get("fixed"))
}

func TestSupervisorProcessLimit(t *testing.T) {
	s := newTestSupervisor(t, WithMaxProcesses(1))
	_, err := s.Start("one", exec.Command("sleep", "30"))
	require.NoError(t, err)

	_, err = s.Start("two", exec.Command("sleep", "30"))
	assert.ErrorIs(t, err, ErrProcessLimit)
}

func TestSupervisorRejectsAttachedStdio(t *testing.T) {
	s := newTestSupervisor(t)
	cmd := exec.Command("cat")
	cmd.Stdout = os.Stdout

	_, err := s.Start("cat", cmd)
	assert.Error(t, err)
	assert.Zero(t, s.Count())
}

func TestSupervisorStartFailure(t *testing.T) {
	s := newTestSupervisor(t)
	_, err := s.Start("missing", exec.Command("/nonexistent/debug-adapter"))
	assert.Error(t, err)
	assert.Zero(t, s.Count())
}

func TestSupervisorExitCallback(t *testing.T) {
	var calls atomic.Int32
	exited := make(chan string, 1)
	s := newTestSupervisor(t, WithExitCallback(func(p *Process) {
		calls.Add(1)
		exited <- p.Name
		panic("callback failure")
	}))

	_, err := s.Start("quick", exec.Command("true"))
	require.NoError(t, err)

	select {
	case name := <-exited:
		assert.Equal(t, "quick", name)
	case <-time.After(5 * time.Second):
		t.Fatal("exit callback not called")
	}
	assert.Eventually(t, func() bool { return s.Count() == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSupervisorShutdown(t *testing.T) {
	s := newTestSupervisor(t)
	for i := 0; i < 3; i++ {
		_, err := s.Start("sleep", exec.Command("sleep", "30"))
		require.NoError(t, err)
	}

	s.Shutdown(time.Second)
	assert.True(t, s.IsShuttingDown())
	assert.Zero(t, s.Count())

	_, err := s.Start("late", exec.Command("sleep", "1"))
	assert.ErrorIs(t, err, ErrSupervisorShutdown)

	s.Shutdown(time.Second)
}
