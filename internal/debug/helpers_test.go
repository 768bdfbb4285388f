package debug

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dshills/debugengine/internal/config"
	"github.com/dshills/debugengine/internal/debug/adapters"
	"github.com/dshills/debugengine/internal/debug/daptest"
	"github.com/dshills/debugengine/internal/logging"
	"github.com/dshills/debugengine/internal/process"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

func testSettings() config.Settings {
	s := config.Default()
	s.Timeouts.Request = config.Duration(time.Second)
	s.Timeouts.Handshake = config.Duration(2 * time.Second)
	s.Timeouts.Disconnect = config.Duration(200 * time.Millisecond)
	return s
}

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	launcher := adapters.NewLauncher(
		adapters.WithLogger(logging.Discard()),
		adapters.WithSupervisor(process.NewSupervisor(process.WithLogger(logging.Discard()))),
	)
	opts = append([]ManagerOption{
		WithSettings(testSettings()),
		WithLauncher(launcher),
		WithLogger(logging.Discard()),
		WithBreakpointManager(NewBreakpointManager(WithBreakpointLogger(logging.Discard()))),
		WithConsole(NewConsole(WithTelemetryLogger(logging.Discard()))),
	}, opts...)
	m := NewManager(opts...)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m
}

func testConfig(conn io.ReadWriteCloser) Configuration {
	return Configuration{
		Name:      "test",
		Type:      "node",
		Request:   RequestLaunch,
		Adapter:   adapters.Descriptor{Kind: adapters.KindInline, Stream: conn},
		Arguments: json.RawMessage(`{"program":"file.js"}`),
	}
}

// newTestSession creates an inactive session backed by a fake adapter.
func newTestSession(t *testing.T, m *Manager, setup ...func(*daptest.Adapter)) (*Session, *daptest.Adapter) {
	t.Helper()
	adapter, conn := daptest.New(t)
	for _, fn := range setup {
		fn(adapter)
	}
	id, err := m.CreateSession(context.Background(), testConfig(conn))
	require.NoError(t, err)
	s, err := m.GetSession(id)
	require.NoError(t, err)
	return s, adapter
}

// startTestSession creates a session and completes its handshake.
func startTestSession(t *testing.T, m *Manager, setup ...func(*daptest.Adapter)) (*Session, *daptest.Adapter) {
	t.Helper()
	s, adapter := newTestSession(t, m, setup...)
	require.NoError(t, s.Start(context.Background()))
	require.Equal(t, StateRunning, s.State())
	return s, adapter
}

func waitState(t *testing.T, s *Session, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return s.State() == want }, waitFor, tick,
		"session state %s, want %s", s.State(), want)
}

// stop makes the adapter report a stop on thread 1 and waits for it.
func stop(t *testing.T, s *Session, adapter *daptest.Adapter) {
	t.Helper()
	before := s.stopGeneration()
	adapter.Stopped(1, "breakpoint")
	require.Eventually(t, func() bool { return s.stopGeneration() > before }, waitFor, tick)
	waitState(t, s, StateStopped)
}
