package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dshills/debugengine/internal/debug/transport"
	"github.com/dshills/debugengine/internal/logging"
	"github.com/dshills/debugengine/internal/process"
)

// Connection is an open adapter stream plus whatever owns it.
type Connection struct {
	// Stream carries protocol frames.
	Stream io.ReadWriteCloser

	// Codec is the framing the stream must use.
	Codec transport.Codec

	// Process is the adapter child process, or nil.
	Process *process.Process

	grace time.Duration
}

// Close closes the stream and stops the adapter process, if any. A stream
// the transport already closed is not an error.
func (c *Connection) Close() error {
	err := c.Stream.Close()
	if errors.Is(err, os.ErrClosed) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		err = nil
	}
	if c.Process != nil {
		err = errors.Join(err, c.Process.Stop(c.grace))
	}
	return err
}

// Launcher opens adapter connections from descriptors.
type Launcher struct {
	supervisor *process.Supervisor
	dialer     *websocket.Dialer
	framing    string
	grace      time.Duration
	logger     *slog.Logger
}

// LauncherOption configures a Launcher.
type LauncherOption func(*Launcher)

// WithSupervisor sets the supervisor that owns executable adapters.
func WithSupervisor(s *process.Supervisor) LauncherOption {
	return func(l *Launcher) {
		l.supervisor = s
	}
}

// WithDefaultFraming sets the framing used when a descriptor names none.
func WithDefaultFraming(name string) LauncherOption {
	return func(l *Launcher) {
		l.framing = name
	}
}

// WithStopGrace sets how long an adapter process may take to exit after
// SIGTERM before it is killed.
func WithStopGrace(d time.Duration) LauncherOption {
	return func(l *Launcher) {
		l.grace = d
	}
}

// WithLogger sets the launcher logger.
func WithLogger(logger *slog.Logger) LauncherOption {
	return func(l *Launcher) {
		l.logger = logger
	}
}

// NewLauncher creates a launcher. Without WithSupervisor it creates its own.
func NewLauncher(opts ...LauncherOption) *Launcher {
	l := &Launcher{
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		grace:  2 * time.Second,
		logger: logging.WithComponent(logging.ComponentAdapter),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.supervisor == nil {
		l.supervisor = process.NewSupervisor(process.WithLogger(l.logger))
	}
	return l
}

// Supervisor returns the process supervisor.
func (l *Launcher) Supervisor() *process.Supervisor {
	return l.supervisor
}

// Open connects to the adapter d describes. name labels the adapter in logs.
func (l *Launcher) Open(ctx context.Context, name string, d Descriptor) (*Connection, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	framing := d.Framing
	if framing == "" {
		framing = l.framing
	}
	codec, err := transport.CodecByName(framing)
	if err != nil {
		return nil, err
	}
	conn := &Connection{Codec: codec, grace: l.grace}

	switch d.Kind {
	case KindInline:
		conn.Stream = d.Stream

	case KindServer:
		nc, err := DialWhenReady(ctx, d.Address())
		if err != nil {
			return nil, err
		}
		conn.Stream = nc

	case KindWebSocket:
		ws, resp, err := l.dialer.DialContext(ctx, d.URL, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, fmt.Errorf("connect %s: %w", d.URL, err)
		}
		conn.Stream = transport.NewWebSocketStream(ws)
		conn.Codec = transport.LineCodec{}

	case KindExecutable:
		if err := l.startProcess(ctx, name, d, conn); err != nil {
			return nil, err
		}
	}

	l.logger.Debug("adapter connected", "adapter", name, "kind", string(d.Kind), "framing", conn.Codec.Name())
	return conn, nil
}

func (l *Launcher) startProcess(ctx context.Context, name string, d Descriptor, conn *Connection) error {
	cmd := exec.Command(d.Command, d.Args...)
	cmd.Dir = d.Cwd
	if len(d.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range d.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}

	proc, err := l.supervisor.Start(name, cmd)
	if err != nil {
		return err
	}
	conn.Process = proc

	if d.Port == 0 {
		conn.Stream = proc.Stream()
		return nil
	}
	proc.LogStdout()

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-proc.Done():
			cancel()
		case <-dctx.Done():
		}
	}()

	nc, err := DialWhenReady(dctx, d.Address())
	if err != nil {
		_ = proc.Stop(l.grace)
		if tail := proc.StderrTail(); len(tail) > 0 {
			err = fmt.Errorf("%w\n%s", err, strings.Join(tail, "\n"))
		}
		return err
	}
	conn.Stream = nc
	return nil
}

// Shutdown stops every adapter process the launcher started.
func (l *Launcher) Shutdown() {
	l.supervisor.Shutdown(l.grace)
}
