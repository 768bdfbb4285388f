// Package adapters turns a resolved adapter descriptor into a byte stream the
// debug engine can speak the protocol over.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"time"
)

// Kind selects how the engine reaches an adapter.
type Kind string

const (
	// KindExecutable starts the adapter as a child process. Without a port
	// the protocol runs over its stdio; with a port the engine connects to
	// the socket the process opens.
	KindExecutable Kind = "executable"
	// KindServer connects to an adapter already listening on host:port.
	KindServer Kind = "server"
	// KindWebSocket connects to an adapter over a WebSocket URL.
	KindWebSocket Kind = "websocket"
	// KindInline uses a stream supplied by the caller.
	KindInline Kind = "inline"
)

// Descriptor is a fully resolved adapter launch description.
type Descriptor struct {
	Kind Kind `json:"kind" yaml:"kind" toml:"kind"`

	// Command and Args start an executable adapter.
	Command string            `json:"command,omitempty" yaml:"command,omitempty" toml:"command,omitempty"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty" toml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	Cwd     string            `json:"cwd,omitempty" yaml:"cwd,omitempty" toml:"cwd,omitempty"`

	// Host and Port address a socket adapter.
	Host string `json:"host,omitempty" yaml:"host,omitempty" toml:"host,omitempty"`
	Port int    `json:"port,omitempty" yaml:"port,omitempty" toml:"port,omitempty"`

	// URL addresses a WebSocket adapter.
	URL string `json:"url,omitempty" yaml:"url,omitempty" toml:"url,omitempty"`

	// Framing overrides the engine default ("header" or "line").
	// WebSocket adapters always use one message per frame.
	Framing string `json:"framing,omitempty" yaml:"framing,omitempty" toml:"framing,omitempty"`

	// Stream is the duplex stream of an inline adapter.
	Stream io.ReadWriteCloser `json:"-" yaml:"-" toml:"-"`
}

// Validate checks that the fields required by Kind are present.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindExecutable:
		if d.Command == "" {
			return fmt.Errorf("%w: executable adapter needs a command", ErrInvalidDescriptor)
		}
	case KindServer:
		if d.Port <= 0 {
			return fmt.Errorf("%w: server adapter needs a port", ErrInvalidDescriptor)
		}
	case KindWebSocket:
		if d.URL == "" {
			return fmt.Errorf("%w: websocket adapter needs a url", ErrInvalidDescriptor)
		}
	case KindInline:
		if d.Stream == nil {
			return fmt.Errorf("%w: inline adapter needs a stream", ErrInvalidDescriptor)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidDescriptor, d.Kind)
	}
	if d.Port < 0 || d.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidDescriptor, d.Port)
	}
	return nil
}

// Address returns host:port, defaulting the host to loopback.
func (d Descriptor) Address() string {
	host := d.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(d.Port))
}

// ErrInvalidDescriptor is returned for descriptors that cannot be opened.
var ErrInvalidDescriptor = errors.New("invalid adapter descriptor")

// FindExecutable searches for an executable in PATH.
func FindExecutable(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%s not found in PATH: %w", name, err)
	}
	return path, nil
}

// DialWhenReady dials address until it accepts a connection or ctx ends.
// Adapters started with a listen flag take a moment to open their socket
// and often accept a single client, so the successful connection is the one
// returned rather than a probe.
func DialWhenReady(ctx context.Context, address string) (net.Conn, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	var d net.Dialer
	for {
		dctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		conn, err := d.DialContext(dctx, "tcp", address)
		cancel()
		if err == nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect %s: %w", address, errors.Join(ctx.Err(), err))
		case <-ticker.C:
		}
	}
}
