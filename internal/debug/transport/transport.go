// Package transport frames debug adapter messages over a duplex byte stream.
//
// A Transport knows nothing about the debug protocol. It delivers each frame
// payload to OnFrame subscribers in arrival order, reports corrupt frames to
// OnError subscribers, and fires OnClosed exactly once when the stream ends.
package transport

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"syscall"

	"github.com/dshills/debugengine/internal/event"
	"github.com/dshills/debugengine/internal/logging"
)

// Transport frames messages over an io.ReadWriteCloser.
type Transport struct {
	rwc    io.ReadWriteCloser
	codec  Codec
	reader *bufio.Reader
	logger *slog.Logger

	writeMu sync.Mutex

	frames *event.Emitter[[]byte]
	errs   *event.Emitter[error]
	closed *event.Emitter[error]

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}

	mu    sync.Mutex
	cause error
}

// Option configures a Transport.
type Option func(*Transport)

// WithCodec sets the framing codec. The default is HeaderCodec.
func WithCodec(c Codec) Option {
	return func(t *Transport) {
		if c != nil {
			t.codec = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates a transport over rwc. Call Start to begin reading.
func New(rwc io.ReadWriteCloser, opts ...Option) *Transport {
	t := &Transport{
		rwc:    rwc,
		codec:  HeaderCodec{},
		logger: logging.WithComponent(logging.ComponentTransport),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	onPanic := event.WithPanicHandler(func(name string, recovered any, stack []byte) {
		t.logger.Error("subscriber panic", "emitter", name, "panic", recovered, "stack", string(stack))
	})
	t.frames = event.NewEmitter[[]byte]("transport.frame", onPanic)
	t.errs = event.NewEmitter[error]("transport.error", onPanic)
	t.closed = event.NewEmitter[error]("transport.closed", onPanic)
	t.reader = bufio.NewReader(rwc)
	return t
}

// Codec returns the framing codec in use.
func (t *Transport) Codec() Codec {
	return t.codec
}

// OnFrame subscribes to received frame payloads. Payloads are delivered
// on the read goroutine in arrival order; handlers must not block.
func (t *Transport) OnFrame(fn func([]byte)) event.Subscription {
	return t.frames.Subscribe(fn)
}

// OnError subscribes to framing errors. A framing error closes the transport.
func (t *Transport) OnError(fn func(error)) event.Subscription {
	return t.errs.Subscribe(fn)
}

// OnClosed subscribes to stream closure. The handler receives the cause,
// which is nil for a clean EOF or an explicit Close. If the transport has
// already closed, fn is called immediately.
func (t *Transport) OnClosed(fn func(error)) event.Subscription {
	var once sync.Once
	call := func(cause error) {
		once.Do(func() { fn(cause) })
	}

	sub := t.closed.Subscribe(call)
	select {
	case <-t.done:
		call(t.Err())
	default:
	}
	return sub
}

// Start begins reading frames. It is safe to call more than once.
func (t *Transport) Start() {
	t.startOnce.Do(func() {
		go t.readLoop()
	})
}

func (t *Transport) readLoop() {
	for {
		payload, err := t.codec.ReadFrame(t.reader)
		if err != nil {
			t.fail(err)
			return
		}
		t.logger.Debug("frame received", "bytes", len(payload))
		t.frames.Emit(payload)
	}
}

func (t *Transport) fail(err error) {
	select {
	case <-t.done:
		return
	default:
	}

	var ferr *FramingError
	switch {
	case errors.As(err, &ferr):
		t.logger.Warn("framing error, closing transport", "codec", t.codec.Name(), "error", err)
		t.errs.Emit(err)
		t.shutdown(err)
	case isCleanClose(err):
		t.shutdown(nil)
	default:
		t.logger.Debug("read failed", "error", err)
		t.shutdown(err)
	}
}

// isCleanClose reports whether err marks an orderly end of stream.
func isCleanClose(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, syscall.ECONNRESET)
}

// Send writes payload as one frame. Concurrent sends are serialized.
func (t *Transport) Send(payload []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}

	t.writeMu.Lock()
	err := t.codec.WriteFrame(t.rwc, payload)
	t.writeMu.Unlock()

	if err != nil {
		var ferr *FramingError
		if errors.As(err, &ferr) {
			return err
		}
		t.logger.Debug("write failed", "error", err)
		t.shutdown(err)
		return errors.Join(ErrClosed, err)
	}
	return nil
}

// Close closes the underlying stream. It is idempotent.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.finish(nil)
	})
	return err
}

func (t *Transport) shutdown(cause error) {
	t.closeOnce.Do(func() {
		_ = t.finish(cause)
	})
}

func (t *Transport) finish(cause error) error {
	t.mu.Lock()
	t.cause = cause
	t.mu.Unlock()

	err := t.rwc.Close()
	close(t.done)

	t.closed.Emit(cause)
	t.frames.Close()
	t.errs.Close()
	t.closed.Close()
	return err
}

// Done is closed when the transport has closed.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Err returns the close cause once Done is closed.
func (t *Transport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cause
}
