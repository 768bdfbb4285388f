package transport

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/debugengine/internal/logging"
)

const waitFor = 2 * time.Second

type recorder struct {
	mu     sync.Mutex
	frames []string
	errs   []error
	closes []error
	closed chan struct{}
}

func newRecorder(t *Transport) *recorder {
	r := &recorder{closed: make(chan struct{})}
	t.OnFrame(func(b []byte) {
		r.mu.Lock()
		r.frames = append(r.frames, string(b))
		r.mu.Unlock()
	})
	t.OnError(func(err error) {
		r.mu.Lock()
		r.errs = append(r.errs, err)
		r.mu.Unlock()
	})
	t.OnClosed(func(err error) {
		r.mu.Lock()
		r.closes = append(r.closes, err)
		r.mu.Unlock()
		close(r.closed)
	})
	return r
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.closed:
	case <-time.After(waitFor):
		t.Fatal("transport did not close")
	}
}

func (r *recorder) snapshot() ([]string, []error, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...), append([]error(nil), r.errs...), append([]error(nil), r.closes...)
}

func TestHeaderFramesInOrder(t *testing.T) {
	client, adapter := net.Pipe()
	tr := New(client, WithLogger(logging.Discard()))
	rec := newRecorder(tr)
	tr.Start()

	go func() {
		for _, body := range []string{`{"seq":1}`, `{"seq":2,"body":"a\nb"}`, `{"seq":3}`} {
			_ = HeaderCodec{}.WriteFrame(adapter, []byte(body))
		}
		adapter.Close()
	}()

	rec.wait(t)
	frames, errs, closes := rec.snapshot()
	assert.Equal(t, []string{`{"seq":1}`, `{"seq":2,"body":"a\nb"}`, `{"seq":3}`}, frames)
	assert.Empty(t, errs)
	require.Len(t, closes, 1)
	assert.NoError(t, closes[0])
}

func TestLineCodecFrames(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("{\"a\":1}\n\n  {\"b\":2}\r\n"))
	c := LineCodec{}

	f1, err := c.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(f1))

	f2, err := c.ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(f2))

	_, err = c.ReadFrame(r)
	assert.ErrorIs(t, err, io.EOF)
}

func TestLineCodecRejectsNewlineInPayload(t *testing.T) {
	var buf bytes.Buffer
	err := LineCodec{}.WriteFrame(&buf, []byte("{\n}"))
	assert.ErrorIs(t, err, ErrFraming)
	assert.Zero(t, buf.Len())
}

func TestHeaderCodecTruncatedBody(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Content-Length: 20\r\n\r\n{\"seq\":1}"))

	_, err := HeaderCodec{}.ReadFrame(r)
	require.ErrorIs(t, err, ErrFraming)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestHeaderCodecBadHeader(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Content-Size: 2\r\n\r\n{}"))

	_, err := HeaderCodec{}.ReadFrame(r)
	var ferr *FramingError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "header", ferr.Codec)
}

func TestHeaderCodecInvalidJSON(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("Content-Length: 5\r\n\r\n{oops"))

	_, err := HeaderCodec{}.ReadFrame(r)
	assert.ErrorIs(t, err, ErrFraming)
}

func TestFramingErrorClosesTransport(t *testing.T) {
	client, adapter := net.Pipe()
	tr := New(client, WithLogger(logging.Discard()))
	rec := newRecorder(tr)
	tr.Start()

	go func() {
		_ = HeaderCodec{}.WriteFrame(adapter, []byte(`{"seq":1}`))
		_, _ = adapter.Write([]byte("Content-Length: 4\r\n\r\nnope"))
	}()

	rec.wait(t)
	frames, errs, closes := rec.snapshot()
	assert.Equal(t, []string{`{"seq":1}`}, frames)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrFraming)
	require.Len(t, closes, 1)
	assert.ErrorIs(t, closes[0], ErrFraming)
	assert.ErrorIs(t, tr.Err(), ErrFraming)
	adapter.Close()
}

func TestCloseIsIdempotent(t *testing.T) {
	client, adapter := net.Pipe()
	defer adapter.Close()

	tr := New(client, WithLogger(logging.Discard()))
	var closes atomic.Int32
	tr.OnClosed(func(error) { closes.Add(1) })
	tr.Start()

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	select {
	case <-tr.Done():
	case <-time.After(waitFor):
		t.Fatal("done not closed")
	}
	assert.Equal(t, int32(1), closes.Load())
	assert.ErrorIs(t, tr.Send([]byte(`{}`)), ErrClosed)
}

func TestOnClosedAfterClose(t *testing.T) {
	client, adapter := net.Pipe()
	defer adapter.Close()

	tr := New(client, WithLogger(logging.Discard()))
	require.NoError(t, tr.Close())

	called := make(chan error, 1)
	tr.OnClosed(func(err error) { called <- err })

	select {
	case err := <-called:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("late subscriber not notified")
	}
}

func TestSendWritesFrame(t *testing.T) {
	client, adapter := net.Pipe()
	tr := New(client, WithCodec(LineCodec{}), WithLogger(logging.Discard()))
	tr.Start()
	defer tr.Close()

	got := make(chan []byte, 1)
	go func() {
		frame, err := LineCodec{}.ReadFrame(bufio.NewReader(adapter))
		if err == nil {
			got <- frame
		}
	}()

	require.NoError(t, tr.Send([]byte(`{"seq":7}`)))
	select {
	case frame := <-got:
		assert.Equal(t, `{"seq":7}`, string(frame))
	case <-time.After(waitFor):
		t.Fatal("frame not written")
	}
}

func TestSendAfterPeerClosed(t *testing.T) {
	client, adapter := net.Pipe()
	tr := New(client, WithLogger(logging.Discard()))
	rec := newRecorder(tr)
	tr.Start()

	adapter.Close()
	rec.wait(t)

	err := tr.Send([]byte(`{}`))
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("line")
	require.NoError(t, err)
	assert.Equal(t, "line", c.Name())

	c, err = CodecByName("")
	require.NoError(t, err)
	assert.Equal(t, "header", c.Name())

	_, err = CodecByName("xml")
	assert.Error(t, err)
}
