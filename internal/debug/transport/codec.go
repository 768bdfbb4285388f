package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/go-dap"
)

// MaxFrameSize is the largest frame the line codec accepts (10MB).
const MaxFrameSize = 10 * 1024 * 1024

// Codec splits a byte stream into frames and writes frames back.
//
// ReadFrame returns io.EOF only when the stream ends on a frame boundary.
// Any other failure to produce a frame is reported as a *FramingError.
type Codec interface {
	// Name identifies the codec in errors and logs.
	Name() string

	// ReadFrame reads one frame payload.
	ReadFrame(r *bufio.Reader) ([]byte, error)

	// WriteFrame writes payload as one frame.
	WriteFrame(w io.Writer, payload []byte) error
}

// CodecByName returns the codec for "header" or "line".
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", "header":
		return HeaderCodec{}, nil
	case "line":
		return LineCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown framing %q", name)
	}
}

// HeaderCodec is the DAP base protocol: a Content-Length header block
// followed by a JSON body.
type HeaderCodec struct{}

// Name returns "header".
func (HeaderCodec) Name() string { return "header" }

// ReadFrame reads one Content-Length framed message.
func (c HeaderCodec) ReadFrame(r *bufio.Reader) ([]byte, error) {
	if _, err := r.Peek(1); err != nil {
		return nil, err
	}

	payload, err := dap.ReadBaseMessage(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, &FramingError{Codec: c.Name(), Err: err}
	}
	if !json.Valid(payload) {
		return nil, &FramingError{Codec: c.Name(), Err: errors.New("payload is not valid JSON")}
	}
	return payload, nil
}

// WriteFrame writes payload with a Content-Length header.
func (HeaderCodec) WriteFrame(w io.Writer, payload []byte) error {
	return dap.WriteBaseMessage(w, payload)
}

// LineCodec frames one JSON document per line.
type LineCodec struct{}

// Name returns "line".
func (LineCodec) Name() string { return "line" }

// ReadFrame reads one newline-terminated JSON document. Blank lines are skipped.
func (c LineCodec) ReadFrame(r *bufio.Reader) ([]byte, error) {
	for {
		if _, err := r.Peek(1); err != nil {
			return nil, err
		}

		line, err := readLine(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, &FramingError{Codec: c.Name(), Err: err}
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			return nil, &FramingError{Codec: c.Name(), Err: errors.New("line is not valid JSON")}
		}
		return line, nil
	}
}

func readLine(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > MaxFrameSize {
			return nil, fmt.Errorf("line exceeds maximum size %d", MaxFrameSize)
		}
		switch {
		case err == nil:
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return nil, err
		}
	}
}

// WriteFrame writes payload followed by a newline. Payloads must not
// contain raw newlines; encoding/json output never does.
func (c LineCodec) WriteFrame(w io.Writer, payload []byte) error {
	if bytes.IndexByte(payload, '\n') >= 0 {
		return &FramingError{Codec: c.Name(), Err: errors.New("payload contains a newline")}
	}
	buf := make([]byte, 0, len(payload)+1)
	buf = append(buf, payload...)
	buf = append(buf, '\n')
	_, err := w.Write(buf)
	return err
}
