package transport

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/gorilla/websocket"
)

// wsStream adapts a WebSocket connection to a byte stream carrying one JSON
// document per message. Each received message is followed by a newline, so
// the stream is read with LineCodec.
type wsStream struct {
	conn *websocket.Conn

	readMu  sync.Mutex
	pending []byte

	writeMu sync.Mutex
}

// NewWebSocketStream returns a stream over conn for use with LineCodec.
func NewWebSocketStream(conn *websocket.Conn) io.ReadWriteCloser {
	return &wsStream{conn: conn}
}

func (s *wsStream) Read(p []byte) (int, error) {
	s.readMu.Lock()
	defer s.readMu.Unlock()

	for len(s.pending) == 0 {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		data = bytes.TrimRight(data, "\r\n")
		if bytes.ContainsAny(data, "\r\n") {
			// One message is one line; invalid JSON is left for the codec to reject.
			var compact bytes.Buffer
			if json.Compact(&compact, data) == nil {
				data = compact.Bytes()
			}
		}
		s.pending = append(data, '\n')
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	msg := bytes.TrimRight(p, "\n")
	if err := s.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	s.writeMu.Lock()
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}
