package process

import (
	"bytes"
	"log/slog"
	"sync"
)

// tailLines is how many stderr lines a process remembers.
const tailLines = 20

// maxPartial bounds a stderr line that never receives its newline.
const maxPartial = 4096

// lineWriter logs each line written to it and keeps the last few.
type lineWriter struct {
	logger *slog.Logger

	mu      sync.Mutex
	partial []byte
	tail    []string
}

func newLineWriter(logger *slog.Logger) *lineWriter {
	return &lineWriter{logger: logger}
}

func (w *lineWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial = append(w.partial, b...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(w.partial[:i])
		w.partial = w.partial[i+1:]
	}
	if len(w.partial) > maxPartial {
		w.emit(w.partial)
		w.partial = nil
	}
	return len(b), nil
}

// Flush emits a trailing line without a newline.
func (w *lineWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = nil
	}
}

// Tail returns the remembered lines, oldest first.
func (w *lineWriter) Tail() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.tail...)
}

func (w *lineWriter) emit(line []byte) {
	text := string(bytes.TrimRight(line, "\r"))
	if text == "" {
		return
	}
	w.logger.Debug("adapter stderr", "line", text)
	w.tail = append(w.tail, text)
	if len(w.tail) > tailLines {
		w.tail = w.tail[len(w.tail)-tailLines:]
	}
}
