package debug

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dshills/debugengine/internal/debug/dap"
	"github.com/dshills/debugengine/internal/event"
	"github.com/dshills/debugengine/internal/logging"
)

// Severity classifies console entries.
type Severity int

const (
	// SeverityInfo is ordinary output.
	SeverityInfo Severity = iota
	// SeverityWarning is output the adapter marked important.
	SeverityWarning
	// SeverityError is stderr output and failed evaluations.
	SeverityError
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "info"
	}
}

// severityFor maps an output category to a severity.
func severityFor(category string) Severity {
	switch category {
	case dap.CategoryStderr:
		return SeverityError
	case dap.CategoryImportant:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

// Location is a source position attached to a console entry.
type Location struct {
	Path   string
	Line   int
	Column int
}

// ConsoleEntry is one line or block of console output.
type ConsoleEntry struct {
	// Seq is the insertion order, starting at 1.
	Seq uint64

	SessionID string
	Severity  Severity
	Category  string

	// Text may contain ANSI escape sequences.
	Text string

	Location *Location

	// Result holds a structured value, such as an evaluation result or an
	// output event that carried a variables reference. Its children are
	// fetched lazily through the owning session.
	Result *ExpressionNode

	Time time.Time
}

// Console aggregates adapter output from every session into one ordered
// append-only log.
type Console struct {
	mu         sync.Mutex
	entries    []ConsoleEntry
	nextSeq    uint64
	maxEntries int

	// lastStreamed is the text of the entry the streaming path last wrote.
	// It is cleared when any other path appends.
	lastStreamed string
	streaming    bool

	logger    *slog.Logger
	telemetry *slog.Logger
	changed   *event.Emitter[struct{}]
}

// ConsoleOption configures a Console.
type ConsoleOption func(*Console)

// WithMaxEntries caps retained entries. Zero is unlimited.
func WithMaxEntries(n int) ConsoleOption {
	return func(c *Console) {
		c.maxEntries = n
	}
}

// WithConsoleLogger sets the logger for console housekeeping.
func WithConsoleLogger(l *slog.Logger) ConsoleOption {
	return func(c *Console) {
		c.logger = l
	}
}

// WithTelemetryLogger sets the sink for telemetry output.
func WithTelemetryLogger(l *slog.Logger) ConsoleOption {
	return func(c *Console) {
		c.telemetry = l
	}
}

// NewConsole creates an empty console.
func NewConsole(opts ...ConsoleOption) *Console {
	c := &Console{
		logger:    logging.WithComponent(logging.ComponentConsole),
		telemetry: logging.WithComponent(logging.ComponentTelemetry),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.changed = event.NewEmitter[struct{}]("console.changed", event.WithPanicHandler(logPanic))
	return c
}

// OnDidChange subscribes to any change of the entry list.
func (c *Console) OnDidChange(fn func()) event.Subscription {
	return c.changed.Subscribe(func(struct{}) { fn() })
}

// AppendOutput records an adapter output event. Telemetry never reaches the
// visible log. Output carrying a variables reference becomes a discrete
// structured entry; everything else goes through the streaming path.
func (c *Console) AppendOutput(sessionID string, body dap.OutputEventBody, result *ExpressionNode) {
	if body.Category == dap.CategoryTelemetry {
		c.telemetry.Info("adapter telemetry",
			"session_id", sessionID,
			"event", body.Output,
			"data", string(body.Data))
		return
	}

	var loc *Location
	if body.Source != nil && body.Line > 0 {
		loc = &Location{Path: sourcePath(*body.Source), Line: body.Line, Column: body.Column}
	}

	if result != nil {
		c.add(ConsoleEntry{
			SessionID: sessionID,
			Severity:  severityFor(body.Category),
			Category:  body.Category,
			Text:      body.Output,
			Location:  loc,
			Result:    result,
		})
		return
	}
	c.append(sessionID, severityFor(body.Category), body.Category, body.Output, loc)
}

// Append writes a chunk through the streaming path. When the newest entry
// is the one this path last wrote, has the same session and severity, and
// does not end a line, the chunk is concatenated onto it.
func (c *Console) Append(sessionID string, severity Severity, text string) {
	c.append(sessionID, severity, "", text, nil)
}

func (c *Console) append(sessionID string, severity Severity, category, text string, loc *Location) {
	if text == "" {
		return
	}

	c.mu.Lock()
	if n := len(c.entries); n > 0 && c.streaming {
		last := &c.entries[n-1]
		if last.Text == c.lastStreamed &&
			last.SessionID == sessionID &&
			last.Severity == severity &&
			last.Result == nil &&
			!strings.HasSuffix(last.Text, "\n") {
			last.Text += text
			c.lastStreamed = last.Text
			c.mu.Unlock()
			c.changed.Emit(struct{}{})
			return
		}
	}
	c.nextSeq++
	c.entries = append(c.entries, ConsoleEntry{
		Seq:       c.nextSeq,
		SessionID: sessionID,
		Severity:  severity,
		Category:  category,
		Text:      text,
		Location:  loc,
		Time:      time.Now(),
	})
	c.lastStreamed = text
	c.streaming = true
	c.trim()
	c.mu.Unlock()
	c.changed.Emit(struct{}{})
}

// AppendError adds a discrete error entry.
func (c *Console) AppendError(sessionID, text string) {
	c.add(ConsoleEntry{SessionID: sessionID, Severity: SeverityError, Text: text})
}

// AppendResult adds an evaluation result as a structured entry.
func (c *Console) AppendResult(sessionID string, node *ExpressionNode) {
	sev := SeverityInfo
	text := node.Value
	if node.Err != nil {
		sev = SeverityError
		text = node.Err.Error()
	}
	c.add(ConsoleEntry{SessionID: sessionID, Severity: sev, Text: text, Result: node})
}

func (c *Console) add(e ConsoleEntry) {
	c.mu.Lock()
	c.nextSeq++
	e.Seq = c.nextSeq
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	c.entries = append(c.entries, e)
	c.streaming = false
	c.lastStreamed = ""
	c.trim()
	c.mu.Unlock()
	c.changed.Emit(struct{}{})
}

// trim drops the oldest entries beyond the cap. c.mu must be held.
func (c *Console) trim() {
	if c.maxEntries <= 0 || len(c.entries) <= c.maxEntries {
		return
	}
	drop := len(c.entries) - c.maxEntries
	c.entries = append(c.entries[:0:0], c.entries[drop:]...)
	c.logger.Debug("console entries dropped", "count", drop, "max", c.maxEntries)
}

// Entries returns a copy of the log, oldest first.
func (c *Console) Entries() []ConsoleEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ConsoleEntry(nil), c.entries...)
}

// Len returns the number of entries.
func (c *Console) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear removes every entry.
func (c *Console) Clear() {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = nil
	c.streaming = false
	c.lastStreamed = ""
	c.mu.Unlock()
	if n > 0 {
		c.logger.Debug("console cleared", "entries", n)
		c.changed.Emit(struct{}{})
	}
}

func logPanic(name string, recovered any, stack []byte) {
	logging.Get().Error("subscriber panic", "event", name, "panic", recovered, "stack", string(stack))
}
