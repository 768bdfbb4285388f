// Package logging configures structured logging for the debug engine.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger *slog.Logger
	globalMu     sync.RWMutex

	// logWriter is the rotating file writer, if any.
	logWriter   io.WriteCloser
	logWriterMu sync.Mutex

	// allowedComponents is the component filter; nil allows all.
	allowedComponents map[string]bool
	componentsMu      sync.RWMutex
)

// Component names used across the engine.
const (
	ComponentTransport   = "transport"
	ComponentDAP         = "dap"
	ComponentSession     = "session"
	ComponentBreakpoints = "breakpoints"
	ComponentConsole     = "console"
	ComponentTelemetry   = "telemetry"
	ComponentAdapter     = "adapter"
	ComponentCLI         = "cli"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level (debug, info, warn, error).
	Level string

	// File is an optional log file path. Output is rotated with lumberjack.
	File string

	// MaxSizeMB is the size at which the log file is rotated. Default: 10.
	MaxSizeMB int

	// MaxBackups is the number of rotated files to keep. Default: 3.
	MaxBackups int

	// JSON selects the JSON handler instead of text.
	JSON bool

	// Components restricts output to the named components (empty means all).
	Components []string

	// Output overrides the console writer. Defaults to os.Stderr.
	Output io.Writer
}

// Initialize sets up the global logger.
func Initialize(cfg Config) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}

	componentsMu.Lock()
	if len(cfg.Components) > 0 {
		allowedComponents = make(map[string]bool, len(cfg.Components))
		for _, c := range cfg.Components {
			allowedComponents[c] = true
		}
	} else {
		allowedComponents = nil
	}
	componentsMu.Unlock()

	console := cfg.Output
	if console == nil {
		console = os.Stderr
	}

	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}

	w := console
	if cfg.File != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 10
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 3
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
		}
		logWriter = lj
		w = io.MultiWriter(console, lj)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)

	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()

	slog.SetDefault(logger)
	return nil
}

// ParseLevel converts a level name to a slog.Level. Empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch level {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// Get returns the global logger, or slog.Default if Initialize was not called.
func Get() *slog.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()

	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

// Close releases the log file, if one is open.
func Close() error {
	logWriterMu.Lock()
	defer logWriterMu.Unlock()

	if logWriter != nil {
		err := logWriter.Close()
		logWriter = nil
		return err
	}
	return nil
}

func isComponentAllowed(component string) bool {
	componentsMu.RLock()
	defer componentsMu.RUnlock()

	if allowedComponents == nil {
		return true
	}
	return allowedComponents[component]
}

// componentFilterHandler drops records for components outside the filter.
type componentFilterHandler struct {
	inner     slog.Handler
	component string
}

func (h *componentFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if !isComponentAllowed(h.component) {
		return false
	}
	return h.inner.Enabled(ctx, level)
}

func (h *componentFilterHandler) Handle(ctx context.Context, r slog.Record) error {
	if !isComponentAllowed(h.component) {
		return nil
	}
	return h.inner.Handle(ctx, r)
}

func (h *componentFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &componentFilterHandler{inner: h.inner.WithAttrs(attrs), component: h.component}
}

func (h *componentFilterHandler) WithGroup(name string) slog.Handler {
	return &componentFilterHandler{inner: h.inner.WithGroup(name), component: h.component}
}

// WithComponent returns a logger tagged with a component attribute.
func WithComponent(component string) *slog.Logger {
	base := Get()
	return slog.New(&componentFilterHandler{
		inner:     base.Handler().WithAttrs([]slog.Attr{slog.String("component", component)}),
		component: component,
	})
}

// WithSession returns a child logger carrying session context.
func WithSession(base *slog.Logger, sessionID, adapterType string) *slog.Logger {
	if base == nil {
		base = Get()
	}
	return base.With("session_id", sessionID, "adapter_type", adapterType)
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
