// Package config loads engine settings.
//
// Settings cover how the engine talks to adapters (client identity, timeouts,
// framing) and ambient concerns such as logging. Launch configurations are
// not loaded here; the engine receives them already resolved.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidSettings is returned when a settings value fails validation.
var ErrInvalidSettings = errors.New("invalid settings")

// Framing names accepted by Settings.Framing.
const (
	FramingHeader = "header"
	FramingLine   = "line"
)

// Duration is a time.Duration that decodes from strings such as "10s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Settings holds engine configuration.
type Settings struct {
	Client   ClientSettings  `toml:"client" yaml:"client"`
	Timeouts TimeoutSettings `toml:"timeouts" yaml:"timeouts"`
	Framing  string          `toml:"framing" yaml:"framing"`
	Console  ConsoleSettings `toml:"console" yaml:"console"`
	Logging  LoggingSettings `toml:"logging" yaml:"logging"`
}

// ClientSettings identify the engine to adapters in the initialize request.
type ClientSettings struct {
	ID     string `toml:"id" yaml:"id"`
	Name   string `toml:"name" yaml:"name"`
	Locale string `toml:"locale" yaml:"locale"`
}

// TimeoutSettings bound adapter round trips. Zero disables a timeout.
type TimeoutSettings struct {
	// Request applies to requests after the handshake.
	Request Duration `toml:"request" yaml:"request"`

	// Handshake applies to each initialize/launch/attach/configuration step.
	Handshake Duration `toml:"handshake" yaml:"handshake"`

	// Disconnect bounds the terminate/disconnect request on destroy.
	Disconnect Duration `toml:"disconnect" yaml:"disconnect"`
}

// ConsoleSettings configure the console aggregator.
type ConsoleSettings struct {
	// MaxEntries caps retained entries; the oldest are dropped first. Zero is unlimited.
	MaxEntries int `toml:"maxEntries" yaml:"maxEntries"`
}

// LoggingSettings mirror logging.Config.
type LoggingSettings struct {
	Level      string   `toml:"level" yaml:"level"`
	File       string   `toml:"file" yaml:"file"`
	MaxSizeMB  int      `toml:"maxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int      `toml:"maxBackups" yaml:"maxBackups"`
	JSON       bool     `toml:"json" yaml:"json"`
	Components []string `toml:"components" yaml:"components"`
}

// Default returns the default settings.
func Default() Settings {
	return Settings{
		Client: ClientSettings{
			ID:     "debugengine",
			Name:   "Debug Engine",
			Locale: "en-US",
		},
		Timeouts: TimeoutSettings{
			Request:    Duration(10 * time.Second),
			Handshake:  Duration(30 * time.Second),
			Disconnect: Duration(2 * time.Second),
		},
		Framing: FramingHeader,
		Console: ConsoleSettings{
			MaxEntries: 10000,
		},
		Logging: LoggingSettings{
			Level: "info",
		},
	}
}

// Validate checks settings for consistency.
func (s Settings) Validate() error {
	switch s.Framing {
	case FramingHeader, FramingLine:
	default:
		return fmt.Errorf("%w: framing %q must be %q or %q", ErrInvalidSettings, s.Framing, FramingHeader, FramingLine)
	}
	if s.Timeouts.Request < 0 {
		return fmt.Errorf("%w: timeouts.request must not be negative", ErrInvalidSettings)
	}
	if s.Timeouts.Handshake < 0 {
		return fmt.Errorf("%w: timeouts.handshake must not be negative", ErrInvalidSettings)
	}
	if s.Timeouts.Disconnect < 0 {
		return fmt.Errorf("%w: timeouts.disconnect must not be negative", ErrInvalidSettings)
	}
	if s.Console.MaxEntries < 0 {
		return fmt.Errorf("%w: console.maxEntries must not be negative", ErrInvalidSettings)
	}
	if s.Client.ID == "" {
		return fmt.Errorf("%w: client.id is required", ErrInvalidSettings)
	}
	return nil
}
