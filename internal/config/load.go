package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment overrides.
const EnvPrefix = "DBGENGINE_"

// ParseError is returned when a settings file cannot be decoded.
type ParseError struct {
	Path string
	Err  error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying decode error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Load reads settings from path, applies environment overrides and validates
// the result. An empty path or a missing file yields the defaults.
//
// The decoder is selected by extension: .toml, .yaml or .yml.
func Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return s, fmt.Errorf("read settings %s: %w", path, err)
		default:
			if err := decode(path, data, &s); err != nil {
				return s, err
			}
		}
	}

	if err := ApplyEnv(&s, os.LookupEnv); err != nil {
		return s, err
	}

	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func decode(path string, data []byte, s *Settings) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, s)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, s)
	default:
		return fmt.Errorf("%w: unsupported settings format %q", ErrInvalidSettings, filepath.Ext(path))
	}
	if err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}

// envSetters maps environment variables (without prefix) to setters.
var envSetters = map[string]func(*Settings, string) error{
	"CLIENT_ID":   func(s *Settings, v string) error { s.Client.ID = v; return nil },
	"CLIENT_NAME": func(s *Settings, v string) error { s.Client.Name = v; return nil },
	"LOCALE":      func(s *Settings, v string) error { s.Client.Locale = v; return nil },
	"FRAMING":     func(s *Settings, v string) error { s.Framing = v; return nil },
	"LOG_LEVEL":   func(s *Settings, v string) error { s.Logging.Level = v; return nil },
	"LOG_FILE":    func(s *Settings, v string) error { s.Logging.File = v; return nil },
	"LOG_JSON": func(s *Settings, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		s.Logging.JSON = b
		return nil
	},
	"REQUEST_TIMEOUT":    durationSetter(func(s *Settings) *Duration { return &s.Timeouts.Request }),
	"HANDSHAKE_TIMEOUT":  durationSetter(func(s *Settings) *Duration { return &s.Timeouts.Handshake }),
	"DISCONNECT_TIMEOUT": durationSetter(func(s *Settings) *Duration { return &s.Timeouts.Disconnect }),
	"CONSOLE_MAX_ENTRIES": func(s *Settings, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		s.Console.MaxEntries = n
		return nil
	},
}

func durationSetter(field func(*Settings) *Duration) func(*Settings, string) error {
	return func(s *Settings, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(s) = Duration(d)
		return nil
	}
}

// ApplyEnv overrides settings from DBGENGINE_* variables using lookup.
func ApplyEnv(s *Settings, lookup func(string) (string, bool)) error {
	for name, set := range envSetters {
		v, ok := lookup(EnvPrefix + name)
		if !ok {
			continue
		}
		if err := set(s, v); err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalidSettings, EnvPrefix, name, err)
		}
	}
	return nil
}
