package debug

import (
	"encoding/json"
	"fmt"

	"github.com/dshills/debugengine/internal/debug/adapters"
)

// Request kinds.
const (
	RequestLaunch = "launch"
	RequestAttach = "attach"
)

// Configuration is a resolved launch or attach description. A session keeps
// the value it was created from; later edits by the caller do not affect it.
type Configuration struct {
	// Name labels the session.
	Name string `json:"name"`

	// Type is the debug type, e.g. "go" or "node". It is sent as the
	// adapterID in the initialize request.
	Type string `json:"type"`

	// Request is RequestLaunch or RequestAttach.
	Request string `json:"request"`

	// WorkspaceFolder is the folder the configuration is scoped to.
	WorkspaceFolder string `json:"workspaceFolder,omitempty"`

	// Adapter describes how to reach the debug adapter.
	Adapter adapters.Descriptor `json:"adapter"`

	// Arguments are the adapter-specific launch or attach arguments, sent
	// verbatim apart from the added __sessionId field.
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Validate checks the configuration before a session is created from it.
func (c Configuration) Validate() error {
	if c.Type == "" {
		return fmt.Errorf("configuration %q: type is required", c.Name)
	}
	switch c.Request {
	case RequestLaunch, RequestAttach:
	default:
		return fmt.Errorf("configuration %q: request must be %q or %q", c.Name, RequestLaunch, RequestAttach)
	}
	if len(c.Arguments) > 0 && !json.Valid(c.Arguments) {
		return fmt.Errorf("configuration %q: arguments are not valid JSON", c.Name)
	}
	if err := c.Adapter.Validate(); err != nil {
		return fmt.Errorf("configuration %q: %w: %w", c.Name, ErrNoAdapter, err)
	}
	return nil
}

// clone copies the mutable parts of c.
func (c Configuration) clone() Configuration {
	out := c
	out.Arguments = append(json.RawMessage(nil), c.Arguments...)
	out.Adapter.Args = append([]string(nil), c.Adapter.Args...)
	if c.Adapter.Env != nil {
		out.Adapter.Env = make(map[string]string, len(c.Adapter.Env))
		for k, v := range c.Adapter.Env {
			out.Adapter.Env[k] = v
		}
	}
	return out
}
