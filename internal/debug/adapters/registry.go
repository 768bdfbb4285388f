package adapters

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry maps debug types to default descriptors. It lets a caller start a
// session with only a type name when no adapter command is given.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Descriptor
}

// NewRegistry returns a registry with well-known stdio adapters.
func NewRegistry() *Registry {
	r := &Registry{entries: make(map[string]Descriptor)}
	r.Register("go", Descriptor{Kind: KindExecutable, Command: "dlv", Args: []string{"dap"}})
	r.Register("python", Descriptor{Kind: KindExecutable, Command: "python3", Args: []string{"-m", "debugpy.adapter"}})
	r.Register("lldb", Descriptor{Kind: KindExecutable, Command: "lldb-dap"})
	return r
}

// Register sets the default descriptor for debugType.
func (r *Registry) Register(debugType string, d Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[debugType] = d
}

// Lookup returns a copy of the descriptor for debugType.
func (r *Registry) Lookup(debugType string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.entries[debugType]
	if !ok {
		return Descriptor{}, fmt.Errorf("no adapter registered for type %q", debugType)
	}
	d.Args = append([]string(nil), d.Args...)
	return d, nil
}

// Types returns the registered debug types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// DetectType guesses a debug type from a program path.
func DetectType(program string) string {
	switch strings.ToLower(filepath.Ext(program)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js", ".mjs", ".cjs", ".ts":
		return "node"
	case ".c", ".cc", ".cpp", ".rs":
		return "lldb"
	default:
		return ""
	}
}
