package debug

import (
	"fmt"
	"path/filepath"

	"github.com/dshills/debugengine/internal/debug/dap"
)

// Thread is an adapter thread as last seen by the session.
type Thread struct {
	// ID is adapter-issued and scoped to the session.
	ID   int
	Name string

	// Stopped is set while the thread is suspended.
	Stopped bool

	// StopReason is the reason from the stopped event that suspended it.
	StopReason string
}

// StackFrame is one frame of a stopped thread. Frames are snapshots: a new
// stop or continue discards them.
type StackFrame struct {
	ID       int
	ThreadID int
	Name     string

	// Source is nil for frames without source information.
	Source *dap.Source

	Line   int
	Column int

	// PresentationHint is "normal", "label" or "subtle".
	PresentationHint string
}

// HasSource reports whether the frame has a source file or adapter content.
func (f *StackFrame) HasSource() bool {
	return f.Source != nil && (f.Source.Path != "" || f.Source.SourceReference > 0)
}

// SourcePath returns the source file path, or "".
func (f *StackFrame) SourcePath() string {
	if f.Source == nil {
		return ""
	}
	return f.Source.Path
}

// SourceURI returns the breakpoint key for the frame's file, or "" when the
// frame has no path.
func (f *StackFrame) SourceURI() string {
	if f.Source == nil || f.Source.Path == "" {
		return ""
	}
	return PathURI(f.Source.Path)
}

// FormatLocation returns "name:line".
func (f *StackFrame) FormatLocation() string {
	if f.Source == nil {
		return fmt.Sprintf("<unknown>:%d", f.Line)
	}
	return fmt.Sprintf("%s:%d", sourcePath(*f.Source), f.Line)
}

// sourcePath picks the most useful label for a source.
func sourcePath(src dap.Source) string {
	switch {
	case src.Path != "":
		return src.Path
	case src.Name != "":
		return src.Name
	case src.SourceReference > 0:
		return fmt.Sprintf("<source %d>", src.SourceReference)
	default:
		return "<unknown>"
	}
}

func newStackFrame(threadID int, f dap.StackFrame) StackFrame {
	return StackFrame{
		ID:               f.ID,
		ThreadID:         threadID,
		Name:             f.Name,
		Source:           f.Source,
		Line:             f.Line,
		Column:           f.Column,
		PresentationHint: f.PresentationHint,
	}
}

// threadTable keeps threads in the order the adapter reported them, with
// their memoized frames. It is guarded by the owning session's mutex.
type threadTable struct {
	order  []int
	byID   map[int]*Thread
	frames map[int][]StackFrame
}

func newThreadTable() *threadTable {
	return &threadTable{
		byID:   make(map[int]*Thread),
		frames: make(map[int][]StackFrame),
	}
}

// replace installs the full list from a threads response, keeping the
// stopped flags of threads that survive.
func (t *threadTable) replace(threads []dap.Thread) {
	byID := make(map[int]*Thread, len(threads))
	order := make([]int, 0, len(threads))
	for _, th := range threads {
		next := &Thread{ID: th.ID, Name: th.Name}
		if old, ok := t.byID[th.ID]; ok {
			next.Stopped = old.Stopped
			next.StopReason = old.StopReason
		}
		byID[th.ID] = next
		order = append(order, th.ID)
	}
	for id := range t.frames {
		if _, ok := byID[id]; !ok {
			delete(t.frames, id)
		}
	}
	t.byID, t.order = byID, order
}

func (t *threadTable) ensure(id int) *Thread {
	if th, ok := t.byID[id]; ok {
		return th
	}
	th := &Thread{ID: id, Name: fmt.Sprintf("Thread %d", id)}
	t.byID[id] = th
	t.order = append(t.order, id)
	return th
}

func (t *threadTable) remove(id int) {
	if _, ok := t.byID[id]; !ok {
		return
	}
	delete(t.byID, id)
	delete(t.frames, id)
	for i, v := range t.order {
		if v == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// setStopped marks one thread, or every thread when all is set.
func (t *threadTable) setStopped(id int, all, stopped bool, reason string) {
	if all {
		for _, th := range t.byID {
			th.Stopped, th.StopReason = stopped, reason
		}
	}
	if id > 0 {
		th := t.ensure(id)
		th.Stopped, th.StopReason = stopped, reason
	}
}

// dropFrames forgets memoized frames for one thread, or all when id is 0.
func (t *threadTable) dropFrames(id int) {
	if id == 0 {
		t.frames = make(map[int][]StackFrame)
		return
	}
	delete(t.frames, id)
}

func (t *threadTable) snapshot() []Thread {
	out := make([]Thread, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, *t.byID[id])
	}
	return out
}

func (t *threadTable) anyStopped() bool {
	for _, th := range t.byID {
		if th.Stopped {
			return true
		}
	}
	return false
}

// displayName returns the base name of a source path for short labels.
func displayName(path string) string {
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}
