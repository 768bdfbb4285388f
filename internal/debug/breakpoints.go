package debug

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dshills/debugengine/internal/debug/dap"
	"github.com/dshills/debugengine/internal/event"
	"github.com/dshills/debugengine/internal/logging"
)

// Verification is one session's view of a breakpoint.
type Verification struct {
	Verified bool

	// Line is the line the adapter actually bound to, if it reported one.
	Line int

	Message string

	// AdapterID is the adapter's id for the breakpoint, used to match
	// later breakpoint events.
	AdapterID int
}

// Breakpoint is a source breakpoint. Values returned by the manager are
// copies.
type Breakpoint struct {
	ID int

	// URI is the normalized file URI.
	URI    string
	Line   int
	Column int

	Enabled      bool
	Condition    string
	HitCondition string

	// LogMessage turns the breakpoint into a logpoint.
	LogMessage string

	// HitCount counts stops that reported this breakpoint.
	HitCount int

	// Verifications maps session id to that session's verification.
	Verifications map[string]Verification
}

// IsLogpoint reports whether the breakpoint logs instead of stopping.
func (b *Breakpoint) IsLogpoint() bool {
	return b.LogMessage != ""
}

// Verified reports whether any session verified the breakpoint.
func (b *Breakpoint) Verified() bool {
	for _, v := range b.Verifications {
		if v.Verified {
			return true
		}
	}
	return false
}

func (b *Breakpoint) copy() Breakpoint {
	out := *b
	out.Verifications = make(map[string]Verification, len(b.Verifications))
	for k, v := range b.Verifications {
		out.Verifications[k] = v
	}
	return out
}

func (b *Breakpoint) source() dap.SourceBreakpoint {
	return dap.SourceBreakpoint{
		Line:         b.Line,
		Column:       b.Column,
		Condition:    b.Condition,
		HitCondition: b.HitCondition,
		LogMessage:   b.LogMessage,
	}
}

// BreakpointSpec describes a breakpoint to add.
type BreakpointSpec struct {
	Line         int
	Column       int
	Condition    string
	HitCondition string
	LogMessage   string

	// Disabled creates the breakpoint without pushing it.
	Disabled bool
}

// BreakpointUpdate changes the non-nil fields of a breakpoint.
type BreakpointUpdate struct {
	Enabled      *bool
	Condition    *string
	HitCondition *string
	LogMessage   *string
}

// FunctionBreakpoint breaks on entry to a named function.
type FunctionBreakpoint struct {
	ID            int
	Name          string
	Condition     string
	HitCondition  string
	Enabled       bool
	Verifications map[string]Verification
}

func (b *FunctionBreakpoint) copy() FunctionBreakpoint {
	out := *b
	out.Verifications = make(map[string]Verification, len(b.Verifications))
	for k, v := range b.Verifications {
		out.Verifications[k] = v
	}
	return out
}

// ExceptionFilter is an adapter-defined exception breakpoint.
type ExceptionFilter struct {
	Filter  string
	Label   string
	Enabled bool
}

// BreakpointsChange is delivered to OnDidChangeBreakpoints subscribers.
type BreakpointsChange struct {
	// All is the full breakpoint list after the change.
	All []Breakpoint

	Added   []Breakpoint
	Removed []Breakpoint
	Changed []Breakpoint
}

// BreakpointManager is the process-wide breakpoint registry. It owns the
// desired state and pushes it to every attached session; sessions only
// contribute their own verification results.
type BreakpointManager struct {
	mu         sync.Mutex
	nextID     int
	byID       map[int]*Breakpoint
	byURI      map[string][]*Breakpoint
	functions  []*FunctionBreakpoint
	exceptions []*ExceptionFilter

	// sessions in attach order.
	sessions []*Session

	changed *event.Emitter[BreakpointsChange]
	logger  *slog.Logger
}

// BreakpointManagerOption configures a BreakpointManager.
type BreakpointManagerOption func(*BreakpointManager)

// WithBreakpointLogger sets the manager logger.
func WithBreakpointLogger(l *slog.Logger) BreakpointManagerOption {
	return func(m *BreakpointManager) {
		m.logger = l
	}
}

// NewBreakpointManager creates an empty registry.
func NewBreakpointManager(opts ...BreakpointManagerOption) *BreakpointManager {
	m := &BreakpointManager{
		byID:    make(map[int]*Breakpoint),
		byURI:   make(map[string][]*Breakpoint),
		changed: event.NewEmitter[BreakpointsChange]("breakpoints.changed", event.WithPanicHandler(logPanic)),
		logger:  logging.WithComponent(logging.ComponentBreakpoints),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnDidChangeBreakpoints subscribes to desired-state and verification changes.
func (m *BreakpointManager) OnDidChangeBreakpoints(fn func(BreakpointsChange)) event.Subscription {
	return m.changed.Subscribe(fn)
}

// NormalizeURI turns a path or URI into the canonical file URI used as the
// breakpoint key. Non-file URIs are returned unchanged.
func NormalizeURI(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("empty source uri")
	}
	if !strings.Contains(raw, "://") {
		abs, err := filepath.Abs(raw)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", raw, err)
		}
		return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse uri %s: %w", raw, err)
	}
	if !strings.EqualFold(u.Scheme, "file") {
		return u.String(), nil
	}
	clean := filepath.ToSlash(filepath.Clean(filepath.FromSlash(u.Path)))
	return (&url.URL{Scheme: "file", Path: clean}).String(), nil
}

// sourceFor builds the adapter source for a normalized URI.
func sourceFor(uri string) dap.Source {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme != "file" {
		return dap.Source{Path: uri, Name: displayName(uri)}
	}
	path := filepath.FromSlash(u.Path)
	return dap.Source{Path: path, Name: displayName(path)}
}

// PathURI converts a file path reported by an adapter to its normalized URI.
func PathURI(path string) string {
	uri, err := NormalizeURI(path)
	if err != nil {
		return path
	}
	return uri
}

func (m *BreakpointManager) allLocked() []Breakpoint {
	uris := make([]string, 0, len(m.byURI))
	for uri := range m.byURI {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	var out []Breakpoint
	for _, uri := range uris {
		for _, bp := range m.byURI[uri] {
			out = append(out, bp.copy())
		}
	}
	return out
}

func (m *BreakpointManager) emit(change BreakpointsChange) {
	m.mu.Lock()
	change.All = m.allLocked()
	m.mu.Unlock()
	m.changed.Emit(change)
}

// AddBreakpoint adds a breakpoint at uri and pushes the file to every
// session. Adding at an existing position returns the existing breakpoint.
// A push error is returned alongside the breakpoint, which is kept.
func (m *BreakpointManager) AddBreakpoint(ctx context.Context, uri string, spec BreakpointSpec) (Breakpoint, error) {
	if spec.Line < 1 {
		return Breakpoint{}, fmt.Errorf("invalid line %d", spec.Line)
	}
	norm, err := NormalizeURI(uri)
	if err != nil {
		return Breakpoint{}, err
	}

	m.mu.Lock()
	for _, bp := range m.byURI[norm] {
		if bp.Line == spec.Line && bp.Column == spec.Column {
			existing := bp.copy()
			m.mu.Unlock()
			return existing, nil
		}
	}
	m.nextID++
	bp := &Breakpoint{
		ID:            m.nextID,
		URI:           norm,
		Line:          spec.Line,
		Column:        spec.Column,
		Enabled:       !spec.Disabled,
		Condition:     spec.Condition,
		HitCondition:  spec.HitCondition,
		LogMessage:    spec.LogMessage,
		Verifications: make(map[string]Verification),
	}
	m.byID[bp.ID] = bp
	m.byURI[norm] = insertSorted(m.byURI[norm], bp)
	added := bp.copy()
	m.mu.Unlock()

	m.logger.Debug("breakpoint added", "id", added.ID, "uri", norm, "line", added.Line)
	m.emit(BreakpointsChange{Added: []Breakpoint{added}})
	return added, m.pushFileToAll(ctx, norm)
}

// insertSorted keeps a file's breakpoints ordered by position.
func insertSorted(list []*Breakpoint, bp *Breakpoint) []*Breakpoint {
	i := sort.Search(len(list), func(i int) bool {
		if list[i].Line != bp.Line {
			return list[i].Line > bp.Line
		}
		return list[i].Column > bp.Column
	})
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = bp
	return list
}

// RemoveBreakpoint deletes a breakpoint and pushes its file's remaining set.
func (m *BreakpointManager) RemoveBreakpoint(ctx context.Context, id int) error {
	m.mu.Lock()
	bp, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrBreakpointNotFound, id)
	}
	delete(m.byID, id)
	list := m.byURI[bp.URI]
	for i, b := range list {
		if b.ID == id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(m.byURI, bp.URI)
	} else {
		m.byURI[bp.URI] = list
	}
	removed := bp.copy()
	m.mu.Unlock()

	m.emit(BreakpointsChange{Removed: []Breakpoint{removed}})
	return m.pushFileToAll(ctx, removed.URI)
}

// UpdateBreakpoint changes desired-state fields and re-pushes the file.
func (m *BreakpointManager) UpdateBreakpoint(ctx context.Context, id int, update BreakpointUpdate) (Breakpoint, error) {
	m.mu.Lock()
	bp, ok := m.byID[id]
	if !ok {
		m.mu.Unlock()
		return Breakpoint{}, fmt.Errorf("%w: %d", ErrBreakpointNotFound, id)
	}
	if update.Enabled != nil {
		bp.Enabled = *update.Enabled
	}
	if update.Condition != nil {
		bp.Condition = *update.Condition
	}
	if update.HitCondition != nil {
		bp.HitCondition = *update.HitCondition
	}
	if update.LogMessage != nil {
		bp.LogMessage = *update.LogMessage
	}
	changed := bp.copy()
	m.mu.Unlock()

	m.emit(BreakpointsChange{Changed: []Breakpoint{changed}})
	return changed, m.pushFileToAll(ctx, changed.URI)
}

// SetEnabled enables or disables a breakpoint.
func (m *BreakpointManager) SetEnabled(ctx context.Context, id int, enabled bool) error {
	_, err := m.UpdateBreakpoint(ctx, id, BreakpointUpdate{Enabled: &enabled})
	return err
}

// ToggleBreakpointEnable flips the enabled flag of a breakpoint.
func (m *BreakpointManager) ToggleBreakpointEnable(ctx context.Context, id int) error {
	m.mu.Lock()
	bp, ok := m.byID[id]
	var enabled bool
	if ok {
		enabled = !bp.Enabled
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrBreakpointNotFound, id)
	}
	return m.SetEnabled(ctx, id, enabled)
}

// ToggleBreakpoint removes the breakpoint at uri:line:column if there is
// one and adds one otherwise. Column 0 means the whole line. It reports
// whether a breakpoint now exists there.
func (m *BreakpointManager) ToggleBreakpoint(ctx context.Context, uri string, line, column int) (bool, error) {
	norm, err := NormalizeURI(uri)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	id := 0
	for _, bp := range m.byURI[norm] {
		if bp.Line == line && bp.Column == column {
			id = bp.ID
			break
		}
	}
	m.mu.Unlock()

	if id != 0 {
		return false, m.RemoveBreakpoint(ctx, id)
	}
	_, err = m.AddBreakpoint(ctx, norm, BreakpointSpec{Line: line, Column: column})
	return true, err
}

// RemoveAll deletes every source and function breakpoint and pushes empty
// sets for the affected files.
func (m *BreakpointManager) RemoveAll(ctx context.Context) error {
	m.mu.Lock()
	removed := m.allLocked()
	uris := make([]string, 0, len(m.byURI))
	for uri := range m.byURI {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	hadFunctions := len(m.functions) > 0
	m.byID = make(map[int]*Breakpoint)
	m.byURI = make(map[string][]*Breakpoint)
	m.functions = nil
	m.mu.Unlock()

	if len(removed) > 0 {
		m.emit(BreakpointsChange{Removed: removed})
	}
	var errs []error
	for _, uri := range uris {
		errs = append(errs, m.pushFileToAll(ctx, uri))
	}
	if hadFunctions {
		errs = append(errs, m.pushFunctionsToAll(ctx))
	}
	return errors.Join(errs...)
}

// Breakpoints returns every source breakpoint ordered by URI and position.
func (m *BreakpointManager) Breakpoints() []Breakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.allLocked()
}

// BreakpointsFor returns the breakpoints of one file.
func (m *BreakpointManager) BreakpointsFor(uri string) []Breakpoint {
	norm, err := NormalizeURI(uri)
	if err != nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Breakpoint, 0, len(m.byURI[norm]))
	for _, bp := range m.byURI[norm] {
		out = append(out, bp.copy())
	}
	return out
}

// Breakpoint returns the breakpoint with id.
func (m *BreakpointManager) Breakpoint(id int) (Breakpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bp, ok := m.byID[id]
	if !ok {
		return Breakpoint{}, false
	}
	return bp.copy(), true
}

// AddFunctionBreakpoint adds a function breakpoint and pushes the full
// function set to sessions that support them.
func (m *BreakpointManager) AddFunctionBreakpoint(ctx context.Context, name, condition string) (FunctionBreakpoint, error) {
	if name == "" {
		return FunctionBreakpoint{}, errors.New("function name is required")
	}
	m.mu.Lock()
	m.nextID++
	fb := &FunctionBreakpoint{
		ID:            m.nextID,
		Name:          name,
		Condition:     condition,
		Enabled:       true,
		Verifications: make(map[string]Verification),
	}
	m.functions = append(m.functions, fb)
	out := fb.copy()
	m.mu.Unlock()

	return out, m.pushFunctionsToAll(ctx)
}

// RemoveFunctionBreakpoint deletes a function breakpoint.
func (m *BreakpointManager) RemoveFunctionBreakpoint(ctx context.Context, id int) error {
	m.mu.Lock()
	idx := -1
	for i, fb := range m.functions {
		if fb.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrBreakpointNotFound, id)
	}
	m.functions = append(m.functions[:idx:idx], m.functions[idx+1:]...)
	m.mu.Unlock()

	return m.pushFunctionsToAll(ctx)
}

// FunctionBreakpoints returns the function breakpoints.
func (m *BreakpointManager) FunctionBreakpoints() []FunctionBreakpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]FunctionBreakpoint, len(m.functions))
	for i, fb := range m.functions {
		out[i] = fb.copy()
	}
	return out
}

// ExceptionFilters returns the known exception filters.
func (m *BreakpointManager) ExceptionFilters() []ExceptionFilter {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExceptionFilter, len(m.exceptions))
	for i, f := range m.exceptions {
		out[i] = *f
	}
	return out
}

// SetExceptionFilter enables or disables an exception filter and pushes the
// enabled set to every session. Unknown filters are added.
func (m *BreakpointManager) SetExceptionFilter(ctx context.Context, filter string, enabled bool) error {
	m.mu.Lock()
	found := false
	for _, f := range m.exceptions {
		if f.Filter == filter {
			f.Enabled = enabled
			found = true
			break
		}
	}
	if !found {
		m.exceptions = append(m.exceptions, &ExceptionFilter{Filter: filter, Label: filter, Enabled: enabled})
	}
	m.mu.Unlock()

	return m.pushToAll(ctx, m.sendExceptions)
}

// registerExceptionFilters records the filters an adapter offers. Filters
// seen for the first time take the adapter's default; known filters keep
// the user's choice.
func (m *BreakpointManager) registerExceptionFilters(filters []dap.ExceptionBreakpointsFilter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, af := range filters {
		known := false
		for _, f := range m.exceptions {
			if f.Filter == af.Filter {
				known = true
				if f.Label == f.Filter && af.Label != "" {
					f.Label = af.Label
				}
				break
			}
		}
		if !known {
			m.exceptions = append(m.exceptions, &ExceptionFilter{Filter: af.Filter, Label: af.Label, Enabled: af.Default})
		}
	}
}

// Reset drops all breakpoints and filters without pushing anything.
func (m *BreakpointManager) Reset() {
	m.mu.Lock()
	m.nextID = 0
	m.byID = make(map[int]*Breakpoint)
	m.byURI = make(map[string][]*Breakpoint)
	m.functions = nil
	m.exceptions = nil
	m.mu.Unlock()
}

// attach registers a session as a push target. Nothing is sent until the
// session's handshake calls configure.
func (m *BreakpointManager) attach(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// terminate sets the state before it detaches.
	if m.attachedLocked(s) || s.State() == StateTerminated {
		return
	}
	m.sessions = append(m.sessions, s)
}

// detach removes a session and purges its verification records.
func (m *BreakpointManager) detach(sessionID string) {
	m.mu.Lock()
	for i, s := range m.sessions {
		if s.ID() == sessionID {
			m.sessions = append(m.sessions[:i:i], m.sessions[i+1:]...)
			break
		}
	}
	var changed []Breakpoint
	for _, bp := range m.byID {
		if _, ok := bp.Verifications[sessionID]; ok {
			delete(bp.Verifications, sessionID)
			changed = append(changed, bp.copy())
		}
	}
	for _, fb := range m.functions {
		delete(fb.Verifications, sessionID)
	}
	m.mu.Unlock()

	if len(changed) > 0 {
		sortBreakpoints(changed)
		m.emit(BreakpointsChange{Changed: changed})
	}
}

// attachedLocked reports whether s is still a push target. m.mu must be
// held.
func (m *BreakpointManager) attachedLocked(s *Session) bool {
	for _, existing := range m.sessions {
		if existing == s {
			return true
		}
	}
	return false
}

func sortBreakpoints(list []Breakpoint) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].URI != list[j].URI {
			return list[i].URI < list[j].URI
		}
		return list[i].Line < list[j].Line
	})
}

func (m *BreakpointManager) targets() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Session(nil), m.sessions...)
}

// pushToAll runs send for every configured session under that session's
// push lock. A failure for one session does not stop the others.
func (m *BreakpointManager) pushToAll(ctx context.Context, send func(context.Context, *Session) error) error {
	var errs []error
	for _, s := range m.targets() {
		if err := m.withPushLock(s, func() error { return send(ctx, s) }); err != nil {
			m.logger.Warn("breakpoint push failed", "session_id", s.ID(), "error", err)
			errs = append(errs, fmt.Errorf("session %s: %w", s.ID(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *BreakpointManager) withPushLock(s *Session, fn func() error) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()
	if !s.bpReady || s.State() == StateTerminated {
		return nil
	}
	return fn()
}

func (m *BreakpointManager) pushFileToAll(ctx context.Context, uri string) error {
	return m.pushToAll(ctx, func(ctx context.Context, s *Session) error {
		return m.sendFile(ctx, s, uri)
	})
}

func (m *BreakpointManager) pushFunctionsToAll(ctx context.Context) error {
	return m.pushToAll(ctx, m.sendFunctions)
}

// configure sends the complete desired state to a session during its
// handshake and marks it ready for later pushes. The caller holds
// s.pushMu.
func (m *BreakpointManager) configure(ctx context.Context, s *Session) error {
	s.bpReady = true

	m.mu.Lock()
	uris := make([]string, 0, len(m.byURI))
	for uri, list := range m.byURI {
		for _, bp := range list {
			if bp.Enabled {
				uris = append(uris, uri)
				break
			}
		}
	}
	m.mu.Unlock()
	sort.Strings(uris)

	var errs []error
	for _, uri := range uris {
		errs = append(errs, m.sendFile(ctx, s, uri))
	}
	errs = append(errs, m.sendFunctions(ctx, s), m.sendExceptions(ctx, s))
	return errors.Join(errs...)
}

// sendFile pushes the enabled breakpoints of uri to s and records the
// verification results positionally against the array as sent.
func (m *BreakpointManager) sendFile(ctx context.Context, s *Session, uri string) error {
	m.mu.Lock()
	var (
		ids  []int
		args = dap.SetBreakpointsArguments{Source: sourceFor(uri), Breakpoints: []dap.SourceBreakpoint{}}
	)
	for _, bp := range m.byURI[uri] {
		if !bp.Enabled {
			delete(bp.Verifications, s.ID())
			continue
		}
		ids = append(ids, bp.ID)
		args.Breakpoints = append(args.Breakpoints, bp.source())
	}
	m.mu.Unlock()

	result, err := s.client.SetBreakpoints(ctx, args, dap.WithTimeout(s.requestTimeout))

	m.mu.Lock()
	changed := make([]Breakpoint, 0, len(ids))
	if !m.attachedLocked(s) {
		// detach already purged this session's records.
		ids = nil
	}
	for i, id := range ids {
		bp, ok := m.byID[id]
		if !ok {
			continue
		}
		v := Verification{}
		switch {
		case err != nil:
			v.Message = err.Error()
		case i < len(result):
			v = verificationFrom(result[i])
		default:
			v.Message = "adapter returned no result for this breakpoint"
		}
		bp.Verifications[s.ID()] = v
		changed = append(changed, bp.copy())
	}
	m.mu.Unlock()

	if len(changed) > 0 {
		m.emit(BreakpointsChange{Changed: changed})
	}
	if err != nil {
		return fmt.Errorf("set breakpoints for %s: %w", uri, err)
	}
	return nil
}

func verificationFrom(bp dap.Breakpoint) Verification {
	return Verification{
		Verified:  bp.Verified,
		Line:      bp.Line,
		Message:   bp.Message,
		AdapterID: bp.ID,
	}
}

func (m *BreakpointManager) sendFunctions(ctx context.Context, s *Session) error {
	if !s.Capabilities().SupportsFunctionBreakpoints {
		return nil
	}

	m.mu.Lock()
	var (
		ids  []int
		args = dap.SetFunctionBreakpointsArguments{Breakpoints: []dap.FunctionBreakpoint{}}
	)
	for _, fb := range m.functions {
		if !fb.Enabled {
			continue
		}
		ids = append(ids, fb.ID)
		args.Breakpoints = append(args.Breakpoints, dap.FunctionBreakpoint{
			Name:         fb.Name,
			Condition:    fb.Condition,
			HitCondition: fb.HitCondition,
		})
	}
	m.mu.Unlock()

	result, err := s.client.SetFunctionBreakpoints(ctx, args, dap.WithTimeout(s.requestTimeout))

	m.mu.Lock()
	if !m.attachedLocked(s) {
		ids = nil
	}
	for i, id := range ids {
		for _, fb := range m.functions {
			if fb.ID != id {
				continue
			}
			v := Verification{}
			switch {
			case err != nil:
				v.Message = err.Error()
			case i < len(result):
				v = verificationFrom(result[i])
			}
			fb.Verifications[s.ID()] = v
		}
	}
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("set function breakpoints: %w", err)
	}
	return nil
}

// sendExceptions pushes the enabled filters the session's adapter offers.
func (m *BreakpointManager) sendExceptions(ctx context.Context, s *Session) error {
	offered := s.Capabilities().ExceptionBreakpointFilters
	if len(offered) == 0 {
		return nil
	}
	known := make(map[string]bool, len(offered))
	for _, f := range offered {
		known[f.Filter] = true
	}

	m.mu.Lock()
	filters := []string{}
	for _, f := range m.exceptions {
		if f.Enabled && known[f.Filter] {
			filters = append(filters, f.Filter)
		}
	}
	m.mu.Unlock()

	err := s.client.SetExceptionBreakpoints(ctx, dap.SetExceptionBreakpointsArguments{Filters: filters},
		dap.WithTimeout(s.requestTimeout))
	if err != nil {
		return fmt.Errorf("set exception breakpoints: %w", err)
	}
	return nil
}

// applyAdapterEvent updates the record matched by the adapter-issued id
// from a breakpoint event.
func (m *BreakpointManager) applyAdapterEvent(sessionID string, body dap.BreakpointEventBody) {
	if body.Breakpoint.ID == 0 {
		return
	}

	m.mu.Lock()
	var changed []Breakpoint
	for _, bp := range m.byID {
		v, ok := bp.Verifications[sessionID]
		if !ok || v.AdapterID != body.Breakpoint.ID {
			continue
		}
		switch body.Reason {
		case "removed":
			delete(bp.Verifications, sessionID)
		case "changed":
			next := verificationFrom(body.Breakpoint)
			if body.Breakpoint.Line == 0 {
				next.Line = v.Line
			}
			bp.Verifications[sessionID] = next
		default:
			continue
		}
		changed = append(changed, bp.copy())
	}
	m.mu.Unlock()

	if len(changed) > 0 {
		m.emit(BreakpointsChange{Changed: changed})
	}
}

// recordHits bumps the hit count of breakpoints a stop reported.
func (m *BreakpointManager) recordHits(sessionID string, adapterIDs []int) {
	if len(adapterIDs) == 0 {
		return
	}
	hit := make(map[int]bool, len(adapterIDs))
	for _, id := range adapterIDs {
		hit[id] = true
	}

	m.mu.Lock()
	var changed []Breakpoint
	for _, bp := range m.byID {
		if v, ok := bp.Verifications[sessionID]; ok && hit[v.AdapterID] {
			bp.HitCount++
			changed = append(changed, bp.copy())
		}
	}
	m.mu.Unlock()

	if len(changed) > 0 {
		m.emit(BreakpointsChange{Changed: changed})
	}
}
