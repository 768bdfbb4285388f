package debug

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/debugengine/internal/config"
	"github.com/dshills/debugengine/internal/debug/adapters"
	"github.com/dshills/debugengine/internal/debug/dap"
	"github.com/dshills/debugengine/internal/debug/transport"
	"github.com/dshills/debugengine/internal/event"
	"github.com/dshills/debugengine/internal/logging"
)

// Manager owns the live sessions, tracks the active one and shares one
// breakpoint registry and console between them.
//
// Manager is safe for concurrent use.
type Manager struct {
	settings    config.Settings
	launcher    *adapters.Launcher
	breakpoints *BreakpointManager
	console     *Console
	logger      *slog.Logger

	mu       sync.Mutex
	sessions []*Session
	active   *Session

	createdEm   *event.Emitter[*Session]
	activeEm    *event.Emitter[*Session]
	destroyedEm *event.Emitter[*Session]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSettings sets engine settings. The default is config.Default().
func WithSettings(s config.Settings) ManagerOption {
	return func(m *Manager) {
		m.settings = s
	}
}

// WithLauncher sets the adapter launcher.
func WithLauncher(l *adapters.Launcher) ManagerOption {
	return func(m *Manager) {
		m.launcher = l
	}
}

// WithBreakpointManager shares an existing breakpoint registry.
func WithBreakpointManager(b *BreakpointManager) ManagerOption {
	return func(m *Manager) {
		m.breakpoints = b
	}
}

// WithConsole shares an existing console.
func WithConsole(c *Console) ManagerOption {
	return func(m *Manager) {
		m.console = c
	}
}

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager creates a manager with no sessions.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		settings: config.Default(),
		logger:   logging.WithComponent(logging.ComponentSession),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.launcher == nil {
		m.launcher = adapters.NewLauncher(adapters.WithDefaultFraming(m.settings.Framing))
	}
	if m.breakpoints == nil {
		m.breakpoints = NewBreakpointManager()
	}
	if m.console == nil {
		m.console = NewConsole(WithMaxEntries(m.settings.Console.MaxEntries))
	}
	m.createdEm = event.NewEmitter[*Session]("sessions.created", event.WithPanicHandler(logPanic))
	m.activeEm = event.NewEmitter[*Session]("sessions.active", event.WithPanicHandler(logPanic))
	m.destroyedEm = event.NewEmitter[*Session]("sessions.destroyed", event.WithPanicHandler(logPanic))
	return m
}

// Breakpoints returns the shared breakpoint registry.
func (m *Manager) Breakpoints() *BreakpointManager {
	return m.breakpoints
}

// Console returns the shared console.
func (m *Manager) Console() *Console {
	return m.console
}

// OnDidCreateSession subscribes to session creation.
func (m *Manager) OnDidCreateSession(fn func(*Session)) event.Subscription {
	return m.createdEm.Subscribe(fn)
}

// OnDidChangeActiveSession subscribes to active session changes. The
// argument is nil when no session is active.
func (m *Manager) OnDidChangeActiveSession(fn func(*Session)) event.Subscription {
	return m.activeEm.Subscribe(fn)
}

// OnDidDestroySession subscribes to session removal. It fires once per
// session.
func (m *Manager) OnDidDestroySession(fn func(*Session)) event.Subscription {
	return m.destroyedEm.Subscribe(fn)
}

// CreateSession connects to the adapter described by cfg and registers an
// inactive session for it. The new session becomes active. Call
// StartSession to run the handshake.
func (m *Manager) CreateSession(ctx context.Context, cfg Configuration) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	id := uuid.NewString()
	conn, err := m.launcher.Open(ctx, cfg.Name, cfg.Adapter)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoAdapter, err)
	}

	logger := logging.WithSession(m.logger, id, cfg.Type)
	tr := transport.New(conn.Stream,
		transport.WithCodec(conn.Codec),
		transport.WithLogger(logging.WithSession(logging.WithComponent(logging.ComponentTransport), id, cfg.Type)))
	client := dap.NewClient(tr,
		dap.WithLogger(logging.WithSession(logging.WithComponent(logging.ComponentDAP), id, cfg.Type)),
		dap.WithDefaultTimeout(m.settings.Timeouts.Request.Std()))

	s := newSession(sessionParams{
		id:          id,
		cfg:         cfg,
		client:      client,
		conn:        conn,
		settings:    m.settings,
		breakpoints: m.breakpoints,
		console:     m.console,
		logger:      logger,
	})

	m.mu.Lock()
	first := len(m.sessions) == 0
	m.sessions = append(m.sessions, s)
	m.active = s
	m.mu.Unlock()

	// Console subscribers may call back into the manager.
	if first {
		m.console.Clear()
	}

	m.breakpoints.attach(s)
	s.OnDidTerminate(m.destroyTerminated)
	if s.State() == StateTerminated {
		// The adapter went away before the subscription existed.
		m.destroyTerminated(s)
	}

	logger.Info("session created", "name", cfg.Name, "request", cfg.Request)
	m.createdEm.Emit(s)
	m.activeEm.Emit(s)
	return id, nil
}

// destroyTerminated removes a session whose adapter ended it.
func (m *Manager) destroyTerminated(s *Session) {
	go func() {
		if err := m.DestroySession(context.Background(), s.ID()); err != nil && !errors.Is(err, ErrSessionNotFound) {
			m.logger.Warn("destroy terminated session", "session_id", s.ID(), "error", err)
		}
	}()
}

// StartSession runs the handshake of a created session.
func (m *Manager) StartSession(ctx context.Context, id string) error {
	s, err := m.GetSession(id)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// Launch creates and starts a session in one step.
func (m *Manager) Launch(ctx context.Context, cfg Configuration) (*Session, error) {
	id, err := m.CreateSession(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := m.GetSession(id)
	if err != nil {
		return nil, err
	}
	if err := s.Start(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// GetSession returns the session with id.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.id == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
}

// ActiveSession returns the active session, or nil.
func (m *Manager) ActiveSession() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// SetActiveSession makes id the active session. An empty id clears it.
func (m *Manager) SetActiveSession(id string) error {
	var next *Session
	if id != "" {
		s, err := m.GetSession(id)
		if err != nil {
			return err
		}
		next = s
	}

	m.mu.Lock()
	if m.active == next {
		m.mu.Unlock()
		return nil
	}
	m.active = next
	m.mu.Unlock()

	m.activeEm.Emit(next)
	return nil
}

// Sessions returns the sessions in creation order.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Session(nil), m.sessions...)
}

// DestroySession disconnects a session if it is still live, releases its
// adapter and removes it. Destroying an unknown or already destroyed
// session is a no-op.
func (m *Manager) DestroySession(ctx context.Context, id string) error {
	m.mu.Lock()
	idx := -1
	for i, s := range m.sessions {
		if s.id == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return nil
	}
	s := m.sessions[idx]
	m.sessions = append(m.sessions[:idx:idx], m.sessions[idx+1:]...)

	wasActive := m.active == s
	if wasActive {
		m.active = nil
		for i := len(m.sessions) - 1; i >= 0; i-- {
			if m.sessions[i].State() != StateTerminated {
				m.active = m.sessions[i]
				break
			}
		}
	}
	next := m.active
	m.mu.Unlock()

	var errs []error
	if s.State() != StateTerminated {
		errs = append(errs, s.Disconnect(ctx, true))
	}
	s.terminate(nil)
	errs = append(errs, s.close())

	s.logger.Info("session destroyed")
	m.destroyedEm.Emit(s)
	if wasActive {
		m.activeEm.Emit(next)
	}
	return errors.Join(errs...)
}

// Shutdown destroys every session and stops the adapter processes.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, s := range m.Sessions() {
		errs = append(errs, m.DestroySession(ctx, s.id))
	}
	m.launcher.Shutdown()
	return errors.Join(errs...)
}

// Reset destroys every session and clears breakpoints and the console.
func (m *Manager) Reset() {
	for _, s := range m.Sessions() {
		_ = m.DestroySession(context.Background(), s.id)
	}
	m.breakpoints.Reset()
	m.console.Clear()
}
