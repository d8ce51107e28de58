// Package connection manages long-lived page connections. A page opens a
// named connection, asks for a set of bus events once, and from then on
// receives every matching event as a push notification until it
// disconnects.
package connection

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/metrics"
)

// Page name prefixes accepted by the manager. A connection is named
// "<prefix>_<unique suffix>".
const (
	PageFilteringLog              = "filtering-log"
	PageFullscreenUserRulesEditor = "fullscreen_user_rules_editor"
)

// ErrUnknownPage is returned by Open when the port name matches no page.
var ErrUnknownPage = errors.New("there is no such page")

// Port is the transport end of one connection.
type Port interface {
	Name() string
	Post(n message.Notification) error
}

// PageHooks run when a connection for the page opens and closes.
type PageHooks struct {
	OnOpen  func()
	OnClose func()
}

type page struct {
	prefix string
	hooks  PageHooks
}

// Manager opens sessions for ports and tracks the live ones.
type Manager struct {
	bus      *events.Bus
	logger   *slog.Logger
	metrics  *metrics.Metrics
	mu       sync.Mutex
	pages    []*page
	sessions map[*Session]struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithMetrics attaches connection metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// NewManager creates a manager serving the known pages, initially without
// hooks.
func NewManager(bus *events.Bus, opts ...Option) *Manager {
	m := &Manager{
		bus:    bus,
		logger: slog.Default(),
		pages: []*page{
			{prefix: PageFilteringLog},
			{prefix: PageFullscreenUserRulesEditor},
		},
		sessions: make(map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetHooks installs the open/close hooks for a page prefix.
func (m *Manager) SetHooks(prefix string, hooks PageHooks) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pages {
		if p.prefix == prefix {
			p.hooks = hooks
			return nil
		}
	}
	return fmt.Errorf("%w %s", ErrUnknownPage, prefix)
}

func (m *Manager) resolve(name string) (page, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pages {
		if strings.HasPrefix(name, p.prefix) {
			return *p, true
		}
	}
	return page{}, false
}

// Open resolves the port's page, runs its open hook and returns the live
// session. A port whose name matches no page is rejected with
// ErrUnknownPage and no hook runs.
func (m *Manager) Open(port Port) (*Session, error) {
	p, ok := m.resolve(port.Name())
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnknownPage, port.Name())
	}

	s := &Session{
		manager: m,
		port:    port,
		page:    p,
		state:   StateConnecting,
	}
	m.logger.Info("port connected", "port", port.Name())

	if p.hooks.OnOpen != nil {
		p.hooks.OnOpen()
	}

	s.mu.Lock()
	s.state = StateOpen
	s.mu.Unlock()

	m.mu.Lock()
	m.sessions[s] = struct{}{}
	m.mu.Unlock()
	m.metrics.ConnectionOpened(p.prefix)
	return s, nil
}

func (m *Manager) forget(s *Session) {
	m.mu.Lock()
	delete(m.sessions, s)
	m.mu.Unlock()
	m.metrics.ConnectionClosed(s.page.prefix)
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll closes every open session, as on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()

	for _, s := range open {
		s.Close()
	}
}
