package browser

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/nfrund/filterbridge/internal/message"
)

// DeliverFunc receives notifications sent to a tab's content scripts.
type DeliverFunc func(tabID int, n message.Notification) error

// Memory is an in-process tab model. It is what the service runs against
// when no real browser is attached, and what tests use.
type Memory struct {
	mu       sync.Mutex
	tabs     []Tab
	nextID   int
	activeID int
	reloads  []int
	deliver  DeliverFunc
}

// NewMemory creates a tab model with no tabs. deliver may be nil.
func NewMemory(deliver DeliverFunc) *Memory {
	return &Memory{nextID: 1, deliver: deliver}
}

func (m *Memory) index(id int) int {
	return slices.IndexFunc(m.tabs, func(t Tab) bool { return t.ID == id })
}

func (m *Memory) Active(_ context.Context, id int) (Tab, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id == 0 {
		id = m.activeID
	}
	if i := m.index(id); i >= 0 {
		return m.tabs[i], true, nil
	}
	return Tab{}, false, nil
}

func (m *Memory) FindByURL(_ context.Context, url string) (Tab, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tabs {
		if t.URL == url {
			return t, true, nil
		}
	}
	return Tab{}, false, nil
}

func (m *Memory) List(context.Context) ([]Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.tabs), nil
}

func (m *Memory) Create(_ context.Context, url string, opts CreateOptions) (Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := Tab{ID: m.nextID, WindowID: 1, URL: url}
	if opts.Popup {
		t.WindowID = m.nextID + 1
	}
	m.nextID++
	if !opts.Background {
		m.activate(t.ID)
		t.Active = true
	}
	m.tabs = append(m.tabs, t)
	return t, nil
}

func (m *Memory) activate(id int) {
	for i := range m.tabs {
		m.tabs[i].Active = m.tabs[i].ID == id
	}
	m.activeID = id
}

func (m *Memory) Focus(_ context.Context, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index(id) < 0 {
		return fmt.Errorf("%w %d", ErrNoSuchTab, id)
	}
	m.activate(id)
	return nil
}

func (m *Memory) Reload(_ context.Context, id int, url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.index(id)
	if i < 0 {
		return fmt.Errorf("%w %d", ErrNoSuchTab, id)
	}
	if url != "" {
		m.tabs[i].URL = url
	}
	m.reloads = append(m.reloads, id)
	return nil
}

func (m *Memory) SendMessage(_ context.Context, id int, n message.Notification) error {
	m.mu.Lock()
	exists := m.index(id) >= 0
	deliver := m.deliver
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("%w %d", ErrNoSuchTab, id)
	}
	if deliver == nil {
		return nil
	}
	return deliver(id, n)
}

// Close removes a tab.
func (m *Memory) Close(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i := m.index(id); i >= 0 {
		m.tabs = slices.Delete(m.tabs, i, i+1)
	}
	if m.activeID == id {
		m.activeID = 0
	}
}

// Reloads returns the ids of reloaded tabs in order.
func (m *Memory) Reloads() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.reloads)
}

var _ Tabs = (*Memory)(nil)
