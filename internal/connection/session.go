package connection

import (
	"sync"

	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
)

// State is a session's lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one open long-lived connection. It owns at most one bus
// registration, created by the first subscription request.
type Session struct {
	manager    *Manager
	port       Port
	page       page
	mu         sync.Mutex
	state      State
	listenerID events.ListenerID
	subscribed bool
}

// Name returns the port name.
func (s *Session) Name() string {
	return s.port.Name()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Receive handles a control message from the page. Only
// addLongLivedConnection has an effect; anything else is ignored, as is
// every message after Close. A repeated subscription request replaces the
// previous registration.
func (s *Session) Receive(ctl message.Control) error {
	if ctl.Type != message.AddLongLivedConnection {
		return nil
	}

	var sub message.Subscription
	if !jsoncodec.Empty(ctl.Data) {
		if err := jsoncodec.Unmarshal(ctl.Data, &sub); err != nil {
			return err
		}
	}
	names := make([]events.Name, 0, len(sub.Events))
	for _, e := range sub.Events {
		names = append(names, events.Name(e))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}

	id := s.manager.bus.SubscribeSet(names, s.forward)
	if s.subscribed {
		s.manager.bus.Unsubscribe(s.listenerID)
	}
	s.listenerID = id
	s.subscribed = true

	s.manager.logger.Debug("port subscribed", "port", s.port.Name(), "events", sub.Events, "listener_id", id)
	return nil
}

func (s *Session) forward(name events.Name, args ...any) {
	if s.State() == StateClosed {
		return
	}
	if err := s.port.Post(message.Notify(name, args...)); err != nil {
		s.manager.metrics.NotificationSent("dropped")
		s.manager.logger.Error("post notification failed", "port", s.port.Name(), "event", name, "error", err)
		return
	}
	s.manager.metrics.NotificationSent("sent")
}

// Close tears the session down: the page's close hook runs first, then the
// bus registration, if any, is removed. Later calls do nothing.
func (s *Session) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	s.mu.Unlock()

	if s.page.hooks.OnClose != nil {
		s.page.hooks.OnClose()
	}

	s.mu.Lock()
	id, subscribed := s.listenerID, s.subscribed
	s.subscribed = false
	s.mu.Unlock()
	if subscribed {
		s.manager.bus.Unsubscribe(id)
	}
	s.manager.forget(s)
	s.manager.logger.Info("port disconnected", "port", s.port.Name())
}
