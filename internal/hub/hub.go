// Package hub delivers notifications addressed to a tab to the content
// scripts listening in that tab. It is the transport behind the browser's
// tab messaging when the service runs out of process.
package hub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/nfrund/filterbridge/internal/jsoncodec"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/metrics"
)

// ErrNotRunning is returned by Deliver after Run has stopped.
var ErrNotRunning = errors.New("hub is not running")

// Subscriber is one content-script inbox in a tab.
type Subscriber struct {
	TabID int
	// Send is a buffered channel of encoded notifications. The hub writes to
	// it and closes it on unregister; the owner drains it.
	Send chan []byte
}

// NewSubscriber creates an inbox for tabID with the given buffer size.
func NewSubscriber(tabID, buffer int) *Subscriber {
	return &Subscriber{TabID: tabID, Send: make(chan []byte, buffer)}
}

type delivery struct {
	tabID   int
	payload []byte
}

// Hub maintains the inboxes of every tab and fans notifications out to them.
type Hub struct {
	// subscribers is owned by the Run goroutine.
	subscribers map[int]map[*Subscriber]struct{}

	// Register is a channel for new inboxes.
	Register chan *Subscriber
	// Unregister is a channel for inboxes going away.
	Unregister chan *Subscriber

	deliver chan delivery
	done    chan struct{}
	metrics *metrics.Metrics
}

// NewHub creates a hub. m may be nil.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		subscribers: make(map[int]map[*Subscriber]struct{}),
		Register:    make(chan *Subscriber),
		Unregister:  make(chan *Subscriber),
		deliver:     make(chan delivery),
		done:        make(chan struct{}),
		metrics:     m,
	}
}

// Deliver queues n for every inbox of tabID. A tab with no inbox drops it.
func (h *Hub) Deliver(tabID int, n message.Notification) error {
	payload, err := jsoncodec.Marshal(n)
	if err != nil {
		return err
	}
	select {
	case h.deliver <- delivery{tabID: tabID, payload: payload}:
		return nil
	case <-h.done:
		return ErrNotRunning
	}
}

// Subscribe registers s. It reports false once the hub has stopped.
func (h *Hub) Subscribe(s *Subscriber) bool {
	select {
	case h.Register <- s:
		return true
	case <-h.done:
		return false
	}
}

// Unsubscribe removes s and closes its Send channel.
func (h *Hub) Unsubscribe(s *Subscriber) {
	select {
	case h.Unregister <- s:
	case <-h.done:
	}
}

// Run processes registrations and deliveries until ctx ends. It must be run
// in its own goroutine.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for _, inboxes := range h.subscribers {
				for s := range inboxes {
					close(s.Send)
				}
			}
			h.subscribers = make(map[int]map[*Subscriber]struct{})
			slog.Info("tab hub stopped")
			return

		case s := <-h.Register:
			inboxes, ok := h.subscribers[s.TabID]
			if !ok {
				inboxes = make(map[*Subscriber]struct{})
				h.subscribers[s.TabID] = inboxes
			}
			inboxes[s] = struct{}{}
			slog.Debug("tab inbox registered", "tab_id", s.TabID, "inboxes", len(inboxes))

		case s := <-h.Unregister:
			h.remove(s)

		case d := <-h.deliver:
			inboxes := h.subscribers[d.tabID]
			if len(inboxes) == 0 {
				slog.Debug("no inbox for tab", "tab_id", d.tabID)
				h.metrics.NotificationSent("dropped")
				continue
			}
			for s := range inboxes {
				select {
				case s.Send <- d.payload:
					h.metrics.NotificationSent("sent")
				default:
					// A full inbox means the reader is stuck; drop it.
					slog.Warn("unregistering slow tab inbox", "tab_id", s.TabID)
					h.metrics.NotificationSent("dropped")
					h.remove(s)
				}
			}
		}
	}
}

func (h *Hub) remove(s *Subscriber) {
	inboxes, ok := h.subscribers[s.TabID]
	if !ok {
		return
	}
	if _, ok := inboxes[s]; !ok {
		return
	}
	delete(inboxes, s)
	close(s.Send)
	if len(inboxes) == 0 {
		delete(h.subscribers, s.TabID)
	}
	slog.Debug("tab inbox unregistered", "tab_id", s.TabID)
}
