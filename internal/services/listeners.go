package services

import (
	"context"
	"errors"
	"sync"

	"github.com/nfrund/filterbridge/internal/browser"
	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/module"
	"github.com/nfrund/filterbridge/internal/router"
)

// Listeners forwards bus events to content scripts that cannot hold a
// long-lived connection. Each listener pushes notifyListeners messages to
// the tab that created it.
type Listeners struct {
	module.BaseModule
	deps Deps

	mu  sync.Mutex
	ids map[events.ListenerID]int
}

func NewListeners(deps Deps) *Listeners {
	return &Listeners{deps: deps, ids: make(map[events.ListenerID]int)}
}

func (l *Listeners) Name() string { return "listeners" }

func (l *Listeners) Register(r module.Routers) error {
	if err := r.Legacy.Register(message.CreateEventListener, router.Handle(l.create)); err != nil {
		return err
	}
	return r.Legacy.Register(message.RemoveListener, router.Handle(l.remove))
}

// Shutdown removes every listener still registered.
func (l *Listeners) Shutdown(context.Context) error {
	l.mu.Lock()
	ids := make([]events.ListenerID, 0, len(l.ids))
	for id := range l.ids {
		ids = append(ids, id)
	}
	clear(l.ids)
	l.mu.Unlock()

	for _, id := range ids {
		l.deps.Bus.Unsubscribe(id)
	}
	return nil
}

// Len returns the number of live listeners.
func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.ids)
}

func (l *Listeners) create(_ context.Context, sub message.Subscription, sender message.Sender) (any, error) {
	names := make([]events.Name, 0, len(sub.Events))
	for _, e := range sub.Events {
		names = append(names, events.Name(e))
	}

	tabID := sender.TabID
	var id events.ListenerID
	self := func() events.ListenerID {
		l.mu.Lock()
		defer l.mu.Unlock()
		return id
	}

	// l.mu is held until the id is recorded, so a callback fired by a
	// concurrent publish always finds its own entry.
	l.mu.Lock()
	id = l.deps.Bus.SubscribeSet(names, func(name events.Name, args ...any) {
		err := l.deps.Tabs.SendMessage(context.Background(), tabID, message.Notify(name, args...))
		switch {
		case err == nil:
		case errors.Is(err, browser.ErrNoSuchTab):
			lid := self()
			l.deps.logger().Debug("listener tab gone", "listener_id", lid, "tab_id", tabID)
			l.drop(lid)
		default:
			l.deps.logger().Warn("forward event to tab failed", "event", name, "tab_id", tabID, "error", err)
		}
	})
	l.ids[id] = tabID
	l.mu.Unlock()

	l.deps.logger().Debug("listener created", "listener_id", id, "tab_id", tabID, "events", sub.Events)
	return map[string]any{"listenerId": id}, nil
}

func (l *Listeners) drop(id events.ListenerID) bool {
	l.mu.Lock()
	_, ok := l.ids[id]
	delete(l.ids, id)
	l.mu.Unlock()
	if !ok {
		return false
	}
	return l.deps.Bus.Unsubscribe(id)
}

type listenerRef struct {
	ListenerID events.ListenerID `json:"listenerId"`
}

func (l *Listeners) remove(_ context.Context, p listenerRef, _ message.Sender) (any, error) {
	l.drop(p.ListenerID)
	return nil, nil
}
