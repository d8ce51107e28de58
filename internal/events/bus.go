package events

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/nfrund/filterbridge/internal/metrics"
)

// ListenerID identifies one registration on a Bus. Ids are never reused for
// the lifetime of the bus.
type ListenerID uint64

// Callback receives the published event name and its positional arguments.
type Callback func(name Name, args ...any)

// registration is either a single-name or a set-of-names listener.
type registration struct {
	id       ListenerID
	single   Name
	names    map[Name]struct{}
	callback Callback
}

func (r *registration) matches(name Name) bool {
	if r.names != nil {
		_, ok := r.names[name]
		return ok
	}
	return r.single == name
}

// Bus is an in-process publish/subscribe registry keyed by event name.
// Callbacks run synchronously on the publishing goroutine, in registration
// order. The bus lock is never held while a callback runs, so callbacks may
// subscribe or unsubscribe freely.
type Bus struct {
	mu      sync.RWMutex
	regs    map[ListenerID]*registration
	order   []ListenerID
	next    ListenerID
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report recovered callback panics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) {
		b.metrics = m
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		regs:   make(map[ListenerID]*registration),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SubscribeSet registers cb for every event whose name is in names.
func (b *Bus) SubscribeSet(names []Name, cb Callback) ListenerID {
	set := make(map[Name]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return b.add(&registration{names: set, callback: cb})
}

// Subscribe registers cb for a single event name.
func (b *Bus) Subscribe(name Name, cb Callback) ListenerID {
	return b.add(&registration{single: name, callback: cb})
}

func (b *Bus) add(r *registration) ListenerID {
	b.mu.Lock()
	b.next++
	r.id = b.next
	b.regs[r.id] = r
	b.order = append(b.order, r.id)
	n := len(b.regs)
	b.mu.Unlock()

	b.metrics.SetListeners(n)
	return r.id
}

// Unsubscribe removes the registration with the given id. Removing an id
// that is not registered is a no-op; the result reports whether anything
// was removed.
func (b *Bus) Unsubscribe(id ListenerID) bool {
	b.mu.Lock()
	if _, ok := b.regs[id]; !ok {
		b.mu.Unlock()
		return false
	}
	delete(b.regs, id)
	for i, oid := range b.order {
		if oid == id {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
	n := len(b.regs)
	b.mu.Unlock()

	b.metrics.SetListeners(n)
	return true
}

// Publish invokes every matching callback with args. A registration removed
// by an earlier callback of the same Publish is skipped; one added during
// the Publish is not invoked by it.
func (b *Bus) Publish(name Name, args ...any) {
	b.mu.RLock()
	matched := make([]*registration, 0, len(b.order))
	for _, id := range b.order {
		if r := b.regs[id]; r.matches(name) {
			matched = append(matched, r)
		}
	}
	b.mu.RUnlock()

	b.metrics.EventPublished(string(name))

	for _, r := range matched {
		if !b.registered(r.id) {
			continue
		}
		b.invoke(r, name, args)
	}
}

func (b *Bus) registered(id ListenerID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.regs[id]
	return ok
}

func (b *Bus) invoke(r *registration, name Name, args []any) {
	defer func() {
		if rec := recover(); rec != nil {
			b.metrics.CallbackPanicked()
			b.logger.Error("event listener panicked",
				"event", name,
				"listener_id", r.id,
				"error", fmt.Sprint(rec),
			)
		}
	}()
	r.callback(name, args...)
}

// Len returns the number of current registrations.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.regs)
}
