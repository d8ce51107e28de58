// Package router dispatches one-shot messages to the handler registered for
// their type. Two routers coexist: the legacy table that rejects unknown
// types, and the typed registry that silently ignores them. Demux picks one
// of them by the message's routing marker.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/metrics"
)

// HandlerFunc handles one message. A nil result with a nil error means the
// handler produced no reply.
type HandlerFunc func(ctx context.Context, msg message.Message, sender message.Sender) (any, error)

// Dispatcher routes a message to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg message.Message, sender message.Sender) (any, error)
}

// Router is a Dispatcher whose handlers are registered per message type.
type Router interface {
	Dispatcher
	Register(t message.Type, h HandlerFunc) error
}

// Option configures a router or a Demux.
type Option func(*options)

type options struct {
	name    string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// WithName overrides the router name used in logs and metrics.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger used for handler failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics attaches dispatch metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// table is the handler map shared by both router generations.
type table struct {
	mu       sync.RWMutex
	handlers map[message.Type]HandlerFunc
	options
}

func newTable(name string, opts []Option) *table {
	t := &table{
		handlers: make(map[message.Type]HandlerFunc),
		options:  newOptions(opts),
	}
	if t.name == "" {
		t.name = name
	}
	return t
}

// Register adds h for t. A second registration for the same type fails with
// ErrDuplicateType and leaves the first handler in place.
func (t *table) Register(mt message.Type, h HandlerFunc) error {
	if !mt.Valid() {
		return &RegistrationError{Router: t.name, Type: mt, Err: ErrInvalidType}
	}
	if h == nil {
		return &RegistrationError{Router: t.name, Type: mt, Err: fmt.Errorf("nil handler")}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.handlers[mt]; exists {
		return &RegistrationError{Router: t.name, Type: mt, Err: ErrDuplicateType}
	}
	t.handlers[mt] = h
	return nil
}

// MustRegister is Register for startup wiring; it panics on error.
func (t *table) MustRegister(mt message.Type, h HandlerFunc) {
	if err := t.Register(mt, h); err != nil {
		panic(err)
	}
}

// Remove drops the handler for mt so it can be registered again.
func (t *table) Remove(mt message.Type) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.handlers[mt]; !ok {
		return false
	}
	delete(t.handlers, mt)
	return true
}

// Has reports whether a handler is registered for mt.
func (t *table) Has(mt message.Type) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.handlers[mt]
	return ok
}

func (t *table) lookup(mt message.Type) (HandlerFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[mt]
	return h, ok
}

// call runs h outside the table lock, converting a panic into
// ErrHandlerPanic.
func (t *table) call(ctx context.Context, h HandlerFunc, msg message.Message, sender message.Sender) (result any, err error) {
	start := time.Now()
	defer func() {
		outcome := metrics.OutcomeOK
		if rec := recover(); rec != nil {
			result = nil
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanic, msg.Type, rec)
			outcome = metrics.OutcomePanicked
		} else if err != nil {
			outcome = metrics.OutcomeError
		}
		if err != nil {
			t.logger.Error("message handler failed",
				"router", t.name,
				"type", msg.Type,
				"tab_id", sender.TabID,
				"error", err,
			)
		}
		t.metrics.ObserveDispatch(t.name, msg.Type.String(), outcome, time.Since(start))
	}()
	return h(ctx, msg, sender)
}

func (t *table) unknown(msg message.Message) {
	label := msg.Type.String()
	if !msg.Type.Valid() {
		label = "invalid"
	}
	t.metrics.ObserveDispatch(t.name, label, metrics.OutcomeUnknown, 0)
}

// Registry is the typed, per-message-type router. A message with no
// registered handler gets no reply.
type Registry struct {
	*table
}

// NewRegistry creates an empty typed registry.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{table: newTable("app", opts)}
}

// Dispatch runs the handler for msg.Type. Unknown types yield (nil, nil).
func (r *Registry) Dispatch(ctx context.Context, msg message.Message, sender message.Sender) (any, error) {
	h, ok := r.lookup(msg.Type)
	if !ok {
		r.unknown(msg)
		return nil, nil
	}
	return r.call(ctx, h, msg, sender)
}

// Legacy is the table-driven router that serves messages without a routing
// marker. An unknown type is an error.
type Legacy struct {
	*table
}

// NewLegacy creates an empty legacy router.
func NewLegacy(opts ...Option) *Legacy {
	return &Legacy{table: newTable("legacy", opts)}
}

// Dispatch runs the handler for msg.Type or fails with ErrUnknownType.
func (l *Legacy) Dispatch(ctx context.Context, msg message.Message, sender message.Sender) (any, error) {
	h, ok := l.lookup(msg.Type)
	if !ok {
		l.unknown(msg)
		return nil, fmt.Errorf("%w %s", ErrUnknownType, msg.Type)
	}
	return l.call(ctx, h, msg, sender)
}

var (
	_ Router = (*Registry)(nil)
	_ Router = (*Legacy)(nil)
)
