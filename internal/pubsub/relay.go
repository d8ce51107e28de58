package pubsub

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nfrund/filterbridge/internal/events"
	"github.com/nfrund/filterbridge/internal/metrics"
)

// BusEvent is a bus publication carried over the channel.
type BusEvent struct {
	Name events.Name `json:"name"`
	Args []any       `json:"args,omitempty"`
}

// EngineEvents is the topic the filtering engine reports completions on.
var EngineEvents = NewEvent[BusEvent]("engine.events")

// PublishBusEvent sends name and args on EngineEvents.
func PublishBusEvent(ctx context.Context, p Publisher, name events.Name, args ...any) error {
	return Publish(ctx, p, EngineEvents, BusEvent{Name: name, Args: args}, map[string]string{
		metaKeyEvent: string(name),
	})
}

// Relay republishes channel events on the event bus.
type Relay struct {
	sub     Subscriber
	bus     *events.Bus
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewRelay creates a relay from sub onto bus. m may be nil.
func NewRelay(sub Subscriber, bus *events.Bus, logger *slog.Logger, m *metrics.Metrics) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{sub: sub, bus: bus, logger: logger, metrics: m}
}

// Start subscribes to EngineEvents. Relaying stops when ctx ends.
func (r *Relay) Start(ctx context.Context) error {
	if err := r.sub.Subscribe(ctx, EngineEvents.Name(), r.handle); err != nil {
		return fmt.Errorf("subscribe %s: %w", EngineEvents.Name(), err)
	}
	r.logger.Info("engine event relay started", "topic", EngineEvents.Name())
	return nil
}

func (r *Relay) handle(_ context.Context, msg Message) error {
	ev, err := Decode(EngineEvents, msg)
	if err != nil {
		return err
	}
	r.bus.Publish(ev.Name, ev.Args...)
	r.metrics.EventRelayed(string(ev.Name))
	return nil
}
