// Package gate sequences a mutating operation against the completion event
// it eventually causes, so callers do not report success before the filter
// engine has actually rebuilt.
package gate

import (
	"context"
	"sync"

	"github.com/nfrund/filterbridge/internal/events"
)

// Gate resolves the first time its event is published after the gate was
// created. Earlier publishes are never replayed.
type Gate struct {
	bus   *events.Bus
	event events.Name
	id    events.ListenerID
	done  chan struct{}
	fired sync.Once
	once  sync.Once
}

// New subscribes to event immediately and returns the pending gate.
func New(bus *events.Bus, event events.Name) *Gate {
	g := &Gate{
		bus:   bus,
		event: event,
		done:  make(chan struct{}),
	}
	g.id = bus.Subscribe(event, func(events.Name, ...any) {
		g.fired.Do(func() { close(g.done) })
		g.release()
	})
	return g
}

// release drops the listener. It runs at most once, whether triggered by the
// event or by Wait giving up.
func (g *Gate) release() {
	g.once.Do(func() {
		g.bus.Unsubscribe(g.id)
	})
}

// Event returns the completion event the gate waits for.
func (g *Gate) Event() events.Name {
	return g.event
}

// Done is closed once the event has fired.
func (g *Gate) Done() <-chan struct{} {
	return g.done
}

// Wait blocks until the event fires or ctx ends. The gate itself never
// times out: a gate for an event that never fires stays pending for as
// long as ctx allows. When ctx ends first the listener is released and
// ctx.Err() is returned.
func (g *Gate) Wait(ctx context.Context) error {
	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		g.release()
		// The event may have won the race after release.
		select {
		case <-g.done:
			return nil
		default:
			return ctx.Err()
		}
	}
}

// WaitFor registers a gate on event, runs trigger, then waits for the event.
// The gate is created before trigger runs so a completion published while
// trigger is still executing is not missed.
func WaitFor(ctx context.Context, bus *events.Bus, event events.Name, trigger func(context.Context) error) error {
	g := New(bus, event)
	if trigger != nil {
		if err := trigger(ctx); err != nil {
			g.release()
			return err
		}
	}
	return g.Wait(ctx)
}
