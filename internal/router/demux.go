package router

import (
	"context"

	"github.com/nfrund/filterbridge/internal/message"
	"github.com/nfrund/filterbridge/internal/metrics"
)

// Demux selects a router by the message's routing marker before any type
// dispatch happens.
type Demux struct {
	legacy Dispatcher
	app    Dispatcher
	engine Dispatcher
	options
}

// NewDemux wires the three routers. engine may be nil when no engine router
// is available; its messages then get no reply.
func NewDemux(legacy, app, engine Dispatcher, opts ...Option) *Demux {
	return &Demux{
		legacy:  legacy,
		app:     app,
		engine:  engine,
		options: newOptions(opts),
	}
}

// Dispatch routes msg by HandlerName: absent goes to the legacy router,
// "app" to the typed registry and "tsWebExtension" to the engine. Any other
// marker is not ours and yields no reply.
func (d *Demux) Dispatch(ctx context.Context, msg message.Message, sender message.Sender) (any, error) {
	target := d.route(msg.HandlerName)
	if target == nil {
		d.logger.Debug("message ignored", "handler_name", msg.HandlerName, "type", msg.Type)
		d.metrics.ObserveDispatch("demux", "ignored", metrics.OutcomeNoReply, 0)
		return nil, nil
	}
	return target.Dispatch(ctx, msg, sender)
}

func (d *Demux) route(handlerName string) Dispatcher {
	switch handlerName {
	case message.HandlerLegacy:
		return d.legacy
	case message.HandlerApp:
		return d.app
	case message.HandlerEngine:
		return d.engine
	default:
		return nil
	}
}

var _ Dispatcher = (*Demux)(nil)
