package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.opentelemetry.io/otel/trace"
)

// Metadata keys used to carry Message fields through watermill.
const (
	metaKeyTopic = "topic"
	metaKeyEvent = "event"
)

// WatermillBridge implements Publisher and Subscriber on watermill's
// in-memory GoChannel.
type WatermillBridge struct {
	pub     message.Publisher
	sub     message.Subscriber
	tracing message.HandlerMiddleware
	logger  *slog.Logger
}

// BridgeOption configures a WatermillBridge.
type BridgeOption func(*bridgeOptions)

type bridgeOptions struct {
	logger *slog.Logger
	tracer trace.Tracer
}

// WithLogger routes watermill's own logging through l.
func WithLogger(l *slog.Logger) BridgeOption {
	return func(o *bridgeOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithTracer enables publish and process spans.
func WithTracer(t trace.Tracer) BridgeOption {
	return func(o *bridgeOptions) {
		o.tracer = t
	}
}

// NewWatermillBridge creates the in-memory channel.
func NewWatermillBridge(opts ...BridgeOption) *WatermillBridge {
	o := bridgeOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	goChannel := gochannel.NewGoChannel(
		gochannel.Config{},
		watermill.NewSlogLogger(o.logger),
	)

	wb := &WatermillBridge{
		pub:    goChannel,
		sub:    goChannel,
		logger: o.logger,
	}
	if o.tracer != nil {
		wb.pub = NewPublisherTracingMiddleware(goChannel, o.tracer)
		wb.tracing = TracingMiddleware(o.tracer)
	}
	return wb
}

func toWatermill(msg Message) *message.Message {
	wmMsg := message.NewMessage(watermill.NewUUID(), msg.Payload)
	for k, v := range msg.Metadata {
		wmMsg.Metadata.Set(k, v)
	}
	wmMsg.Metadata.Set(metaKeyTopic, msg.Topic)
	return wmMsg
}

func fromWatermill(wmMsg *message.Message) Message {
	metadata := make(map[string]string, len(wmMsg.Metadata))
	for k, v := range wmMsg.Metadata {
		if k != metaKeyTopic {
			metadata[k] = v
		}
	}
	return Message{
		Topic:    wmMsg.Metadata.Get(metaKeyTopic),
		Payload:  wmMsg.Payload,
		Metadata: metadata,
	}
}

// Publish implements Publisher.
func (wb *WatermillBridge) Publish(ctx context.Context, msg Message) error {
	wmMsg := toWatermill(msg)
	wmMsg.SetContext(ctx)
	return wb.pub.Publish(msg.Topic, wmMsg)
}

// Subscribe implements Subscriber. Messages are processed on a background
// goroutine; a handler error is logged and the message acknowledged so the
// in-memory channel does not redeliver it forever.
func (wb *WatermillBridge) Subscribe(ctx context.Context, topic string, handler Handler) error {
	messages, err := wb.sub.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	process := func(wmMsg *message.Message) ([]*message.Message, error) {
		return nil, handler(wmMsg.Context(), fromWatermill(wmMsg))
	}
	if wb.tracing != nil {
		process = wb.tracing(process)
	}

	go func() {
		for wmMsg := range messages {
			if _, err := process(wmMsg); err != nil {
				wb.logger.Error("failed to handle message", "topic", topic, "msg_id", wmMsg.UUID, "error", err)
			}
			wmMsg.Ack()
		}
		wb.logger.Debug("subscription message loop ended", "topic", topic)
	}()

	return nil
}

// Close shuts the channel down and ends every subscription.
func (wb *WatermillBridge) Close() error {
	return wb.sub.Close()
}

var (
	_ Publisher  = (*WatermillBridge)(nil)
	_ Subscriber = (*WatermillBridge)(nil)
)
