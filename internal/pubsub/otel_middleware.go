package pubsub

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func startSpan(tracer trace.Tracer, operation, topic string, msg *message.Message) (context.Context, trace.Span) {
	ctx := msg.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return tracer.Start(ctx, "pubsub."+operation+"."+topic,
		trace.WithAttributes(
			attribute.String("messaging.system", "watermill"),
			attribute.String("messaging.operation", operation),
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.message_id", msg.UUID),
			attribute.String("event.name", msg.Metadata.Get(metaKeyEvent)),
			attribute.Int("messaging.message_payload_size_bytes", len(msg.Payload)),
		),
	)
}

// TracingMiddleware wraps a watermill handler in a span per processed
// message.
func TracingMiddleware(tracer trace.Tracer) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			spanCtx, span := startSpan(tracer, "process", msg.Metadata.Get(metaKeyTopic), msg)
			defer span.End()
			msg.SetContext(spanCtx)

			produced, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			return produced, nil
		}
	}
}

// PublisherTracingMiddleware wraps a publisher with a span per published
// message.
type PublisherTracingMiddleware struct {
	publisher message.Publisher
	tracer    trace.Tracer
}

// NewPublisherTracingMiddleware creates a tracing publisher.
func NewPublisherTracingMiddleware(publisher message.Publisher, tracer trace.Tracer) *PublisherTracingMiddleware {
	return &PublisherTracingMiddleware{
		publisher: publisher,
		tracer:    tracer,
	}
}

// Publish wraps the publish operation with tracing.
func (p *PublisherTracingMiddleware) Publish(topic string, messages ...*message.Message) error {
	spans := make([]trace.Span, 0, len(messages))
	for _, msg := range messages {
		spanCtx, span := startSpan(p.tracer, "publish", topic, msg)
		msg.SetContext(spanCtx)
		spans = append(spans, span)
	}
	defer func() {
		for _, span := range spans {
			span.End()
		}
	}()

	err := p.publisher.Publish(topic, messages...)
	if err != nil {
		for _, span := range spans {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}
	return err
}

// Close closes the underlying publisher.
func (p *PublisherTracingMiddleware) Close() error {
	return p.publisher.Close()
}
