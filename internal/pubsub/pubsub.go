// Package pubsub is the in-process message channel between the filtering
// engine and the background services. Engine completion events travel over
// a watermill GoChannel and are relayed onto the event bus, so they arrive
// asynchronously with respect to the handler that caused them.
package pubsub

import (
	"context"
)

// Message is the structure passed between components on the channel.
type Message struct {
	// Topic identifies the channel the message belongs to (e.g., "engine.events").
	Topic string
	// Payload contains the raw message data, JSON encoded.
	Payload []byte
	// Metadata can contain arbitrary key-value pairs for context.
	Metadata map[string]string
}

// Handler defines the function signature for processing a received message.
type Handler func(ctx context.Context, msg Message) error

// Publisher defines the contract for sending messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Subscriber defines the contract for receiving messages.
type Subscriber interface {
	// Subscribe starts listening to the given topic, processing messages with
	// the handler in the background until ctx is canceled.
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}
