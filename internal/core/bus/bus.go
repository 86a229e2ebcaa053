// Package bus defines the publish/subscribe channel used to route command
// frames to whichever process holds the addressed session.
package bus

import "context"

// Handler receives one message published on a subscribed topic.
type Handler func(ctx context.Context, msg string)

// EventBus is implemented in-process (Memory) and by the nats, redis and mqtt adapters.
type EventBus interface {
	// Publish returns the number of subscribers notified, as far as the backend can tell.
	Publish(ctx context.Context, topic, msg string) (int, error)
	Subscribe(topic string, h Handler) error
	Close() error
}
