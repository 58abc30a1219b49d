// Package broker defines the pub/sub channel abstraction shared by every
// server node for realtime fan-out.
package broker

import (
	"context"
)

// Type represents the broker implementation.
type Type string

const (
	// TypeRedis represents Redis Pub/Sub.
	TypeRedis Type = "redis"
	// TypeMemory represents the single-process loopback broker.
	TypeMemory Type = "memory"
)

// Handler receives every payload published to any topic. Handlers are
// invoked sequentially in the order the broker received the payloads.
type Handler func(topic string, payload []byte)

// Broker is a topic based, fire-and-forget publish/subscribe channel.
// It gives no replay guarantee; subscribers that miss payloads must
// re-fetch durable state from the Persistence Gateway.
type Broker interface {
	// Publish sends payload to all subscribers of topic on every node.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for all topics until ctx is cancelled.
	Subscribe(ctx context.Context, handler Handler) error

	// Ping checks the broker connection.
	Ping(ctx context.Context) error

	// Close releases the broker connection.
	Close() error
}
