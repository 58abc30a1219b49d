// Package memory provides an in-process broker for single-node setups.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/dramac/livechat-service/internal/core/broker"
)

// ErrClosed is returned when publishing on a closed broker.
var ErrClosed = errors.New("broker closed")

// Broker delivers payloads synchronously to local handlers.
type Broker struct {
	mu       sync.RWMutex
	handlers map[int]broker.Handler
	nextID   int
	closed   bool
	// serializes delivery so handlers observe one global order
	deliver sync.Mutex
}

// NewBroker creates a loopback broker.
func NewBroker() *Broker {
	return &Broker{handlers: make(map[int]broker.Handler)}
}

// Publish calls every registered handler before returning.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	handlers := make([]broker.Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	b.deliver.Lock()
	defer b.deliver.Unlock()
	for _, h := range handlers {
		h(topic, payload)
	}
	return nil
}

// Subscribe registers handler until ctx is done.
func (b *Broker) Subscribe(ctx context.Context, handler broker.Handler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}()
	return nil
}

// Ping always succeeds.
func (b *Broker) Ping(context.Context) error {
	return nil
}

// Close drops all handlers.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handlers = make(map[int]broker.Handler)
	return nil
}
