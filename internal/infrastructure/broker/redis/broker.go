// Package redis provides a Redis Pub/Sub broker so every server node
// receives every conversation channel.
package redis

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/core/broker"
)

// DefaultChannelPrefix namespaces broker channels in a shared Redis.
const DefaultChannelPrefix = "livechat:rt:"

// Config holds Redis broker configuration.
type Config struct {
	Host          string
	Port          string
	Password      string
	DB            int
	ChannelPrefix string
	Logger        zerolog.Logger
}

// Broker implements broker.Broker over Redis Pub/Sub.
type Broker struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger

	mu   sync.Mutex
	subs []*redis.PubSub
}

// NewBroker connects to Redis and returns a broker.
func NewBroker(cfg Config) (*Broker, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("redis host is required")
	}
	prefix := cfg.ChannelPrefix
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Broker{
		client: client,
		prefix: prefix,
		logger: cfg.Logger.With().Str("component", "redis-broker").Logger(),
	}, nil
}

// Publish sends payload on the prefixed channel.
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, b.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}

// Subscribe pattern-subscribes to every prefixed channel and feeds handler
// from a single goroutine until ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, handler broker.Handler) error {
	ps := b.client.PSubscribe(ctx, b.prefix+"*")
	// Wait for the subscription confirmation so no publish after return is lost.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	ch := ps.Channel()
	go func() {
		defer ps.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler(strings.TrimPrefix(msg.Channel, b.prefix), []byte(msg.Payload))
			}
		}
	}()
	return nil
}

// Ping checks the Redis connection.
func (b *Broker) Ping(ctx context.Context) error {
	if err := b.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes all subscriptions and the connection.
func (b *Broker) Close() error {
	b.mu.Lock()
	for _, ps := range b.subs {
		if err := ps.Close(); err != nil {
			b.logger.Debug().Err(err).Msg("pubsub close")
		}
	}
	b.subs = nil
	b.mu.Unlock()

	if err := b.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	return nil
}
