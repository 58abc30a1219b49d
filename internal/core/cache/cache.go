// Package cache defines the key/value cache used for notification dedup
// latches and encrypted transcripts.
package cache

import (
	"context"
	"time"
)

// Type represents the type of cache.
type Type string

const (
	// TypeRedis represents a Redis cache.
	TypeRedis Type = "redis"
	// TypeMemory represents the in-process cache used for development.
	TypeMemory Type = "memory"
)

// Cache is a byte-valued store with per-key expiry. A ttl of 0 means the
// implementation's default TTL.
type Cache interface {
	// Get returns nil, nil for a missing or expired key.
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete reports whether the key existed.
	Delete(ctx context.Context, key string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}
