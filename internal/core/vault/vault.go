// Package vault defines how configured secrets are resolved.
package vault

import (
	"context"
	"strings"
)

// Type represents the type of vault.
type Type string

const (
	// TypeDotEnv resolves secrets from the environment and an optional .env file.
	TypeDotEnv Type = "dotenv"
)

// Scheme prefixes a config value that names a secret instead of holding it.
const Scheme = "dotenv://"

// Client resolves secret references.
type Client interface {
	// GetSecret returns the value behind uri.
	GetSecret(ctx context.Context, uri string) (string, error)

	// Ping checks if the vault is reachable.
	Ping(ctx context.Context) error

	// Close releases the vault.
	Close() error
}

// IsReference reports whether value points into a vault.
func IsReference(value string) bool {
	return strings.HasPrefix(value, Scheme)
}

// Resolve returns value itself unless it is a reference, in which case the
// referenced secret is fetched.
func Resolve(ctx context.Context, c Client, value string) (string, error) {
	if c == nil || !IsReference(value) {
		return value, nil
	}
	return c.GetSecret(ctx, value)
}
