// Package dotenv provides a dotenv-based vault for development.
package dotenv

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/dramac/livechat-service/internal/core/vault"
)

// Client implements vault.Client on environment variables. Values from the
// optional secrets file are consulted when the environment has none.
type Client struct {
	file map[string]string
}

// NewClient creates a dotenv vault. path may be empty.
func NewClient(path string) (*Client, error) {
	c := &Client{file: map[string]string{}}
	if path == "" {
		return c, nil
	}
	values, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}
	c.file = values
	return c, nil
}

// GetSecret resolves dotenv://KEY.
func (c *Client) GetSecret(_ context.Context, uri string) (string, error) {
	key := strings.TrimPrefix(uri, vault.Scheme)
	if key == "" {
		return "", fmt.Errorf("secret reference %q has no key", uri)
	}
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	if value, ok := c.file[key]; ok && value != "" {
		return value, nil
	}
	return "", fmt.Errorf("secret not found: %s", key)
}

// Ping always succeeds.
func (c *Client) Ping(context.Context) error {
	return nil
}

// Close is a no-op.
func (c *Client) Close() error {
	return nil
}
