// Package mongodb provides MongoDB client implementation.
package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dramac/livechat-service/internal/core/docdb"
)

// Client implements the docdb.Client interface for MongoDB.
type Client struct {
	client        *mongo.Client
	conversations *ConversationsCollection
	messages      *MessagesCollection
	agents        *AgentsCollection
	departments   *DepartmentsCollection
}

// ClientConfig holds MongoDB connection configuration.
type ClientConfig struct {
	URI          string
	DatabaseName string
}

// NewClient creates a new MongoDB client.
func NewClient(ctx context.Context, config *ClientConfig) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.URI == "" {
		return nil, fmt.Errorf("mongodb URI is required")
	}
	if config.DatabaseName == "" {
		return nil, fmt.Errorf("database name is required")
	}

	clientOpts := options.Client().ApplyURI(config.URI)
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	db := client.Database(config.DatabaseName)

	return &Client{
		client:        client,
		conversations: NewConversationsCollection(db),
		messages:      NewMessagesCollection(db),
		agents:        NewAgentsCollection(db),
		departments:   NewDepartmentsCollection(db),
	}, nil
}

// Conversations returns the typed conversations collection.
func (c *Client) Conversations() docdb.ConversationsCollection {
	return c.conversations
}

// Messages returns the typed messages collection.
func (c *Client) Messages() docdb.MessagesCollection {
	return c.messages
}

// Agents returns the typed agents collection.
func (c *Client) Agents() docdb.AgentsCollection {
	return c.agents
}

// Departments returns the typed departments collection.
func (c *Client) Departments() docdb.DepartmentsCollection {
	return c.departments
}

// Ping verifies the connection to MongoDB.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongodb ping failed: %w", err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (c *Client) Close(ctx context.Context) error {
	if err := c.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("failed to disconnect from mongodb: %w", err)
	}
	return nil
}

// EnsureIndexes creates all necessary indexes for all collections.
func (c *Client) EnsureIndexes(ctx context.Context) error {
	if err := c.conversations.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure conversations indexes: %w", err)
	}
	if err := c.messages.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure messages indexes: %w", err)
	}
	if err := c.agents.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure agents indexes: %w", err)
	}
	if err := c.departments.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("failed to ensure departments indexes: %w", err)
	}
	return nil
}

// casMiss distinguishes a missing document from a version mismatch after a
// conditional write matched nothing.
func casMiss(ctx context.Context, coll *mongo.Collection, filter interface{}) error {
	n, err := coll.CountDocuments(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to check document existence: %w", err)
	}
	if n == 0 {
		return docdb.ErrNotFound
	}
	return docdb.ErrVersionConflict
}
