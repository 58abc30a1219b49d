// Package docdb defines the persistence gateway used by the live chat core.
package docdb

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")

	// ErrVersionConflict is returned by conditional updates when the stored
	// version no longer matches the expected one.
	ErrVersionConflict = errors.New("version conflict")

	// ErrDuplicate is returned when a unique constraint would be violated.
	ErrDuplicate = errors.New("duplicate document")
)

// Client defines the interface for a document database client.
type Client interface {
	// Conversations returns the conversations collection.
	Conversations() ConversationsCollection

	// Messages returns the messages collection.
	Messages() MessagesCollection

	// Agents returns the agents collection.
	Agents() AgentsCollection

	// Departments returns the departments collection.
	Departments() DepartmentsCollection

	// EnsureIndexes creates necessary indexes for all collections.
	EnsureIndexes(ctx context.Context) error

	// Ping verifies the database connection.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close(ctx context.Context) error
}
