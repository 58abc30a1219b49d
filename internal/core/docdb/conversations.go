package docdb

import (
	"context"
	"time"

	"github.com/dramac/livechat-service/internal/domain/models"
)

// ListConversationsOptions contains options for listing conversations.
// Zero-valued fields do not filter.
type ListConversationsOptions struct {
	TenantID           string
	Statuses           []models.ConversationStatus
	DepartmentID       string
	AgentID            string
	ExternalContact    string
	CreatedBefore      *time.Time
	LastActivityBefore *time.Time
	Limit              int64
	Skip               int64
	OrderBy            SortOrder // Order by createdAt
}

// ConversationsCollection defines the typed conversation repository.
type ConversationsCollection interface {
	// Create inserts a new conversation with version 1.
	Create(ctx context.Context, conversation *models.Conversation) error

	// Get retrieves a conversation by tenant and ID. Returns ErrNotFound.
	Get(ctx context.Context, tenantID, id string) (*models.Conversation, error)

	// UpdateIfVersion replaces the conversation only if the stored version
	// equals expected. On success next.Version is expected+1.
	// Returns ErrVersionConflict on mismatch and ErrNotFound if missing.
	UpdateIfVersion(ctx context.Context, next *models.Conversation, expected int64) error

	// List lists conversations matching the options.
	List(ctx context.Context, opts *ListConversationsOptions) ([]*models.Conversation, error)

	// Count counts conversations matching the options.
	Count(ctx context.Context, opts *ListConversationsOptions) (int64, error)

	// TenantIDs returns every tenant that owns at least one conversation.
	TenantIDs(ctx context.Context) ([]string, error)

	// EnsureIndexes creates necessary indexes for the collection.
	EnsureIndexes(ctx context.Context) error
}
