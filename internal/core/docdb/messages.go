package docdb

import (
	"context"
	"time"

	"github.com/dramac/livechat-service/internal/domain/models"
)

// ListMessagesOptions contains options for listing messages.
type ListMessagesOptions struct {
	TenantID       string
	ConversationID string
	AfterSeq       int64 // Cursor: only messages with a greater seq
	Limit          int64
	OrderBy        SortOrder // Order by seq
}

// MessagesCollection defines the typed message repository. Messages are
// append-only apart from delivery status and read markers.
type MessagesCollection interface {
	// Append inserts a message and assigns its conversation-scoped Seq and
	// CreatedAt at commit time. Both are strictly increasing per conversation.
	Append(ctx context.Context, message *models.Message) error

	// Get retrieves a message by ID. Returns ErrNotFound.
	Get(ctx context.Context, tenantID, id string) (*models.Message, error)

	// GetByExternalID retrieves a message by the id returned from an outbound channel.
	GetByExternalID(ctx context.Context, tenantID, externalID string) (*models.Message, error)

	// List lists messages of a conversation ordered by seq.
	List(ctx context.Context, opts *ListMessagesOptions) ([]*models.Message, error)

	// UpdateStatusIf moves a message from expected to next delivery status.
	// externalID and errorMessage are stored when non-empty.
	// Returns ErrVersionConflict if the stored status is not expected.
	UpdateStatusIf(ctx context.Context, tenantID, id string, expected, next models.MessageStatus, externalID, errorMessage string) error

	// MarkRead marks messages with seq <= uptoSeq that were authored by any
	// of the given senders as read. Returns the number of updated messages.
	MarkRead(ctx context.Context, tenantID, conversationID string, senders []models.SenderType, uptoSeq int64, at time.Time) (int64, error)

	// CountByConversation returns the count of messages in a conversation.
	CountByConversation(ctx context.Context, tenantID, conversationID string) (int64, error)

	// EnsureIndexes creates necessary indexes for the collection.
	EnsureIndexes(ctx context.Context) error
}
