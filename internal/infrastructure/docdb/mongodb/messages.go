package mongodb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dramac/livechat-service/internal/core/docdb"
	"github.com/dramac/livechat-service/internal/domain/models"
)

const (
	// MessagesCollectionName is the name of the messages collection.
	MessagesCollectionName = "messages"
	// SequencesCollectionName holds one order counter per conversation.
	SequencesCollectionName = "message_sequences"
)

// MessagesCollection implements the docdb.MessagesCollection interface for MongoDB.
type MessagesCollection struct {
	messages  *mongo.Collection
	sequences *mongo.Collection
}

// NewMessagesCollection creates a new messages collection wrapper.
func NewMessagesCollection(db *mongo.Database) *MessagesCollection {
	return &MessagesCollection{
		messages:  db.Collection(MessagesCollectionName),
		sequences: db.Collection(SequencesCollectionName),
	}
}

type sequenceDoc struct {
	Seq    int64     `bson:"seq"`
	LastAt time.Time `bson:"lastAt"`
}

// nextOrderKey atomically advances the conversation counter. lastAt is
// max(now, previous+1ms) so createdAt is strictly increasing even when the
// wall clock stalls or several writers commit in the same millisecond.
func (c *MessagesCollection) nextOrderKey(ctx context.Context, tenantID, conversationID string) (*sequenceDoc, error) {
	now := time.Now().UTC()
	epoch := time.Unix(0, 0).UTC()

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "seq", Value: bson.D{{Key: "$add", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$seq", 0}}}, 1,
			}}}},
			{Key: "lastAt", Value: bson.D{{Key: "$max", Value: bson.A{
				now,
				bson.D{{Key: "$add", Value: bson.A{
					bson.D{{Key: "$ifNull", Value: bson.A{"$lastAt", epoch}}}, 1,
				}}},
			}}}},
		}}},
	}

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var seq sequenceDoc
	err := c.sequences.FindOneAndUpdate(ctx, bson.M{"_id": tenantID + ":" + conversationID}, update, opts).Decode(&seq)
	if err != nil {
		return nil, fmt.Errorf("failed to advance message sequence: %w", err)
	}
	return &seq, nil
}

// Append inserts a message with a commit-time order key. A failed insert
// after the counter advanced leaves a gap in seq, never a duplicate.
func (c *MessagesCollection) Append(ctx context.Context, message *models.Message) error {
	if message.ID == "" {
		message.ID = uuid.NewString()
	}

	seq, err := c.nextOrderKey(ctx, message.TenantID, message.ConversationID)
	if err != nil {
		return err
	}
	message.Seq = seq.Seq
	message.CreatedAt = seq.LastAt
	message.UpdatedAt = seq.LastAt

	if _, err := c.messages.InsertOne(ctx, message); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return docdb.ErrDuplicate
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// Get retrieves a message by ID.
func (c *MessagesCollection) Get(ctx context.Context, tenantID, id string) (*models.Message, error) {
	return c.findOne(ctx, bson.M{"_id": id, "tenantId": tenantID})
}

// GetByExternalID retrieves a message by its outbound channel id.
func (c *MessagesCollection) GetByExternalID(ctx context.Context, tenantID, externalID string) (*models.Message, error) {
	return c.findOne(ctx, bson.M{"externalMessageId": externalID, "tenantId": tenantID})
}

func (c *MessagesCollection) findOne(ctx context.Context, filter bson.M) (*models.Message, error) {
	var message models.Message
	err := c.messages.FindOne(ctx, filter).Decode(&message)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, docdb.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return &message, nil
}

// List lists messages ordered by seq.
func (c *MessagesCollection) List(ctx context.Context, opts *docdb.ListMessagesOptions) ([]*models.Message, error) {
	filter := bson.M{
		"tenantId":       opts.TenantID,
		"conversationId": opts.ConversationID,
	}
	if opts.AfterSeq > 0 {
		filter["seq"] = bson.M{"$gt": opts.AfterSeq}
	}

	findOpts := options.Find()
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}
	sortOrder := 1
	if opts.OrderBy == docdb.SortOrderDesc {
		sortOrder = -1
	}
	findOpts.SetSort(bson.D{{Key: "seq", Value: sortOrder}})

	cursor, err := c.messages.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer cursor.Close(ctx)

	messages := make([]*models.Message, 0)
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	return messages, nil
}

// UpdateStatusIf moves a message between delivery statuses conditionally.
func (c *MessagesCollection) UpdateStatusIf(ctx context.Context, tenantID, id string, expected, next models.MessageStatus, externalID, errorMessage string) error {
	now := time.Now().UTC()
	set := bson.M{"status": next, "updatedAt": now}
	if externalID != "" {
		set["externalMessageId"] = externalID
	}
	if errorMessage != "" {
		set["errorMessage"] = errorMessage
	}
	if next == models.MessageStatusRead {
		set["readAt"] = now
	}

	filter := bson.M{"_id": id, "tenantId": tenantID, "status": expected}
	result, err := c.messages.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update message status: %w", err)
	}
	if result.MatchedCount == 0 {
		return casMiss(ctx, c.messages, bson.M{"_id": id, "tenantId": tenantID})
	}
	return nil
}

// MarkRead marks messages from the given senders up to uptoSeq as read.
func (c *MessagesCollection) MarkRead(ctx context.Context, tenantID, conversationID string, senders []models.SenderType, uptoSeq int64, at time.Time) (int64, error) {
	filter := bson.M{
		"tenantId":       tenantID,
		"conversationId": conversationID,
		"seq":            bson.M{"$lte": uptoSeq},
		"senderType":     bson.M{"$in": senders},
		"status":         bson.M{"$nin": bson.A{models.MessageStatusRead, models.MessageStatusFailed}},
	}
	update := bson.M{"$set": bson.M{
		"status":    models.MessageStatusRead,
		"readAt":    at,
		"updatedAt": at,
	}}

	result, err := c.messages.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return result.ModifiedCount, nil
}

// CountByConversation returns the count of messages in a conversation.
func (c *MessagesCollection) CountByConversation(ctx context.Context, tenantID, conversationID string) (int64, error) {
	n, err := c.messages.CountDocuments(ctx, bson.M{
		"tenantId":       tenantID,
		"conversationId": conversationID,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count messages: %w", err)
	}
	return n, nil
}

// EnsureIndexes creates necessary indexes for the messages collection.
func (c *MessagesCollection) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "conversationId", Value: 1},
				{Key: "seq", Value: 1},
			},
			Options: options.Index().SetName("uniq_conversation_seq").SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "externalMessageId", Value: 1},
			},
			Options: options.Index().SetName("idx_external_message").SetSparse(true),
		},
	}

	if _, err := c.messages.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create messages indexes: %w", err)
	}
	return nil
}
