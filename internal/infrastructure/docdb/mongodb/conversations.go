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
	// ConversationsCollectionName is the name of the conversations collection.
	ConversationsCollectionName = "conversations"
)

// ConversationsCollection implements docdb.ConversationsCollection for MongoDB.
type ConversationsCollection struct {
	collection *mongo.Collection
}

// NewConversationsCollection creates a new conversations collection wrapper.
func NewConversationsCollection(db *mongo.Database) *ConversationsCollection {
	return &ConversationsCollection{
		collection: db.Collection(ConversationsCollectionName),
	}
}

// Create inserts a new conversation with version 1.
func (c *ConversationsCollection) Create(ctx context.Context, conv *models.Conversation) error {
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	conv.Version = 1

	if _, err := c.collection.InsertOne(ctx, conv); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return docdb.ErrDuplicate
		}
		return fmt.Errorf("failed to insert conversation: %w", err)
	}
	return nil
}

// Get retrieves a conversation by tenant and ID.
func (c *ConversationsCollection) Get(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := c.collection.FindOne(ctx, bson.M{"_id": id, "tenantId": tenantID}).Decode(&conv)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, docdb.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// UpdateIfVersion replaces the conversation when the stored version matches.
func (c *ConversationsCollection) UpdateIfVersion(ctx context.Context, next *models.Conversation, expected int64) error {
	next.Version = expected + 1
	next.UpdatedAt = time.Now().UTC()

	filter := bson.M{"_id": next.ID, "tenantId": next.TenantID, "version": expected}
	result, err := c.collection.ReplaceOne(ctx, filter, next)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}
	if result.MatchedCount == 0 {
		return casMiss(ctx, c.collection, bson.M{"_id": next.ID, "tenantId": next.TenantID})
	}
	return nil
}

// List lists conversations matching the options.
func (c *ConversationsCollection) List(ctx context.Context, opts *docdb.ListConversationsOptions) ([]*models.Conversation, error) {
	findOpts := options.Find()
	sortOrder := 1
	if opts != nil {
		if opts.Limit > 0 {
			findOpts.SetLimit(opts.Limit)
		}
		if opts.Skip > 0 {
			findOpts.SetSkip(opts.Skip)
		}
		if opts.OrderBy == docdb.SortOrderDesc {
			sortOrder = -1
		}
	}
	findOpts.SetSort(bson.D{{Key: "createdAt", Value: sortOrder}})

	cursor, err := c.collection.Find(ctx, c.buildFilter(opts), findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer cursor.Close(ctx)

	conversations := make([]*models.Conversation, 0)
	if err := cursor.All(ctx, &conversations); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return conversations, nil
}

// Count counts conversations matching the options.
func (c *ConversationsCollection) Count(ctx context.Context, opts *docdb.ListConversationsOptions) (int64, error) {
	n, err := c.collection.CountDocuments(ctx, c.buildFilter(opts))
	if err != nil {
		return 0, fmt.Errorf("failed to count conversations: %w", err)
	}
	return n, nil
}

// TenantIDs returns the distinct tenant ids.
func (c *ConversationsCollection) TenantIDs(ctx context.Context) ([]string, error) {
	values, err := c.collection.Distinct(ctx, "tenantId", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

func (c *ConversationsCollection) buildFilter(opts *docdb.ListConversationsOptions) bson.M {
	filter := bson.M{}
	if opts == nil {
		return filter
	}
	if opts.TenantID != "" {
		filter["tenantId"] = opts.TenantID
	}
	if len(opts.Statuses) > 0 {
		filter["status"] = bson.M{"$in": opts.Statuses}
	}
	if opts.DepartmentID != "" {
		filter["departmentId"] = opts.DepartmentID
	}
	if opts.AgentID != "" {
		filter["assignedAgentId"] = opts.AgentID
	}
	if opts.ExternalContact != "" {
		filter["externalContact"] = opts.ExternalContact
	}
	if opts.CreatedBefore != nil {
		filter["createdAt"] = bson.M{"$lt": *opts.CreatedBefore}
	}
	if opts.LastActivityBefore != nil {
		t := *opts.LastActivityBefore
		filter["$or"] = bson.A{
			bson.M{"lastMessageAt": bson.M{"$lt": t}},
			bson.M{"lastMessageAt": bson.M{"$exists": false}, "createdAt": bson.M{"$lt": t}},
		}
	}
	return filter
}

// EnsureIndexes creates necessary indexes for the conversations collection.
func (c *ConversationsCollection) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "status", Value: 1},
				{Key: "createdAt", Value: 1},
			},
			Options: options.Index().SetName("idx_tenant_status_created"),
		},
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "assignedAgentId", Value: 1},
				{Key: "status", Value: 1},
			},
			Options: options.Index().SetName("idx_tenant_agent_status"),
		},
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "departmentId", Value: 1},
				{Key: "status", Value: 1},
			},
			Options: options.Index().SetName("idx_tenant_department_status"),
		},
		{
			Keys: bson.D{
				{Key: "tenantId", Value: 1},
				{Key: "externalContact", Value: 1},
			},
			Options: options.Index().SetName("idx_tenant_external_contact").SetSparse(true),
		},
	}

	if _, err := c.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create conversations indexes: %w", err)
	}
	return nil
}
