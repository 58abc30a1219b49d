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
	// AgentsCollectionName is the name of the agents collection.
	AgentsCollectionName = "agents"
	// DepartmentsCollectionName is the name of the departments collection.
	DepartmentsCollectionName = "departments"
)

// AgentsCollection implements docdb.AgentsCollection for MongoDB.
type AgentsCollection struct {
	collection *mongo.Collection
}

// NewAgentsCollection creates a new agents collection wrapper.
func NewAgentsCollection(db *mongo.Database) *AgentsCollection {
	return &AgentsCollection{collection: db.Collection(AgentsCollectionName)}
}

// Create inserts a new agent with version 1.
func (c *AgentsCollection) Create(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now
	agent.Version = 1

	if _, err := c.collection.InsertOne(ctx, agent); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return docdb.ErrDuplicate
		}
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

// Get retrieves an agent by tenant and ID.
func (c *AgentsCollection) Get(ctx context.Context, tenantID, id string) (*models.Agent, error) {
	var agent models.Agent
	err := c.collection.FindOne(ctx, bson.M{"_id": id, "tenantId": tenantID}).Decode(&agent)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, docdb.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return &agent, nil
}

// UpdateIfVersion replaces the agent when the stored version matches.
func (c *AgentsCollection) UpdateIfVersion(ctx context.Context, next *models.Agent, expected int64) error {
	next.Version = expected + 1
	next.UpdatedAt = time.Now().UTC()

	filter := bson.M{"_id": next.ID, "tenantId": next.TenantID, "version": expected}
	result, err := c.collection.ReplaceOne(ctx, filter, next)
	if err != nil {
		return fmt.Errorf("failed to update agent: %w", err)
	}
	if result.MatchedCount == 0 {
		return casMiss(ctx, c.collection, bson.M{"_id": next.ID, "tenantId": next.TenantID})
	}
	return nil
}

// List lists agents matching the options.
func (c *AgentsCollection) List(ctx context.Context, opts *docdb.ListAgentsOptions) ([]*models.Agent, error) {
	filter := bson.M{}
	if opts.TenantID != "" {
		filter["tenantId"] = opts.TenantID
	}
	if opts.DepartmentID != "" {
		filter["departmentId"] = opts.DepartmentID
	}
	if len(opts.Statuses) > 0 {
		filter["status"] = bson.M{"$in": opts.Statuses}
	}

	cursor, err := c.collection.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer cursor.Close(ctx)

	agents := make([]*models.Agent, 0)
	if err := cursor.All(ctx, &agents); err != nil {
		return nil, fmt.Errorf("failed to decode agents: %w", err)
	}
	return agents, nil
}

// EnsureIndexes creates necessary indexes for the agents collection.
func (c *AgentsCollection) EnsureIndexes(ctx context.Context) error {
	_, err := c.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "tenantId", Value: 1},
			{Key: "departmentId", Value: 1},
			{Key: "status", Value: 1},
		},
		Options: options.Index().SetName("idx_tenant_department_status"),
	})
	if err != nil {
		return fmt.Errorf("failed to create agents indexes: %w", err)
	}
	return nil
}

// DepartmentsCollection implements docdb.DepartmentsCollection for MongoDB.
type DepartmentsCollection struct {
	collection *mongo.Collection
}

// NewDepartmentsCollection creates a new departments collection wrapper.
func NewDepartmentsCollection(db *mongo.Database) *DepartmentsCollection {
	return &DepartmentsCollection{collection: db.Collection(DepartmentsCollectionName)}
}

// Create inserts a department. The partial unique index rejects a second default.
func (c *DepartmentsCollection) Create(ctx context.Context, dept *models.Department) error {
	if dept.ID == "" {
		dept.ID = uuid.NewString()
	}
	dept.CreatedAt = time.Now().UTC()

	if _, err := c.collection.InsertOne(ctx, dept); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return docdb.ErrDuplicate
		}
		return fmt.Errorf("failed to insert department: %w", err)
	}
	return nil
}

// Get retrieves a department by tenant and ID.
func (c *DepartmentsCollection) Get(ctx context.Context, tenantID, id string) (*models.Department, error) {
	return c.findOne(ctx, bson.M{"_id": id, "tenantId": tenantID})
}

// GetDefault retrieves the tenant default department.
func (c *DepartmentsCollection) GetDefault(ctx context.Context, tenantID string) (*models.Department, error) {
	return c.findOne(ctx, bson.M{"tenantId": tenantID, "isDefault": true})
}

func (c *DepartmentsCollection) findOne(ctx context.Context, filter bson.M) (*models.Department, error) {
	var dept models.Department
	if err := c.collection.FindOne(ctx, filter).Decode(&dept); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, docdb.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get department: %w", err)
	}
	return &dept, nil
}

// SetDefault clears the previous default, then flags id. Routing that runs
// between the two writes sees no default and queues.
func (c *DepartmentsCollection) SetDefault(ctx context.Context, tenantID, id string) error {
	if _, err := c.Get(ctx, tenantID, id); err != nil {
		return err
	}
	if _, err := c.collection.UpdateMany(ctx,
		bson.M{"tenantId": tenantID, "isDefault": true},
		bson.M{"$set": bson.M{"isDefault": false}},
	); err != nil {
		return fmt.Errorf("failed to clear default department: %w", err)
	}
	if _, err := c.collection.UpdateOne(ctx,
		bson.M{"_id": id, "tenantId": tenantID},
		bson.M{"$set": bson.M{"isDefault": true}},
	); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return docdb.ErrDuplicate
		}
		return fmt.Errorf("failed to set default department: %w", err)
	}
	return nil
}

// List lists the departments of a tenant.
func (c *DepartmentsCollection) List(ctx context.Context, tenantID string) ([]*models.Department, error) {
	cursor, err := c.collection.Find(ctx, bson.M{"tenantId": tenantID}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list departments: %w", err)
	}
	defer cursor.Close(ctx)

	departments := make([]*models.Department, 0)
	if err := cursor.All(ctx, &departments); err != nil {
		return nil, fmt.Errorf("failed to decode departments: %w", err)
	}
	return departments, nil
}

// EnsureIndexes creates the one-default-per-tenant constraint.
func (c *DepartmentsCollection) EnsureIndexes(ctx context.Context) error {
	_, err := c.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "tenantId", Value: 1}},
		Options: options.Index().
			SetName("uniq_tenant_default").
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"isDefault": true}),
	})
	if err != nil {
		return fmt.Errorf("failed to create departments indexes: %w", err)
	}
	return nil
}
