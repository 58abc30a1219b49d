package docdb

import (
	"context"

	"github.com/dramac/livechat-service/internal/domain/models"
)

// ListAgentsOptions contains options for listing agents.
type ListAgentsOptions struct {
	TenantID     string
	DepartmentID string
	Statuses     []models.AgentStatus
}

// AgentsCollection defines the typed agent repository. CurrentChatCount is
// only ever written through UpdateIfVersion.
type AgentsCollection interface {
	// Create inserts a new agent with version 1.
	Create(ctx context.Context, agent *models.Agent) error

	// Get retrieves an agent by tenant and ID. Returns ErrNotFound.
	Get(ctx context.Context, tenantID, id string) (*models.Agent, error)

	// UpdateIfVersion replaces the agent only if the stored version equals expected.
	UpdateIfVersion(ctx context.Context, next *models.Agent, expected int64) error

	// List lists agents matching the options.
	List(ctx context.Context, opts *ListAgentsOptions) ([]*models.Agent, error)

	// EnsureIndexes creates necessary indexes for the collection.
	EnsureIndexes(ctx context.Context) error
}

// DepartmentsCollection defines the typed department repository.
// At most one department per tenant has IsDefault set.
type DepartmentsCollection interface {
	// Create inserts a department. Returns ErrDuplicate when a second default
	// department would be created for the tenant.
	Create(ctx context.Context, department *models.Department) error

	// Get retrieves a department by tenant and ID. Returns ErrNotFound.
	Get(ctx context.Context, tenantID, id string) (*models.Department, error)

	// GetDefault retrieves the tenant default department. Returns ErrNotFound.
	GetDefault(ctx context.Context, tenantID string) (*models.Department, error)

	// SetDefault makes id the only default department of the tenant.
	SetDefault(ctx context.Context, tenantID, id string) error

	// List lists the departments of a tenant.
	List(ctx context.Context, tenantID string) ([]*models.Department, error)

	// EnsureIndexes creates necessary indexes for the collection.
	EnsureIndexes(ctx context.Context) error
}
