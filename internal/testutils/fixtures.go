// Package testutils provides test utilities and helpers.
package testutils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dramac/livechat-service/internal/domain/models"
	"github.com/dramac/livechat-service/internal/infrastructure/docdb/memory"
)

// Test constants
const (
	TestTenantID     = "tenant-test-123"
	TestVisitorID    = "visitor-test-456"
	TestDepartmentID = "dept-support"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at a fixed instant.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewStore creates an in-memory store driven by clock.
func NewStore(clock *Clock) *memory.Client {
	return memory.NewClient(memory.WithClock(clock.Now))
}

// NewTestAgent creates an online agent in the test department.
func NewTestAgent(id string, load, max int) *models.Agent {
	return &models.Agent{
		ID:                 id,
		TenantID:           TestTenantID,
		Name:               "Agent " + id,
		DepartmentID:       TestDepartmentID,
		Status:             models.AgentStatusOnline,
		MaxConcurrentChats: max,
		CurrentChatCount:   load,
	}
}

// SeedAgent stores an agent.
func SeedAgent(t *testing.T, store *memory.Client, agent *models.Agent) *models.Agent {
	t.Helper()
	require.NoError(t, store.Agents().Create(context.Background(), agent))
	return agent
}

// SeedDepartment stores a department of the test tenant.
func SeedDepartment(t *testing.T, store *memory.Client, id string, isDefault, autoAssign bool) *models.Department {
	t.Helper()
	dept := &models.Department{
		ID:         id,
		TenantID:   TestTenantID,
		Name:       id,
		IsDefault:  isDefault,
		AutoAssign: autoAssign,
	}
	require.NoError(t, store.Departments().Create(context.Background(), dept))
	return dept
}

// SeedConversation stores conv as-is, filling tenant and visitor defaults.
func SeedConversation(t *testing.T, store *memory.Client, conv *models.Conversation) *models.Conversation {
	t.Helper()
	if conv.TenantID == "" {
		conv.TenantID = TestTenantID
	}
	if conv.VisitorID == "" {
		conv.VisitorID = TestVisitorID
	}
	if conv.Status == "" {
		conv.Status = models.ConversationStatusPending
	}
	require.NoError(t, store.Conversations().Create(context.Background(), conv))
	return conv
}

// AgentLoad returns the stored load of an agent.
func AgentLoad(t *testing.T, store *memory.Client, agentID string) int {
	t.Helper()
	agent, err := store.Agents().Get(context.Background(), TestTenantID, agentID)
	require.NoError(t, err)
	return agent.CurrentChatCount
}

// ActiveCount counts active conversations assigned to agentID.
func ActiveCount(t *testing.T, store *memory.Client, agentID string) int {
	t.Helper()
	n, err := store.Conversations().List(context.Background(), nil)
	require.NoError(t, err)
	count := 0
	for _, c := range n {
		if c.TenantID == TestTenantID && c.AssignedAgentID == agentID && c.Status == models.ConversationStatusActive {
			count++
		}
	}
	return count
}
