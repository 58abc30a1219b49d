package realtime_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramac/livechat-service/internal/domain/models"
	brokermemory "github.com/dramac/livechat-service/internal/infrastructure/broker/memory"
	"github.com/dramac/livechat-service/internal/services/realtime"
	"github.com/dramac/livechat-service/internal/testutils"
)

type node struct {
	hub      *realtime.Hub
	registry *realtime.Registry
}

func newNode(t *testing.T, b *brokermemory.Broker, clock *testutils.Clock) *node {
	t.Helper()
	hub, err := realtime.NewHub(&realtime.HubConfig{Broker: b, Now: clock.Now, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(hub.Close)
	registry, err := realtime.NewRegistry(&realtime.RegistryConfig{Hub: hub, TTL: time.Minute, Now: clock.Now, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return &node{hub: hub, registry: registry}
}

func online(agentID string, load int) models.PresenceState {
	return models.PresenceState{TenantID: tenant, AgentID: agentID, Status: models.AgentStatusOnline, CurrentLoad: load}
}

func TestRegistry_SharedAcrossNodes(t *testing.T) {
	// Arrange
	b := brokermemory.NewBroker()
	clock := testutils.NewClock()
	a := newNode(t, b, clock)
	other := newNode(t, b, clock)

	// Act
	require.NoError(t, a.registry.Heartbeat(context.Background(), online("a2", 1)))
	require.NoError(t, other.registry.Heartbeat(context.Background(), online("a1", 0)))

	// Assert
	for _, n := range []*node{a, other} {
		snap := n.registry.Snapshot(tenant)
		require.Len(t, snap, 2)
		assert.Equal(t, "a1", snap[0].AgentID)
		assert.Equal(t, "a2", snap[1].AgentID)
		assert.Equal(t, 1, snap[1].CurrentLoad)
	}
	assert.Empty(t, a.registry.Snapshot("other-tenant"))
}

func TestRegistry_SubscribeStartsWithSync(t *testing.T) {
	b := brokermemory.NewBroker()
	clock := testutils.NewClock()
	n := newNode(t, b, clock)
	require.NoError(t, n.registry.Heartbeat(context.Background(), online("a1", 0)))

	sub, err := n.registry.Subscribe(context.Background(), tenant)
	require.NoError(t, err)
	defer sub.Close()

	sync := next(t, sub)
	assert.Equal(t, models.EventPresenceSync, sync.Type)
	require.Len(t, sync.Presence, 1)
	assert.Equal(t, "a1", sync.Presence[0].AgentID)

	require.NoError(t, n.registry.Heartbeat(context.Background(), online("a1", 2)))
	require.NoError(t, n.registry.Heartbeat(context.Background(), online("a2", 0)))
	require.NoError(t, n.registry.Leave(context.Background(), tenant, "a1"))

	assert.Equal(t, models.EventPresenceUpdate, next(t, sub).Type)
	assert.Equal(t, models.EventPresenceJoin, next(t, sub).Type)
	leave := next(t, sub)
	assert.Equal(t, models.EventPresenceLeave, leave.Type)
	assert.Equal(t, "a1", leave.Presence[0].AgentID)

	snap := n.registry.Snapshot(tenant)
	require.Len(t, snap, 1)
	assert.Equal(t, "a2", snap[0].AgentID)
}

func TestRegistry_PruneExpiresSilentAgents(t *testing.T) {
	b := brokermemory.NewBroker()
	clock := testutils.NewClock()
	n := newNode(t, b, clock)
	require.NoError(t, n.registry.Heartbeat(context.Background(), online("quiet", 0)))
	clock.Advance(45 * time.Second)
	require.NoError(t, n.registry.Heartbeat(context.Background(), online("chatty", 0)))
	clock.Advance(30 * time.Second)

	pruned := n.registry.Prune(context.Background())

	assert.Equal(t, 1, pruned)
	snap := n.registry.Snapshot(tenant)
	require.Len(t, snap, 1)
	assert.Equal(t, "chatty", snap[0].AgentID)
}

func TestRegistry_Validation(t *testing.T) {
	_, err := realtime.NewRegistry(&realtime.RegistryConfig{})
	assert.EqualError(t, err, "hub is required")

	n := newNode(t, brokermemory.NewBroker(), testutils.NewClock())
	assert.Error(t, n.registry.Heartbeat(context.Background(), models.PresenceState{TenantID: tenant}))
}
