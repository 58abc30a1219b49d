package routing_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramac/livechat-service/internal/domain/models"
	"github.com/dramac/livechat-service/internal/infrastructure/docdb/memory"
	"github.com/dramac/livechat-service/internal/services/conversation"
	"github.com/dramac/livechat-service/internal/services/routing"
	"github.com/dramac/livechat-service/internal/testutils"
)

const tenant = testutils.TestTenantID

type fixture struct {
	clock  *testutils.Clock
	store  *memory.Client
	svc    *conversation.Service
	engine *routing.Engine
}

func newFixture(t *testing.T, sm func(*conversation.Service) routing.StateMachine) *fixture {
	t.Helper()

	f := &fixture{clock: testutils.NewClock()}
	f.store = testutils.NewStore(f.clock)
	svc, err := conversation.NewService(&conversation.ServiceConfig{
		Store:  f.store,
		Now:    f.clock.Now,
		Logger: zerolog.Nop(),
	})
	require.NoError(t, err)
	f.svc = svc

	var machine routing.StateMachine = svc
	if sm != nil {
		machine = sm(svc)
	}
	engine, err := routing.NewEngine(&routing.EngineConfig{
		Store:         f.store,
		Conversations: machine,
		IntentMap:     map[string]string{"Billing": "dept-billing"},
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) conversation(t *testing.T) *models.Conversation {
	t.Helper()
	conv, err := f.svc.Create(context.Background(), conversation.CreateInput{TenantID: tenant, VisitorID: testutils.TestVisitorID})
	require.NoError(t, err)
	return conv
}

func (f *fixture) status(t *testing.T, id string) *models.Conversation {
	t.Helper()
	conv, err := f.svc.Get(context.Background(), tenant, id)
	require.NoError(t, err)
	return conv
}

func TestNewEngine_Validation(t *testing.T) {
	_, err := routing.NewEngine(&routing.EngineConfig{})
	assert.EqualError(t, err, "store is required")

	_, err = routing.NewEngine(&routing.EngineConfig{Store: memory.NewClient()})
	assert.EqualError(t, err, "conversation service is required")
}

func TestRoute_PicksLeastLoadedAgent(t *testing.T) {
	// Arrange
	f := newFixture(t, nil)
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("busy", 2, 3))
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("idle", 0, 5))
	conv := f.conversation(t)

	// Act
	decision, err := f.engine.Route(context.Background(), tenant, conv.ID, models.RoutingHints{})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, models.RoutingAssigned, decision.Outcome)
	assert.Equal(t, "idle", decision.AgentID)
	assert.Equal(t, testutils.TestDepartmentID, decision.DepartmentID)
	stored := f.status(t, conv.ID)
	assert.Equal(t, models.ConversationStatusActive, stored.Status)
	assert.Equal(t, testutils.TestDepartmentID, stored.DepartmentID)
}

func TestRoute_TieBreaksOnLongestIdle(t *testing.T) {
	f := newFixture(t, nil)
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
	recent := testutils.NewTestAgent("recent", 1, 3)
	recent.LastActiveAt = f.clock.Now()
	idle := testutils.NewTestAgent("idle", 1, 3)
	idle.LastActiveAt = f.clock.Now().Add(-time.Hour)
	testutils.SeedAgent(t, f.store, recent)
	testutils.SeedAgent(t, f.store, idle)
	conv := f.conversation(t)

	decision, err := f.engine.Route(context.Background(), tenant, conv.ID, models.RoutingHints{})

	require.NoError(t, err)
	assert.Equal(t, "idle", decision.AgentID)
}

func TestRoute_ManualDepartmentQueues(t *testing.T) {
	f := newFixture(t, nil)
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, false)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("idle", 0, 5))
	conv := f.conversation(t)

	decision, err := f.engine.Route(context.Background(), tenant, conv.ID, models.RoutingHints{})

	require.NoError(t, err)
	assert.Equal(t, models.RoutingQueued, decision.Outcome)
	assert.Empty(t, decision.AgentID)
	assert.Equal(t, models.ConversationStatusWaiting, f.status(t, conv.ID).Status)
	assert.Equal(t, 0, testutils.AgentLoad(t, f.store, "idle"))
}

func TestRoute_IgnoresOfflineAndFullAgents(t *testing.T) {
	f := newFixture(t, nil)
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
	offline := testutils.NewTestAgent("offline", 0, 5)
	offline.Status = models.AgentStatusOffline
	away := testutils.NewTestAgent("away", 0, 5)
	away.Status = models.AgentStatusAway
	testutils.SeedAgent(t, f.store, offline)
	testutils.SeedAgent(t, f.store, away)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("full", 2, 2))
	conv := f.conversation(t)

	decision, err := f.engine.Route(context.Background(), tenant, conv.ID, models.RoutingHints{})

	require.NoError(t, err)
	assert.Equal(t, models.RoutingQueued, decision.Outcome)
	assert.Equal(t, models.ConversationStatusWaiting, f.status(t, conv.ID).Status)
	assert.Equal(t, 2, testutils.AgentLoad(t, f.store, "full"))
}

func TestRoute_NoDepartment(t *testing.T) {
	f := newFixture(t, nil)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 5))
	conv := f.conversation(t)

	decision, err := f.engine.Route(context.Background(), tenant, conv.ID, models.RoutingHints{DepartmentID: "does-not-exist"})

	require.NoError(t, err)
	assert.Equal(t, models.RoutingNoDepartment, decision.Outcome)
	assert.Equal(t, models.ConversationStatusWaiting, f.status(t, conv.ID).Status)
}

func TestRoute_DepartmentResolutionOrder(t *testing.T) {
	tests := []struct {
		name  string
		hints models.RoutingHints
		want  string
	}{
		{name: "explicit hint wins", hints: models.RoutingHints{DepartmentID: "dept-sales", DetectedIntent: "billing"}, want: "dept-sales"},
		{name: "intent mapping", hints: models.RoutingHints{DetectedIntent: " BILLING "}, want: "dept-billing"},
		{name: "unknown hint falls back to default", hints: models.RoutingHints{DepartmentID: "nope"}, want: testutils.TestDepartmentID},
		{name: "tenant default", hints: models.RoutingHints{}, want: testutils.TestDepartmentID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
			testutils.SeedDepartment(t, f.store, "dept-sales", false, true)
			testutils.SeedDepartment(t, f.store, "dept-billing", false, true)
			conv := f.conversation(t)

			decision, err := f.engine.Route(context.Background(), tenant, conv.ID, tt.hints)

			require.NoError(t, err)
			assert.Equal(t, models.RoutingQueued, decision.Outcome)
			assert.Equal(t, tt.want, decision.DepartmentID)
			assert.Equal(t, tt.want, f.status(t, conv.ID).DepartmentID)
		})
	}
}

func TestRoute_SkipsAssignedConversation(t *testing.T) {
	f := newFixture(t, nil)
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 5))
	conv := f.conversation(t)
	_, err := f.svc.Assign(context.Background(), tenant, conv.ID, "a1")
	require.NoError(t, err)

	decision, err := f.engine.Route(context.Background(), tenant, conv.ID, models.RoutingHints{})

	require.NoError(t, err)
	assert.Equal(t, models.RoutingSkipped, decision.Outcome)
	assert.Equal(t, 1, testutils.AgentLoad(t, f.store, "a1"))
}

func TestRoute_ReopenedUnassignedGoesThroughQueue(t *testing.T) {
	f := newFixture(t, nil)
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
	conv := f.conversation(t)
	_, err := f.svc.MarkMissed(context.Background(), tenant, conv.ID)
	require.NoError(t, err)
	_, err = f.svc.Reopen(context.Background(), tenant, conv.ID, "")
	require.NoError(t, err)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 5))

	decision, err := f.engine.Route(context.Background(), tenant, conv.ID, models.RoutingHints{})

	require.NoError(t, err)
	assert.Equal(t, models.RoutingAssigned, decision.Outcome)
	assert.Equal(t, "a1", f.status(t, conv.ID).AssignedAgentID)
}

// racingMachine fills the chosen agent right before the first assignment,
// simulating a concurrent router winning the last slot.
type racingMachine struct {
	*conversation.Service
	store *memory.Client
	once  sync.Once
	raced string
}

func (m *racingMachine) Assign(ctx context.Context, tenantID, id, agentID string) (*models.Conversation, error) {
	m.once.Do(func() {
		m.raced = agentID
		agent, _ := m.store.Agents().Get(ctx, tenantID, agentID)
		next := agent.Clone()
		next.CurrentChatCount = next.MaxConcurrentChats
		_ = m.store.Agents().UpdateIfVersion(ctx, next, agent.Version)
	})
	return m.Service.Assign(ctx, tenantID, id, agentID)
}

func TestRoute_RetriesOnceAfterCapacityRace(t *testing.T) {
	var racer *racingMachine
	f := newFixture(t, func(svc *conversation.Service) routing.StateMachine {
		racer = &racingMachine{Service: svc}
		return racer
	})
	racer.store = f.store
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("first", 0, 2))
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("second", 1, 2))
	conv := f.conversation(t)

	decision, err := f.engine.Route(context.Background(), tenant, conv.ID, models.RoutingHints{})

	require.NoError(t, err)
	assert.Equal(t, "first", racer.raced)
	assert.Equal(t, models.RoutingAssigned, decision.Outcome)
	assert.Equal(t, "second", decision.AgentID)
	assert.Equal(t, 2, testutils.AgentLoad(t, f.store, "first"))
}

func TestRoute_ConcurrentNeverExceedsCapacity(t *testing.T) {
	f := newFixture(t, nil)
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 1))
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a2", 0, 3))

	convs := make([]*models.Conversation, 12)
	for i := range convs {
		convs[i] = f.conversation(t)
	}

	var wg sync.WaitGroup
	for _, c := range convs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = f.engine.Route(context.Background(), tenant, id, models.RoutingHints{})
		}(c.ID)
	}
	wg.Wait()

	assert.LessOrEqual(t, testutils.AgentLoad(t, f.store, "a1"), 1)
	assert.LessOrEqual(t, testutils.AgentLoad(t, f.store, "a2"), 3)
	assert.Equal(t, testutils.ActiveCount(t, f.store, "a1"), testutils.AgentLoad(t, f.store, "a1"))
	assert.Equal(t, testutils.ActiveCount(t, f.store, "a2"), testutils.AgentLoad(t, f.store, "a2"))
}

func TestRebalance_FIFO(t *testing.T) {
	f := newFixture(t, nil)
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
	var ids []string
	for i := 0; i < 3; i++ {
		conv := f.conversation(t)
		_, err := f.engine.Route(context.Background(), tenant, conv.ID, models.RoutingHints{})
		require.NoError(t, err)
		ids = append(ids, conv.ID)
		f.clock.Advance(time.Minute)
	}
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 2))

	result, err := f.engine.Rebalance(context.Background(), tenant)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Assigned)
	assert.Equal(t, 1, result.Waiting)
	assert.Equal(t, models.ConversationStatusActive, f.status(t, ids[0]).Status)
	assert.Equal(t, models.ConversationStatusActive, f.status(t, ids[1]).Status)
	assert.Equal(t, models.ConversationStatusWaiting, f.status(t, ids[2]).Status)
}

func TestRebalance_StopsPerDepartment(t *testing.T) {
	f := newFixture(t, nil)
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
	testutils.SeedDepartment(t, f.store, "dept-sales", false, true)

	support1 := f.conversation(t)
	_, err := f.engine.Route(context.Background(), tenant, support1.ID, models.RoutingHints{})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	sales := f.conversation(t)
	_, err = f.engine.Route(context.Background(), tenant, sales.ID, models.RoutingHints{DepartmentID: "dept-sales"})
	require.NoError(t, err)

	salesAgent := testutils.NewTestAgent("s1", 0, 1)
	salesAgent.DepartmentID = "dept-sales"
	testutils.SeedAgent(t, f.store, salesAgent)

	result, err := f.engine.Rebalance(context.Background(), tenant)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Assigned)
	assert.Equal(t, models.ConversationStatusWaiting, f.status(t, support1.ID).Status)
	assert.Equal(t, "s1", f.status(t, sales.ID).AssignedAgentID)
}

func TestRebalance_Cancelled(t *testing.T) {
	f := newFixture(t, nil)
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
	conv := f.conversation(t)
	_, err := f.engine.Route(context.Background(), tenant, conv.ID, models.RoutingHints{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.engine.Rebalance(ctx, tenant)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.ConversationStatusWaiting, f.status(t, conv.ID).Status)
}
