package sweeper_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	corenotify "github.com/dramac/livechat-service/internal/core/notify"
	"github.com/dramac/livechat-service/internal/domain/models"
	cachememory "github.com/dramac/livechat-service/internal/infrastructure/cache/memory"
	"github.com/dramac/livechat-service/internal/infrastructure/docdb/memory"
	"github.com/dramac/livechat-service/internal/mocks"
	"github.com/dramac/livechat-service/internal/services/conversation"
	"github.com/dramac/livechat-service/internal/services/notify"
	"github.com/dramac/livechat-service/internal/services/sweeper"
	"github.com/dramac/livechat-service/internal/testutils"
)

const tenant = testutils.TestTenantID

type fixture struct {
	clock    *testutils.Clock
	store    *memory.Client
	svc      *conversation.Service
	notifier *mocks.RecordingNotifier
	sweeper  *sweeper.Sweeper
}

func newFixture(t *testing.T, notifier notify.Notifier) *fixture {
	t.Helper()
	f := &fixture{clock: testutils.NewClock(), notifier: &mocks.RecordingNotifier{}}
	if notifier == nil {
		notifier = f.notifier
	}
	f.store = testutils.NewStore(f.clock)
	svc, err := conversation.NewService(&conversation.ServiceConfig{
		Store:    f.store,
		Notifier: notifier,
		Now:      f.clock.Now,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)
	f.svc = svc

	sw, err := sweeper.New(&sweeper.Config{
		Store:         f.store,
		Conversations: svc,
		Now:           f.clock.Now,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	f.sweeper = sw
	return f
}

func (f *fixture) create(t *testing.T) *models.Conversation {
	t.Helper()
	conv, err := f.svc.Create(context.Background(), conversation.CreateInput{TenantID: tenant, VisitorID: testutils.TestVisitorID})
	require.NoError(t, err)
	return conv
}

func (f *fixture) status(t *testing.T, id string) models.ConversationStatus {
	t.Helper()
	conv, err := f.svc.Get(context.Background(), tenant, id)
	require.NoError(t, err)
	return conv.Status
}

func TestNew_Validation(t *testing.T) {
	_, err := sweeper.New(&sweeper.Config{})
	assert.EqualError(t, err, "store is required")

	_, err = sweeper.New(&sweeper.Config{Store: memory.NewClient()})
	assert.EqualError(t, err, "conversation service is required")
}

func TestSweepMissed_TwiceNotifiesOnce(t *testing.T) {
	// Arrange
	f := newFixture(t, nil)
	old := f.create(t)
	f.clock.Advance(4 * time.Minute)
	fresh := f.create(t)
	f.clock.Advance(2 * time.Minute)

	// Act
	first, err := f.sweeper.SweepMissed(context.Background(), tenant, 5*time.Minute)
	require.NoError(t, err)
	second, err := f.sweeper.SweepMissed(context.Background(), tenant, 5*time.Minute)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 1, first.Changed)
	assert.Equal(t, 0, second.Changed)
	assert.Equal(t, models.ConversationStatusMissed, f.status(t, old.ID))
	assert.Equal(t, models.ConversationStatusPending, f.status(t, fresh.ID))
	assert.Equal(t, 1, f.notifier.Count(corenotify.TriggerMissed, old.ID))
	assert.Equal(t, 0, f.notifier.Count(corenotify.TriggerMissed, fresh.ID))
}

func TestSweepMissed_ConcurrentSweepsPublishOnce(t *testing.T) {
	// Arrange
	publisher := new(mocks.MockPublisher)
	var published atomic.Int32
	publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { published.Add(1) }).
		Return(nil)
	dispatcher, err := notify.NewDispatcher(&notify.DispatcherConfig{
		Publisher: publisher,
		Dedup:     cachememory.NewCache(time.Hour),
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	f := newFixture(t, dispatcher)
	conv := f.create(t)
	f.clock.Advance(10 * time.Minute)

	// Act
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.sweeper.SweepMissed(context.Background(), tenant, 0)
		}()
	}
	wg.Wait()
	dispatcher.Wait()

	// Assert
	assert.Equal(t, models.ConversationStatusMissed, f.status(t, conv.ID))
	assert.Equal(t, int32(1), published.Load())
}

func TestSweepMissed_SkipsAnswered(t *testing.T) {
	f := newFixture(t, nil)
	conv := f.create(t)
	ctx := context.Background()
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 3))
	_, err := f.svc.Assign(ctx, tenant, conv.ID, "a1")
	require.NoError(t, err)
	f.clock.Advance(time.Hour)

	result, err := f.sweeper.SweepMissed(ctx, tenant, 0)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, models.ConversationStatusActive, f.status(t, conv.ID))
}

func TestSweepMissed_Cancelled(t *testing.T) {
	f := newFixture(t, nil)
	conv := f.create(t)
	f.clock.Advance(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.sweeper.SweepMissed(ctx, tenant, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.ConversationStatusPending, f.status(t, conv.ID))

	// A later run completes the work.
	result, err := f.sweeper.SweepMissed(context.Background(), tenant, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Changed)
}

func TestSweepStale_ClosesInactive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 3))

	idle := f.create(t)
	_, err := f.svc.Assign(ctx, tenant, idle.ID, "a1")
	require.NoError(t, err)
	talking := f.create(t)

	f.clock.Advance(23 * time.Hour)
	msg := models.NewMessage(tenant, talking.ID, models.SenderVisitor, testutils.TestVisitorID, models.ContentTypeText, "still there?")
	require.NoError(t, f.store.Messages().Append(ctx, msg))
	_, err = f.svc.RecordMessage(ctx, msg)
	require.NoError(t, err)
	f.clock.Advance(2 * time.Hour)

	result, err := f.sweeper.SweepStale(ctx, tenant, 24*time.Hour)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Changed)
	assert.Equal(t, models.ConversationStatusClosed, f.status(t, idle.ID))
	assert.NotEqual(t, models.ConversationStatusClosed, f.status(t, talking.ID))
	assert.Equal(t, 0, testutils.AgentLoad(t, f.store, "a1"))
}

func TestReconcileLoads_HealsConfirmedDrift(t *testing.T) {
	// Arrange
	f := newFixture(t, nil)
	ctx := context.Background()
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 5))
	conv := f.create(t)
	_, err := f.svc.Assign(ctx, tenant, conv.ID, "a1")
	require.NoError(t, err)
	// A crashed process reserved two slots it never used.
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("ghost", 2, 5))

	// Act
	first, err := f.sweeper.ReconcileLoads(ctx, tenant, false)
	require.NoError(t, err)
	second, err := f.sweeper.ReconcileLoads(ctx, tenant, false)
	require.NoError(t, err)

	// Assert
	assert.Equal(t, 0, first.Changed)
	assert.Equal(t, 1, second.Changed)
	assert.Equal(t, 0, testutils.AgentLoad(t, f.store, "ghost"))
	assert.Equal(t, 1, testutils.AgentLoad(t, f.store, "a1"))
}

func TestReconcileLoads_ImmediateAndAgentChanges(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("ghost", 3, 5))

	_, err := f.sweeper.ReconcileLoads(ctx, tenant, false)
	require.NoError(t, err)
	// The agent row changed between passes, so the mismatch is not confirmed.
	conv := f.create(t)
	_, err = f.svc.Assign(ctx, tenant, conv.ID, "ghost")
	require.NoError(t, err)
	result, err := f.sweeper.ReconcileLoads(ctx, tenant, false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Changed)
	assert.Equal(t, 4, testutils.AgentLoad(t, f.store, "ghost"))

	result, err = f.sweeper.ReconcileLoads(ctx, tenant, true)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Changed)
	assert.Equal(t, 1, testutils.AgentLoad(t, f.store, "ghost"))
	assert.Equal(t, testutils.ActiveCount(t, f.store, "ghost"), testutils.AgentLoad(t, f.store, "ghost"))
}

type tenants []string

func (t tenants) TenantIDs(context.Context) ([]string, error) { return t, nil }

type countingPruner struct{ n atomic.Int32 }

func (p *countingPruner) Prune(context.Context) int { p.n.Add(1); return 0 }

func TestScheduler_RunOnce(t *testing.T) {
	f := newFixture(t, nil)
	conv := f.create(t)
	f.clock.Advance(time.Hour)

	var swept []string
	pruner := &countingPruner{}
	sched, err := sweeper.NewScheduler(&sweeper.SchedulerConfig{
		Sweeper:     f.sweeper,
		Tenants:     f.store.Conversations(),
		Presence:    pruner,
		AfterTenant: func(id string) { swept = append(swept, id) },
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	require.NoError(t, sched.RunOnce(context.Background()))

	assert.Equal(t, []string{tenant}, swept)
	assert.Equal(t, int32(1), pruner.n.Load())
	assert.Equal(t, models.ConversationStatusMissed, f.status(t, conv.ID))
}

func TestScheduler_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, nil)
	var calls atomic.Int32
	sched, err := sweeper.NewScheduler(&sweeper.SchedulerConfig{
		Sweeper:     f.sweeper,
		Tenants:     tenants{"t1", "t2"},
		Interval:    5 * time.Millisecond,
		AfterTenant: func(string) { calls.Add(1) },
		Logger:      zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return calls.Load() >= 4 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := sweeper.NewScheduler(&sweeper.SchedulerConfig{})
	assert.EqualError(t, err, "sweeper is required")

	f := newFixture(t, nil)
	_, err = sweeper.NewScheduler(&sweeper.SchedulerConfig{Sweeper: f.sweeper})
	assert.EqualError(t, err, "tenant lister is required")
}
