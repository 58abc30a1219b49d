package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dramac/livechat-service/internal/core/channel"
	"github.com/dramac/livechat-service/internal/core/docdb"
	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
	"github.com/dramac/livechat-service/internal/infrastructure/docdb/memory"
	"github.com/dramac/livechat-service/internal/mocks"
	"github.com/dramac/livechat-service/internal/services/conversation"
	"github.com/dramac/livechat-service/internal/services/routing"
	"github.com/dramac/livechat-service/internal/testutils"
)

const tenant = testutils.TestTenantID

type recordingPublisher struct {
	mu          sync.Mutex
	messages    []*models.Message
	updates     []*models.Message
	transitions []*models.Transition
	typing      []models.TypingState
}

func (p *recordingPublisher) PublishMessage(_ context.Context, msg *models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, msg)
	return nil
}

func (p *recordingPublisher) PublishMessageUpdate(_ context.Context, msg *models.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, msg)
	return nil
}

func (p *recordingPublisher) PublishTransition(_ context.Context, tr *models.Transition) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.transitions = append(p.transitions, tr)
	return nil
}

func (p *recordingPublisher) PublishTyping(_ context.Context, _, _ string, state models.TypingState, _ bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.typing = append(p.typing, state)
	return nil
}

type stubGate struct {
	auto     bool
	decision *models.HandoffDecision
	history  []*models.Message
	text     string
	onDecide func()
}

func (g *stubGate) ShouldAutoRespond(_ context.Context, conv *models.Conversation) (bool, error) {
	return g.auto && !conv.IsAssigned(), nil
}

func (g *stubGate) Decide(_ context.Context, _ *models.Conversation, history []*models.Message, text string) *models.HandoffDecision {
	g.history = history
	g.text = text
	if g.onDecide != nil {
		g.onDecide()
	}
	return g.decision
}

type countingTrigger struct {
	mu      sync.Mutex
	tenants []string
}

func (c *countingTrigger) Trigger(tenantID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tenants = append(c.tenants, tenantID)
}

func (c *countingTrigger) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tenants)
}

type recordingPresence struct {
	mu     sync.Mutex
	beats  []models.PresenceState
	leaves []string
}

func (p *recordingPresence) Heartbeat(_ context.Context, state models.PresenceState) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.beats = append(p.beats, state)
	return nil
}

func (p *recordingPresence) Leave(_ context.Context, _, agentID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.leaves = append(p.leaves, agentID)
	return nil
}

type fixture struct {
	clock     *testutils.Clock
	store     *memory.Client
	convs     *conversation.Service
	publisher *recordingPublisher
	gate      *stubGate
	trigger   *countingTrigger
	presence  *recordingPresence
	sender    *mocks.MockSender
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:     testutils.NewClock(),
		publisher: &recordingPublisher{},
		gate:      &stubGate{},
		trigger:   &countingTrigger{},
		presence:  &recordingPresence{},
		sender:    &mocks.MockSender{},
	}
	f.store = testutils.NewStore(f.clock)
	convs, err := conversation.NewService(&conversation.ServiceConfig{Store: f.store, Now: f.clock.Now, Logger: zerolog.Nop()})
	require.NoError(t, err)
	f.convs = convs

	engine, err := routing.NewEngine(&routing.EngineConfig{Store: f.store, Conversations: convs, Logger: zerolog.Nop()})
	require.NoError(t, err)

	svc, err := New(&Config{
		Store:         f.store,
		Conversations: convs,
		Router:        engine,
		Publisher:     f.publisher,
		Gate:          f.gate,
		Presence:      f.presence,
		Rebalancer:    f.trigger,
		Sender:        f.sender,
		Workers:       2,
		QueueSize:     16,
		Now:           f.clock.Now,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	f.svc = svc
	testutils.SeedDepartment(t, f.store, testutils.TestDepartmentID, true, true)
	return f
}

// drain runs queued jobs on the test goroutine until none are left.
func (f *fixture) drain(t *testing.T) {
	t.Helper()
	for {
		var job *Job
		for _, shard := range f.svc.queue.shards {
			select {
			case job = <-shard:
			default:
			}
			if job != nil {
				break
			}
		}
		if job == nil {
			return
		}
		require.NoError(t, f.svc.process(context.Background(), job))
	}
}

func (f *fixture) start(t *testing.T, ch models.Channel, text string) *models.Conversation {
	t.Helper()
	conv, _, err := f.svc.StartConversation(context.Background(), StartInput{
		CreateInput: conversation.CreateInput{TenantID: tenant, VisitorID: testutils.TestVisitorID, Channel: ch, ExternalContact: "+15550100"},
		Message:     &MessageInput{Content: text},
	})
	require.NoError(t, err)
	return conv
}

func (f *fixture) get(t *testing.T, id string) *models.Conversation {
	t.Helper()
	conv, err := f.convs.Get(context.Background(), tenant, id)
	require.NoError(t, err)
	return conv
}

func (f *fixture) messages(t *testing.T, convID string) []*models.Message {
	t.Helper()
	page, err := f.svc.ListMessages(context.Background(), tenant, convID, 0, 0, false)
	require.NoError(t, err)
	return page.Messages
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.EqualError(t, err, "config cannot be nil")

	_, err = New(&Config{})
	assert.EqualError(t, err, "store is required")

	_, err = New(&Config{Store: memory.NewClient()})
	assert.EqualError(t, err, "conversation service is required")
}

func TestStartConversation_RoutesToAvailableAgent(t *testing.T) {
	// Arrange
	f := newFixture(t)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 2))

	// Act
	conv := f.start(t, models.ChannelWidget, "hello")
	f.drain(t)

	// Assert
	got := f.get(t, conv.ID)
	assert.Equal(t, models.ConversationStatusActive, got.Status)
	assert.Equal(t, "a1", got.AssignedAgentID)
	assert.Equal(t, int64(1), got.MessageCount)
	assert.Equal(t, int64(1), got.UnreadAgentCount)

	msgs := f.messages(t, conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.MessageStatusSent, msgs[0].Status)
	assert.Equal(t, testutils.TestVisitorID, msgs[0].SenderID)

	require.Len(t, f.publisher.messages, 1)
	ops := make([]string, 0)
	for _, tr := range f.publisher.transitions {
		ops = append(ops, tr.Operation)
	}
	assert.Contains(t, ops, conversation.OpCreate)
	assert.Contains(t, ops, conversation.OpAssign)
}

func TestStartConversation_InvalidMessageCreatesNothing(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.StartConversation(context.Background(), StartInput{
		CreateInput: conversation.CreateInput{TenantID: tenant, VisitorID: testutils.TestVisitorID},
		Message:     &MessageInput{ContentType: models.ContentTypeNote, Content: "x"},
	})

	assert.True(t, domainerrors.IsValidationError(err))
	n, err := f.store.Conversations().Count(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

type failingMessages struct {
	docdb.MessagesCollection
}

func (failingMessages) Append(context.Context, *models.Message) error {
	return errors.New("write failed")
}

type failingStore struct {
	*memory.Client
}

func (s failingStore) Messages() docdb.MessagesCollection {
	return failingMessages{s.Client.Messages()}
}

func TestStartConversation_FailedFirstMessageLeavesNoOpenConversation(t *testing.T) {
	// Arrange
	f := newFixture(t)
	svc, err := New(&Config{
		Store:         failingStore{f.store},
		Conversations: f.convs,
		Router:        f.svc.router,
		Publisher:     f.publisher,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)

	// Act
	conv, msg, err := svc.StartConversation(context.Background(), StartInput{
		CreateInput: conversation.CreateInput{TenantID: tenant, VisitorID: testutils.TestVisitorID},
		Message:     &MessageInput{Content: "hello"},
	})

	// Assert
	assert.True(t, domainerrors.IsPersistenceFailure(err))
	assert.Nil(t, conv)
	assert.Nil(t, msg)
	open, err := f.store.Conversations().Count(context.Background(), &docdb.ListConversationsOptions{
		TenantID: tenant,
		Statuses: models.OpenStatuses(),
	})
	require.NoError(t, err)
	assert.Zero(t, open)
	assert.Zero(t, svc.QueueLen())
}

func TestInbound_AIAnswersWhenNoAgentIsFree(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.gate.auto = true
	f.gate.decision = &models.HandoffDecision{Action: models.HandoffActionAutoRespond, Text: "Our hours are 9 to 5.", Confidence: 0.9}

	// Act
	conv := f.start(t, models.ChannelWidget, "when are you open?")
	f.drain(t)

	// Assert
	assert.Equal(t, models.ConversationStatusWaiting, f.get(t, conv.ID).Status)
	assert.Equal(t, "when are you open?", f.gate.text)
	assert.Empty(t, f.gate.history)

	msgs := f.messages(t, conv.ID)
	require.Len(t, msgs, 2)
	reply := msgs[1]
	assert.Equal(t, models.SenderAI, reply.SenderType)
	assert.True(t, reply.IsAIGenerated)
	assert.Equal(t, 0.9, reply.AIConfidence)
	assert.Equal(t, models.MessageStatusSent, reply.Status)
}

func TestInbound_HistoryExcludesCurrentMessage(t *testing.T) {
	f := newFixture(t)
	f.gate.auto = true
	f.gate.decision = &models.HandoffDecision{Action: models.HandoffActionQueue}

	conv := f.start(t, models.ChannelWidget, "first")
	f.drain(t)
	_, err := f.svc.PostVisitorMessage(context.Background(), tenant, conv.ID, MessageInput{Content: "second"})
	require.NoError(t, err)
	f.drain(t)

	require.Len(t, f.gate.history, 2)
	assert.Equal(t, "first", f.gate.history[0].Content)
	assert.Equal(t, QueueNotice, f.gate.history[1].Content)
	assert.Equal(t, "second", f.gate.text)

	// One notice per wait.
	msgs := f.messages(t, conv.ID)
	require.Len(t, msgs, 3)
	assert.Equal(t, []models.SenderType{models.SenderVisitor, models.SenderSystem, models.SenderVisitor},
		[]models.SenderType{msgs[0].SenderType, msgs[1].SenderType, msgs[2].SenderType})
}

func TestInbound_QueueDecisionPostsNoticeAndRoutesAgain(t *testing.T) {
	// Arrange
	f := newFixture(t)
	f.gate.auto = true
	f.gate.decision = &models.HandoffDecision{Action: models.HandoffActionQueue, Reason: "low confidence"}
	f.gate.onDecide = func() {
		testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 2))
	}

	// Act
	conv := f.start(t, models.ChannelWidget, "do you ship abroad?")
	f.drain(t)

	// Assert
	msgs := f.messages(t, conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderSystem, msgs[1].SenderType)
	assert.Equal(t, QueueNotice, msgs[1].Content)
	got := f.get(t, conv.ID)
	assert.Equal(t, models.ConversationStatusActive, got.Status)
	assert.Equal(t, "a1", got.AssignedAgentID)
	assert.Equal(t, 1, testutils.AgentLoad(t, f.store, "a1"))
}

func TestInbound_HandoffPostsNotice(t *testing.T) {
	f := newFixture(t)
	f.gate.auto = true
	f.gate.decision = &models.HandoffDecision{Action: models.HandoffActionHandoff}

	conv := f.start(t, models.ChannelWidget, "talk to a human")
	f.drain(t)

	msgs := f.messages(t, conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.SenderSystem, msgs[1].SenderType)
	assert.Equal(t, HandoffNotice, msgs[1].Content)
	assert.Equal(t, models.ConversationStatusWaiting, f.get(t, conv.ID).Status)
}

func TestInbound_HandoffRoutesAgain(t *testing.T) {
	f := newFixture(t)
	f.gate.auto = true
	f.gate.decision = &models.HandoffDecision{Action: models.HandoffActionHandoff}
	f.gate.onDecide = func() {
		testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 1))
	}

	conv := f.start(t, models.ChannelWidget, "let me talk to a human")
	f.drain(t)

	got := f.get(t, conv.ID)
	assert.Equal(t, models.ConversationStatusActive, got.Status)
	assert.Equal(t, "a1", got.AssignedAgentID)
}

func TestPostVisitorMessage_ReopensResolvedConversation(t *testing.T) {
	// Arrange
	f := newFixture(t)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 1))
	conv := f.start(t, models.ChannelWidget, "hi")
	f.drain(t)
	_, err := f.convs.Resolve(context.Background(), tenant, conv.ID)
	require.NoError(t, err)

	// Act
	_, err = f.svc.PostVisitorMessage(context.Background(), tenant, conv.ID, MessageInput{Content: "one more thing"})
	require.NoError(t, err)
	f.drain(t)

	// Assert
	got := f.get(t, conv.ID)
	assert.Equal(t, models.ConversationStatusActive, got.Status)
	assert.Equal(t, "a1", got.AssignedAgentID)
	assert.Nil(t, got.ResolvedAt)
	assert.Equal(t, 1, testutils.AgentLoad(t, f.store, "a1"))
}

func TestPostAgentMessage_RequiresAssignment(t *testing.T) {
	f := newFixture(t)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 1))
	conv := f.start(t, models.ChannelWidget, "hi")
	f.drain(t)
	ctx := context.Background()

	_, err := f.svc.PostAgentMessage(ctx, tenant, conv.ID, "intruder", MessageInput{Content: "hello"})
	assert.True(t, domainerrors.IsValidationError(err))

	note, err := f.svc.PostAgentMessage(ctx, tenant, conv.ID, "supervisor", MessageInput{ContentType: models.ContentTypeNote, Content: "vip"})
	require.NoError(t, err)
	assert.Equal(t, models.ContentTypeNote, note.ContentType)

	reply, err := f.svc.PostAgentMessage(ctx, tenant, conv.ID, "a1", MessageInput{Content: "how can I help?"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, reply.Status)

	got := f.get(t, conv.ID)
	require.NotNil(t, got.FirstResponseAt)
	assert.Equal(t, int64(1), got.UnreadVisitorCount)

	visible, err := f.svc.ListMessages(ctx, tenant, conv.ID, 0, 0, true)
	require.NoError(t, err)
	assert.Len(t, visible.Messages, 2)
	assert.Equal(t, int64(3), visible.NextCursor)
}

func TestPostAgentMessage_DeliversToExternalChannel(t *testing.T) {
	// Arrange
	f := newFixture(t)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 1))
	conv := f.start(t, models.ChannelExternal, "hi")
	f.drain(t)
	f.sender.On("Send", mock.Anything, mock.MatchedBy(func(m *channel.OutboundMessage) bool {
		return m.Recipient == "+15550100" && m.Content == "hello"
	})).Return("ext-1", nil).Once()

	// Act
	msg, err := f.svc.PostAgentMessage(context.Background(), tenant, conv.ID, "a1", MessageInput{Content: "hello"})
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSending, msg.Status)
	f.drain(t)

	// Assert
	stored, err := f.store.Messages().Get(context.Background(), tenant, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusSent, stored.Status)
	assert.Equal(t, "ext-1", stored.ExternalMessageID)
	require.Len(t, f.publisher.updates, 1)
	f.sender.AssertExpectations(t)
}

func TestDeliver_TransportFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 1))
	conv := f.start(t, models.ChannelExternal, "hi")
	f.drain(t)
	f.sender.On("Send", mock.Anything, mock.Anything).Return("", errors.New("gateway down")).Once()

	msg, err := f.svc.PostAgentMessage(context.Background(), tenant, conv.ID, "a1", MessageInput{Content: "hello"})
	require.NoError(t, err)
	f.drain(t)

	stored, err := f.store.Messages().Get(context.Background(), tenant, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusFailed, stored.Status)
	assert.Equal(t, "gateway down", stored.ErrorMessage)
}

func TestReconcileStatus_MovesForwardOnly(t *testing.T) {
	// Arrange
	f := newFixture(t)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 1))
	conv := f.start(t, models.ChannelExternal, "hi")
	f.drain(t)
	f.sender.On("Send", mock.Anything, mock.Anything).Return("ext-9", nil).Once()
	_, err := f.svc.PostAgentMessage(context.Background(), tenant, conv.ID, "a1", MessageInput{Content: "hello"})
	require.NoError(t, err)
	f.drain(t)
	ctx := context.Background()

	// Act and Assert
	got, err := f.svc.ReconcileStatus(ctx, tenant, "ext-9", models.MessageStatusDelivered, "")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, got.Status)

	got, err = f.svc.ReconcileStatus(ctx, tenant, "ext-9", models.MessageStatusSent, "")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusDelivered, got.Status)

	got, err = f.svc.ReconcileStatus(ctx, tenant, "ext-9", models.MessageStatusRead, "")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRead, got.Status)
	assert.Zero(t, f.get(t, conv.ID).UnreadVisitorCount)

	got, err = f.svc.ReconcileStatus(ctx, tenant, "ext-9", models.MessageStatusFailed, "late failure")
	require.NoError(t, err)
	assert.Equal(t, models.MessageStatusRead, got.Status)

	_, err = f.svc.ReconcileStatus(ctx, tenant, "unknown", models.MessageStatusRead, "")
	assert.True(t, domainerrors.IsNotFound(err))

	_, err = f.svc.ReconcileStatus(ctx, tenant, "ext-9", "bogus", "")
	assert.True(t, domainerrors.IsValidationError(err))
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	conv := f.start(t, models.ChannelWidget, "one")
	_, err := f.svc.PostVisitorMessage(context.Background(), tenant, conv.ID, MessageInput{Content: "two"})
	require.NoError(t, err)

	receipt, err := f.svc.MarkRead(context.Background(), tenant, conv.ID, models.SenderAgent, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), receipt.Updated)
	assert.Zero(t, receipt.Conversation.UnreadAgentCount)
	msgs := f.messages(t, conv.ID)
	assert.Equal(t, models.MessageStatusRead, msgs[0].Status)
	assert.Equal(t, models.MessageStatusSent, msgs[1].Status)

	_, err = f.svc.MarkRead(context.Background(), tenant, conv.ID, models.SenderSystem, 0)
	assert.True(t, domainerrors.IsValidationError(err))
}

func TestSetAgentStatus_OfflineRequeuesAndRebalances(t *testing.T) {
	// Arrange
	f := newFixture(t)
	testutils.SeedAgent(t, f.store, testutils.NewTestAgent("a1", 0, 2))
	first := f.start(t, models.ChannelWidget, "one")
	second := f.start(t, models.ChannelWidget, "two")
	f.drain(t)
	require.Equal(t, 2, testutils.AgentLoad(t, f.store, "a1"))

	// Act
	result, err := f.svc.SetAgentStatus(context.Background(), tenant, "a1", models.AgentStatusOffline)

	// Assert
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, 2, result.Requeued)
	assert.Equal(t, 0, result.Agent.CurrentChatCount)
	assert.Equal(t, models.ConversationStatusWaiting, f.get(t, first.ID).Status)
	assert.Equal(t, models.ConversationStatusWaiting, f.get(t, second.ID).Status)
	assert.GreaterOrEqual(t, f.trigger.count(), 1)
	assert.Equal(t, []string{"a1"}, f.presence.leaves)
}

func TestSetAgentStatus_OnlineTriggersRebalance(t *testing.T) {
	f := newFixture(t)
	agent := testutils.NewTestAgent("a1", 0, 2)
	agent.Status = models.AgentStatusOffline
	testutils.SeedAgent(t, f.store, agent)

	result, err := f.svc.SetAgentStatus(context.Background(), tenant, "a1", models.AgentStatusOnline)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, 1, f.trigger.count())
	require.Len(t, f.presence.beats, 1)
	assert.Equal(t, models.AgentStatusOnline, f.presence.beats[0].Status)

	result, err = f.svc.SetAgentStatus(context.Background(), tenant, "a1", models.AgentStatusOnline)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, 1, f.trigger.count())

	_, err = f.svc.SetAgentStatus(context.Background(), tenant, "missing", models.AgentStatusOnline)
	assert.True(t, domainerrors.IsNotFound(err))
	_, err = f.svc.SetAgentStatus(context.Background(), tenant, "a1", "sleeping")
	assert.True(t, domainerrors.IsValidationError(err))
}

func TestIngestInbound_ThreadsByContactAndDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := InboundInput{Contact: "+15550199", Message: MessageInput{Content: "hi", ExternalMessageID: "in-1"}}

	first, err := f.svc.IngestInbound(ctx, tenant, in)
	require.NoError(t, err)
	again, err := f.svc.IngestInbound(ctx, tenant, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	in.Message = MessageInput{Content: "are you there?", ExternalMessageID: "in-2"}
	second, err := f.svc.IngestInbound(ctx, tenant, in)
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	conv := f.get(t, first.ConversationID)
	assert.Equal(t, models.ChannelExternal, conv.Channel)
	assert.Equal(t, "+15550199", conv.VisitorID)
	assert.Equal(t, int64(2), conv.MessageCount)

	_, err = f.svc.IngestInbound(ctx, tenant, InboundInput{})
	assert.True(t, domainerrors.IsValidationError(err))
}

func TestTyping(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.svc.Typing(context.Background(), tenant, "c1", "v1", models.SenderVisitor, true))
	require.Len(t, f.publisher.typing, 1)
	assert.Equal(t, "v1", f.publisher.typing[0].ParticipantID)

	err := f.svc.Typing(context.Background(), tenant, "c1", "x", models.SenderSystem, true)
	assert.True(t, domainerrors.IsValidationError(err))
}
