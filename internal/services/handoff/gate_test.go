package handoff_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dramac/livechat-service/internal/core/ai"
	"github.com/dramac/livechat-service/internal/domain/models"
	"github.com/dramac/livechat-service/internal/infrastructure/docdb/memory"
	"github.com/dramac/livechat-service/internal/mocks"
	"github.com/dramac/livechat-service/internal/services/handoff"
	"github.com/dramac/livechat-service/internal/testutils"
)

type fixedKB struct {
	matches []handoff.Match
	err     error
}

func (kb fixedKB) Search(context.Context, string, string) ([]handoff.Match, error) {
	return kb.matches, kb.err
}

func kbWithScore(score float64) fixedKB {
	return fixedKB{matches: []handoff.Match{{
		Article: &handoff.Article{ID: "hours", Title: "Opening hours", Answer: "We are open 9-17."},
		Score:   score,
	}}}
}

func newGate(t *testing.T, store *memory.Client, kb handoff.KnowledgeBase, gen ai.Generator) *handoff.Gate {
	t.Helper()
	gate, err := handoff.NewGate(&handoff.GateConfig{
		Agents:        store.Agents(),
		KnowledgeBase: kb,
		Generator:     gen,
		Timeout:       50 * time.Millisecond,
		Logger:        zerolog.Nop(),
	})
	require.NoError(t, err)
	return gate
}

func newConversation() *models.Conversation {
	return &models.Conversation{
		ID:           "conv-1",
		TenantID:     testutils.TestTenantID,
		VisitorID:    testutils.TestVisitorID,
		DepartmentID: testutils.TestDepartmentID,
		Status:       models.ConversationStatusWaiting,
	}
}

func TestNewGate_RequiresAgents(t *testing.T) {
	_, err := handoff.NewGate(&handoff.GateConfig{})
	assert.EqualError(t, err, "agents collection is required")

	_, err = handoff.NewGate(nil)
	assert.EqualError(t, err, "config cannot be nil")
}

func TestShouldAutoRespond(t *testing.T) {
	tests := []struct {
		name   string
		agents []*models.Agent
		agent  string
		want   bool
	}{
		{name: "no agents", want: true},
		{name: "all agents full", agents: []*models.Agent{testutils.NewTestAgent("a1", 3, 3)}, want: true},
		{name: "agent with capacity", agents: []*models.Agent{testutils.NewTestAgent("a1", 1, 3)}, want: false},
		{name: "already assigned", agent: "a1", want: false},
		{name: "offline agent ignored", agents: []*models.Agent{func() *models.Agent {
			a := testutils.NewTestAgent("a1", 0, 3)
			a.Status = models.AgentStatusOffline
			return a
		}()}, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutils.NewStore(testutils.NewClock())
			for _, a := range tt.agents {
				testutils.SeedAgent(t, store, a)
			}
			gate := newGate(t, store, nil, nil)
			conv := newConversation()
			if tt.agent != "" {
				conv.AssignedAgentID = tt.agent
				conv.Status = models.ConversationStatusActive
			}

			got, err := gate.ShouldAutoRespond(context.Background(), conv)

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecide_ConfidentKnowledgeMatchAutoResponds(t *testing.T) {
	// Arrange
	gen := new(mocks.MockGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req *ai.GenerateRequest) bool {
		return len(req.References) == 1 && req.References[0].Title == "Opening hours"
	})).Return(&ai.GenerateResponse{Text: "We are open from 9 to 17."}, nil)
	gate := newGate(t, testutils.NewStore(testutils.NewClock()), kbWithScore(0.85), gen)

	// Act
	decision := gate.Decide(context.Background(), newConversation(), nil, "when are you open?")

	// Assert
	assert.Equal(t, models.HandoffActionAutoRespond, decision.Action)
	assert.Equal(t, "We are open from 9 to 17.", decision.Text)
	assert.InDelta(t, 0.85, decision.Confidence, 1e-9)
	gen.AssertExpectations(t)
}

func TestDecide_KeywordWinsOverConfidence(t *testing.T) {
	gen := new(mocks.MockGenerator)
	gate := newGate(t, testutils.NewStore(testutils.NewClock()), kbWithScore(1), gen)

	for _, text := range []string{"let me talk to a human", "LET ME TALK TO A HUMAN please", "I want a Real Person"} {
		decision := gate.Decide(context.Background(), newConversation(), nil, text)
		assert.Equal(t, models.HandoffActionHandoff, decision.Action, text)
	}
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestDecide_ConfiguredKeywordsMatchAnyCase(t *testing.T) {
	gen := new(mocks.MockGenerator)
	gate, err := handoff.NewGate(&handoff.GateConfig{
		Agents:    testutils.NewStore(testutils.NewClock()).Agents(),
		Generator: gen,
		Keywords:  []string{" Supervisor ", "Call Me Back"},
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)

	for _, text := range []string{"get me a supervisor", "please CALL ME BACK"} {
		decision := gate.Decide(context.Background(), newConversation(), nil, text)
		assert.Equal(t, models.HandoffActionHandoff, decision.Action, text)
	}
	gen.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestDecide_LowConfidenceQueues(t *testing.T) {
	tests := []struct {
		name string
		kb   handoff.KnowledgeBase
		resp *ai.GenerateResponse
		want float64
	}{
		{name: "no match", kb: fixedKB{}, resp: &ai.GenerateResponse{Text: "maybe"}, want: handoff.NoMatchConfidence},
		{name: "weak match", kb: kbWithScore(0.5), resp: &ai.GenerateResponse{Text: "maybe"}, want: 0.5},
		{name: "uncertain model", kb: kbWithScore(0.9), resp: &ai.GenerateResponse{Text: "maybe", Uncertain: true}, want: 0.45},
		{name: "empty answer", kb: kbWithScore(0.9), resp: &ai.GenerateResponse{}, want: 0},
		{name: "search failure", kb: fixedKB{err: errors.New("boom")}, resp: &ai.GenerateResponse{Text: "maybe"}, want: handoff.NoMatchConfidence},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := new(mocks.MockGenerator)
			gen.On("Generate", mock.Anything, mock.Anything).Return(tt.resp, nil)
			gate := newGate(t, testutils.NewStore(testutils.NewClock()), tt.kb, gen)

			decision := gate.Decide(context.Background(), newConversation(), nil, "what about my order?")

			assert.Equal(t, models.HandoffActionQueue, decision.Action)
			assert.Empty(t, decision.Text)
			assert.InDelta(t, tt.want, decision.Confidence, 1e-9)
		})
	}
}

func TestDecide_GenerationFailureQueues(t *testing.T) {
	gen := new(mocks.MockGenerator)
	gen.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New("model unavailable"))
	gate := newGate(t, testutils.NewStore(testutils.NewClock()), kbWithScore(0.95), gen)

	decision := gate.Decide(context.Background(), newConversation(), nil, "opening hours?")

	assert.Equal(t, models.HandoffActionQueue, decision.Action)
	assert.Equal(t, handoff.ReasonGenerationFailed, decision.Reason)
}

func TestDecide_GenerationTimeoutQueues(t *testing.T) {
	gate := newGate(t, testutils.NewStore(testutils.NewClock()), kbWithScore(0.95), mocks.BlockingGenerator{})

	start := time.Now()
	decision := gate.Decide(context.Background(), newConversation(), nil, "opening hours?")

	assert.Equal(t, models.HandoffActionQueue, decision.Action)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDecide_NoGeneratorQueues(t *testing.T) {
	gate := newGate(t, testutils.NewStore(testutils.NewClock()), kbWithScore(0.95), nil)

	decision := gate.Decide(context.Background(), newConversation(), nil, "opening hours?")

	assert.Equal(t, models.HandoffActionQueue, decision.Action)
	assert.Equal(t, handoff.ReasonDisabled, decision.Reason)
}

func TestDecide_PassesVisibleHistory(t *testing.T) {
	history := []*models.Message{
		models.NewMessage(testutils.TestTenantID, "conv-1", models.SenderVisitor, "v", models.ContentTypeText, "hi"),
		models.NewMessage(testutils.TestTenantID, "conv-1", models.SenderAgent, "a", models.ContentTypeNote, "internal"),
		models.NewSystemMessage(testutils.TestTenantID, "conv-1", "An agent will be with you shortly"),
		models.NewMessage(testutils.TestTenantID, "conv-1", models.SenderAI, "", models.ContentTypeText, "hello"),
	}
	gen := new(mocks.MockGenerator)
	gen.On("Generate", mock.Anything, mock.MatchedBy(func(req *ai.GenerateRequest) bool {
		return assert.ObjectsAreEqual([]ai.Turn{
			{Role: ai.RoleVisitor, Content: "hi"},
			{Role: ai.RoleAssistant, Content: "hello"},
		}, req.History)
	})).Return(&ai.GenerateResponse{Text: "ok"}, nil)
	gate := newGate(t, testutils.NewStore(testutils.NewClock()), kbWithScore(0.9), gen)

	decision := gate.Decide(context.Background(), newConversation(), history, "hours?")

	assert.Equal(t, models.HandoffActionAutoRespond, decision.Action)
	gen.AssertExpectations(t)
}

func TestConfidence_ClampsAndBases(t *testing.T) {
	assert.Equal(t, 0.0, handoff.Confidence(nil, nil))
	assert.Equal(t, 1.0, handoff.Confidence([]handoff.Match{{Score: 1.7}}, &ai.GenerateResponse{Text: "x"}))
	assert.Equal(t, handoff.NoMatchConfidence, handoff.Confidence(nil, &ai.GenerateResponse{Text: "x"}))
}
