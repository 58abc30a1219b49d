// Package routing selects departments and agents for unassigned
// conversations and drains the waiting queue.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/core/docdb"
	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
)

// selectionAttempts is the initial pick plus one retry after losing a
// capacity race.
const selectionAttempts = 2

// StateMachine is the subset of the conversation service routing drives.
type StateMachine interface {
	Get(ctx context.Context, tenantID, id string) (*models.Conversation, error)
	Assign(ctx context.Context, tenantID, id, agentID string) (*models.Conversation, error)
	Queue(ctx context.Context, tenantID, id string) (*models.Conversation, error)
	SetDepartment(ctx context.Context, tenantID, id, departmentID string) (*models.Conversation, error)
}

// EngineConfig holds routing dependencies.
type EngineConfig struct {
	Store         docdb.Client
	Conversations StateMachine
	// IntentMap maps a detected intent to a department id.
	IntentMap map[string]string
	Logger    zerolog.Logger
}

// Engine routes conversations. Agent load and status always come from the
// store, never from presence.
type Engine struct {
	agents        docdb.AgentsCollection
	departments   docdb.DepartmentsCollection
	conversations docdb.ConversationsCollection
	sm            StateMachine
	intents       map[string]string
	logger        zerolog.Logger
}

// NewEngine creates a routing engine.
func NewEngine(cfg *EngineConfig) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Conversations == nil {
		return nil, fmt.Errorf("conversation service is required")
	}
	intents := make(map[string]string, len(cfg.IntentMap))
	for k, v := range cfg.IntentMap {
		intents[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return &Engine{
		agents:        cfg.Store.Agents(),
		departments:   cfg.Store.Departments(),
		conversations: cfg.Store.Conversations(),
		sm:            cfg.Conversations,
		intents:       intents,
		logger:        cfg.Logger.With().Str("component", "routing").Logger(),
	}, nil
}

func routable(conv *models.Conversation) bool {
	switch conv.Status {
	case models.ConversationStatusPending, models.ConversationStatusWaiting:
		return true
	case models.ConversationStatusActive:
		return !conv.IsAssigned()
	}
	return false
}

// Route evaluates one conversation and applies the decision.
func (e *Engine) Route(ctx context.Context, tenantID, conversationID string, hints models.RoutingHints) (*models.RoutingDecision, error) {
	conv, err := e.sm.Get(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	if !routable(conv) {
		return &models.RoutingDecision{Outcome: models.RoutingSkipped, AgentID: conv.AssignedAgentID, DepartmentID: conv.DepartmentID}, nil
	}
	logger := e.logger.With().Str("tenantId", tenantID).Str("conversationId", conversationID).Logger()

	// A reopened conversation without an agent joins the queue first so
	// assignment happens along waiting -> active.
	if conv.Status == models.ConversationStatusActive {
		if conv, err = e.sm.Queue(ctx, tenantID, conversationID); err != nil {
			return e.skipOnTransition(err)
		}
	}

	dept, err := e.resolveDepartment(ctx, conv, hints)
	if err != nil {
		return nil, err
	}
	if dept == nil {
		logger.Warn().Msg("no department resolved, queueing")
		if err := e.queue(ctx, conv); err != nil {
			return e.skipOnTransition(err)
		}
		return &models.RoutingDecision{Outcome: models.RoutingNoDepartment}, nil
	}
	if conv.DepartmentID != dept.ID {
		if conv, err = e.sm.SetDepartment(ctx, tenantID, conversationID, dept.ID); err != nil {
			return nil, err
		}
	}

	queued := &models.RoutingDecision{Outcome: models.RoutingQueued, DepartmentID: dept.ID}
	if !dept.AutoAssign {
		if err := e.queue(ctx, conv); err != nil {
			return e.skipOnTransition(err)
		}
		return queued, nil
	}

	excluded := make(map[string]bool)
	for attempt := 0; attempt < selectionAttempts; attempt++ {
		candidate, err := e.selectAgent(ctx, tenantID, dept.ID, excluded)
		if err != nil {
			return nil, err
		}
		if candidate == nil {
			break
		}

		_, err = e.sm.Assign(ctx, tenantID, conversationID, candidate.ID)
		switch {
		case err == nil:
			logger.Info().Str("agentId", candidate.ID).Str("departmentId", dept.ID).Msg("conversation routed")
			return &models.RoutingDecision{Outcome: models.RoutingAssigned, AgentID: candidate.ID, DepartmentID: dept.ID}, nil
		case domainerrors.IsCapacityExceeded(err), domainerrors.IsConflict(err):
			logger.Debug().Str("agentId", candidate.ID).Msg("lost capacity race, reselecting")
			excluded[candidate.ID] = true
		default:
			return e.skipOnTransition(err)
		}
	}

	if conv, err = e.sm.Get(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	if err := e.queue(ctx, conv); err != nil {
		return e.skipOnTransition(err)
	}
	logger.Debug().Str("departmentId", dept.ID).Msg("no agent available, queued")
	return queued, nil
}

// skipOnTransition turns a lost race against another writer into a skip.
func (e *Engine) skipOnTransition(err error) (*models.RoutingDecision, error) {
	if domainerrors.IsInvalidTransition(err) {
		return &models.RoutingDecision{Outcome: models.RoutingSkipped}, nil
	}
	return nil, err
}

func (e *Engine) queue(ctx context.Context, conv *models.Conversation) error {
	if conv.Status == models.ConversationStatusWaiting {
		return nil
	}
	_, err := e.sm.Queue(ctx, conv.TenantID, conv.ID)
	return err
}

// resolveDepartment applies hint, intent, existing department, tenant
// default in that order. Unknown ids fall through to the next step.
func (e *Engine) resolveDepartment(ctx context.Context, conv *models.Conversation, hints models.RoutingHints) (*models.Department, error) {
	candidates := []string{hints.DepartmentID}
	if intent := strings.ToLower(strings.TrimSpace(hints.DetectedIntent)); intent != "" {
		candidates = append(candidates, e.intents[intent])
	}
	candidates = append(candidates, conv.DepartmentID)

	for _, id := range candidates {
		if id == "" {
			continue
		}
		dept, err := e.departments.Get(ctx, conv.TenantID, id)
		if errors.Is(err, docdb.ErrNotFound) {
			e.logger.Warn().Str("departmentId", id).Msg("unknown department in routing hint")
			continue
		}
		if err != nil {
			return nil, domainerrors.NewPersistenceError("read department", err)
		}
		return dept, nil
	}

	dept, err := e.departments.GetDefault(ctx, conv.TenantID)
	if errors.Is(err, docdb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domainerrors.NewPersistenceError("read default department", err)
	}
	return dept, nil
}

// Candidates returns online agents of the department with spare capacity,
// least loaded first and longest idle on ties.
func (e *Engine) Candidates(ctx context.Context, tenantID, departmentID string) ([]*models.Agent, error) {
	agents, err := e.agents.List(ctx, &docdb.ListAgentsOptions{
		TenantID:     tenantID,
		DepartmentID: departmentID,
		Statuses:     []models.AgentStatus{models.AgentStatusOnline},
	})
	if err != nil {
		return nil, domainerrors.NewPersistenceError("list agents", err)
	}

	out := agents[:0]
	for _, a := range agents {
		if a.IsAvailable() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CurrentChatCount != out[j].CurrentChatCount {
			return out[i].CurrentChatCount < out[j].CurrentChatCount
		}
		if !out[i].LastActiveAt.Equal(out[j].LastActiveAt) {
			return out[i].LastActiveAt.Before(out[j].LastActiveAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (e *Engine) selectAgent(ctx context.Context, tenantID, departmentID string, excluded map[string]bool) (*models.Agent, error) {
	candidates, err := e.Candidates(ctx, tenantID, departmentID)
	if err != nil {
		return nil, err
	}
	for _, a := range candidates {
		if !excluded[a.ID] {
			return a, nil
		}
	}
	return nil, nil
}

// RebalanceResult summarizes one pass over the waiting queue.
type RebalanceResult struct {
	Scanned  int `json:"scanned"`
	Assigned int `json:"assigned"`
	Waiting  int `json:"waiting"`
}

// Rebalance routes waiting conversations oldest first. Once a department
// has no candidate its later conversations are skipped so none overtakes an
// older one.
func (e *Engine) Rebalance(ctx context.Context, tenantID string) (*RebalanceResult, error) {
	waiting, err := e.conversations.List(ctx, &docdb.ListConversationsOptions{
		TenantID: tenantID,
		Statuses: []models.ConversationStatus{models.ConversationStatusWaiting},
		OrderBy:  docdb.SortOrderAsc,
	})
	if err != nil {
		return nil, domainerrors.NewPersistenceError("list waiting conversations", err)
	}

	result := &RebalanceResult{}
	exhausted := make(map[string]bool)
	for _, conv := range waiting {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if conv.DepartmentID != "" && exhausted[conv.DepartmentID] {
			result.Waiting++
			continue
		}
		result.Scanned++

		decision, err := e.Route(ctx, tenantID, conv.ID, models.RoutingHints{})
		if err != nil {
			return result, err
		}
		switch decision.Outcome {
		case models.RoutingAssigned:
			result.Assigned++
		case models.RoutingQueued:
			result.Waiting++
			exhausted[decision.DepartmentID] = true
		case models.RoutingNoDepartment:
			result.Waiting++
		}
	}

	if result.Assigned > 0 {
		e.logger.Info().Str("tenantId", tenantID).Int("assigned", result.Assigned).Int("waiting", result.Waiting).Msg("queue rebalanced")
	}
	return result, nil
}
