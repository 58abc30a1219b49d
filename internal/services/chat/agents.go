package chat

import (
	"context"
	"errors"

	"github.com/dramac/livechat-service/internal/core/docdb"
	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
)

// AgentStatusResult is the result of SetAgentStatus.
type AgentStatusResult struct {
	Agent    *models.Agent `json:"agent"`
	Changed  bool          `json:"changed"`
	Requeued int           `json:"requeued"`
}

// SetAgentStatus persists an agent status change. Going offline requeues the
// agent's active conversations; going online or freeing slots triggers a
// rebalance.
func (s *Service) SetAgentStatus(ctx context.Context, tenantID, agentID string, status models.AgentStatus) (*AgentStatusResult, error) {
	if !status.IsValid() {
		return nil, domainerrors.NewValidationError("unknown agent status", string(status))
	}

	result, err := s.updateAgentStatus(ctx, tenantID, agentID, status)
	if err != nil {
		return nil, err
	}
	logger := s.logger.With().Str("tenantId", tenantID).Str("agentId", agentID).Str("status", string(status)).Logger()

	if result.Changed {
		switch status {
		case models.AgentStatusOffline:
			n, err := s.requeueAgent(ctx, tenantID, agentID)
			result.Requeued = n
			if err != nil {
				logger.Error().Err(err).Int("requeued", n).Msg("failed to requeue all conversations of offline agent")
			}
			s.triggerRebalance(tenantID)
			if agent, err := s.agents.Get(ctx, tenantID, agentID); err == nil {
				result.Agent = agent
			}
		case models.AgentStatusOnline:
			s.triggerRebalance(tenantID)
		}
		logger.Info().Int("requeued", result.Requeued).Msg("agent status changed")
	}

	s.announce(ctx, result.Agent)
	return result, nil
}

func (s *Service) updateAgentStatus(ctx context.Context, tenantID, agentID string, status models.AgentStatus) (*AgentStatusResult, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		current, err := s.agents.Get(ctx, tenantID, agentID)
		if errors.Is(err, docdb.ErrNotFound) {
			return nil, domainerrors.NewNotFoundError("agent", agentID)
		}
		if err != nil {
			return nil, domainerrors.NewPersistenceError("read agent", err)
		}
		if current.Status == status {
			return &AgentStatusResult{Agent: current}, nil
		}

		next := current.Clone()
		next.Status = status
		next.LastActiveAt = s.now()
		err = s.agents.UpdateIfVersion(ctx, next, current.Version)
		if errors.Is(err, docdb.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, domainerrors.NewPersistenceError("update agent status", err)
		}
		return &AgentStatusResult{Agent: next, Changed: true}, nil
	}
	return nil, domainerrors.NewConflictError("agent was modified concurrently", agentID)
}

// requeueAgent moves every active conversation of the agent back to waiting.
func (s *Service) requeueAgent(ctx context.Context, tenantID, agentID string) (int, error) {
	active, err := s.convStore.List(ctx, &docdb.ListConversationsOptions{
		TenantID: tenantID,
		AgentID:  agentID,
		Statuses: []models.ConversationStatus{models.ConversationStatusActive},
		OrderBy:  docdb.SortOrderAsc,
	})
	if err != nil {
		return 0, domainerrors.NewPersistenceError("list agent conversations", err)
	}

	var errs []error
	n := 0
	for _, conv := range active {
		if _, err := s.conversations.Requeue(ctx, tenantID, conv.ID); err != nil {
			if domainerrors.IsInvalidTransition(err) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

func (s *Service) triggerRebalance(tenantID string) {
	if s.rebalancer != nil {
		s.rebalancer.Trigger(tenantID)
	}
}

// Heartbeat refreshes the presence entry of an agent from its stored state.
func (s *Service) Heartbeat(ctx context.Context, tenantID, agentID string) (*models.Agent, error) {
	agent, err := s.agents.Get(ctx, tenantID, agentID)
	if errors.Is(err, docdb.ErrNotFound) {
		return nil, domainerrors.NewNotFoundError("agent", agentID)
	}
	if err != nil {
		return nil, domainerrors.NewPersistenceError("read agent", err)
	}
	s.announce(ctx, agent)
	return agent, nil
}

func (s *Service) announce(ctx context.Context, agent *models.Agent) {
	if s.presence == nil || agent == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	var err error
	if agent.Status == models.AgentStatusOffline {
		err = s.presence.Leave(ctx, agent.TenantID, agent.ID)
	} else {
		err = s.presence.Heartbeat(ctx, models.PresenceState{
			TenantID:    agent.TenantID,
			AgentID:     agent.ID,
			Status:      agent.Status,
			CurrentLoad: agent.CurrentChatCount,
			LastSeen:    s.now(),
		})
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("agentId", agent.ID).Msg("failed to publish presence")
	}
}
