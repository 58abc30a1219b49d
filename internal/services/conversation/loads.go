package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/dramac/livechat-service/internal/core/docdb"
	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
)

// SlotHandler observes a freed agent slot, e.g. to trigger a rebalance.
type SlotHandler func(ctx context.Context, tenantID, agentID string)

// OnSlotReleased registers a handler called after an agent load decreases.
func (s *Service) OnSlotReleased(h SlotHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slotHandlers = append(s.slotHandlers, h)
}

// reserveSlot increments the agent load if it stays within capacity.
func (s *Service) reserveSlot(ctx context.Context, tenantID, agentID string) error {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		agent, err := s.agents.Get(ctx, tenantID, agentID)
		if err != nil {
			return translate(err, "agent", agentID, "read agent")
		}
		if !agent.HasCapacity() {
			return domainerrors.NewCapacityExceededError(agentID)
		}

		next := agent.Clone()
		next.CurrentChatCount++
		next.LastActiveAt = s.now()
		err = s.agents.UpdateIfVersion(ctx, next, agent.Version)
		if errors.Is(err, docdb.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return translate(err, "agent", agentID, "reserve agent slot")
		}
		return nil
	}
	return domainerrors.NewConflictError("agent was modified concurrently", agentID)
}

// releaseSlot decrements the agent load, never below zero. handled also
// counts a finished chat. A failure here leaves drift that the load
// reconciliation sweep repairs, so it is logged instead of returned.
func (s *Service) releaseSlot(ctx context.Context, tenantID, agentID string, handled bool) {
	// The caller's write already committed; finish the release even if the
	// request context is gone.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		agent, err := s.agents.Get(ctx, tenantID, agentID)
		if err != nil {
			s.logger.Error().Err(err).Str("agentId", agentID).Msg("failed to read agent for slot release")
			return
		}

		next := agent.Clone()
		if next.CurrentChatCount > 0 {
			next.CurrentChatCount--
		}
		if handled {
			next.TotalChatsHandled++
		}
		err = s.agents.UpdateIfVersion(ctx, next, agent.Version)
		if errors.Is(err, docdb.ErrVersionConflict) {
			continue
		}
		if err != nil {
			s.logger.Error().Err(err).Str("agentId", agentID).Msg("failed to release agent slot")
			return
		}

		s.mu.RLock()
		handlers := append([]SlotHandler(nil), s.slotHandlers...)
		s.mu.RUnlock()
		for _, h := range handlers {
			h(ctx, tenantID, agentID)
		}
		return
	}
	s.logger.Error().Str("agentId", agentID).Msg("agent slot release exhausted retries")
}
