// Package conversation implements the conversation lifecycle state machine.
// Every change is a read-modify-write guarded by the conversation version.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/core/docdb"
	corenotify "github.com/dramac/livechat-service/internal/core/notify"
	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
	"github.com/dramac/livechat-service/internal/services/notify"
)

// DefaultMaxCASAttempts bounds read-modify-write retries on version conflicts.
const DefaultMaxCASAttempts = 5

// Operation names carried on transitions.
const (
	OpCreate   = "create"
	OpAssign   = "assign"
	OpQueue    = "queue"
	OpRequeue  = "requeue"
	OpResolve  = "resolve"
	OpClose    = "close"
	OpReopen   = "reopen"
	OpMissed   = "markMissed"
	OpTransfer = "transfer"
	OpRate     = "rate"
	OpMessage  = "message"
	OpRead     = "read"
	OpRoute    = "department"
)

// TransitionHandler observes committed changes. Handlers run synchronously
// after the write and must not block.
type TransitionHandler func(ctx context.Context, tr *models.Transition)

// CreateInput holds the inputs of Create.
type CreateInput struct {
	TenantID        string
	VisitorID       string
	DepartmentID    string
	Channel         models.Channel
	ExternalContact string
	Priority        models.Priority
}

// ServiceConfig holds state machine dependencies.
type ServiceConfig struct {
	Store          docdb.Client
	Notifier       notify.Notifier
	MaxCASAttempts int
	Now            func() time.Time
	Logger         zerolog.Logger
}

// Service is the conversation state machine.
type Service struct {
	conversations docdb.ConversationsCollection
	agents        docdb.AgentsCollection
	notifier      notify.Notifier
	maxAttempts   int
	now           func() time.Time
	logger        zerolog.Logger

	mu           sync.RWMutex
	handlers     []TransitionHandler
	slotHandlers []SlotHandler
}

// NewService creates a new conversation service.
func NewService(cfg *ServiceConfig) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	attempts := cfg.MaxCASAttempts
	if attempts <= 0 {
		attempts = DefaultMaxCASAttempts
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		conversations: cfg.Store.Conversations(),
		agents:        cfg.Store.Agents(),
		notifier:      cfg.Notifier,
		maxAttempts:   attempts,
		now:           now,
		logger:        cfg.Logger.With().Str("component", "conversation").Logger(),
	}, nil
}

// OnTransition registers a handler for committed changes.
func (s *Service) OnTransition(h TransitionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

func (s *Service) emit(ctx context.Context, tr *models.Transition) {
	s.mu.RLock()
	handlers := append([]TransitionHandler(nil), s.handlers...)
	s.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, tr)
	}
}

func (s *Service) notify(ctx context.Context, trigger corenotify.Trigger, conv *models.Conversation) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, trigger, conv)
	}
}

// Get returns a conversation.
func (s *Service) Get(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	conv, err := s.conversations.Get(ctx, tenantID, id)
	if err != nil {
		return nil, translate(err, "conversation", id, "read conversation")
	}
	return conv, nil
}

// List returns conversations of a tenant, optionally filtered by status.
func (s *Service) List(ctx context.Context, tenantID string, statuses []models.ConversationStatus, limit, skip int64) ([]*models.Conversation, error) {
	for _, st := range statuses {
		if !st.IsValid() {
			return nil, domainerrors.NewValidationError("invalid status filter", string(st))
		}
	}
	list, err := s.conversations.List(ctx, &docdb.ListConversationsOptions{
		TenantID: tenantID,
		Statuses: statuses,
		Limit:    limit,
		Skip:     skip,
		OrderBy:  docdb.SortOrderDesc,
	})
	if err != nil {
		return nil, domainerrors.NewPersistenceError("list conversations", err)
	}
	return list, nil
}

// Create opens a pending conversation.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Conversation, error) {
	if in.TenantID == "" {
		return nil, domainerrors.NewValidationError("tenant id is required", "")
	}
	if in.VisitorID == "" {
		return nil, domainerrors.NewValidationError("visitor id is required", "")
	}
	if in.Channel == "" {
		in.Channel = models.ChannelWidget
	}
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}

	now := s.now()
	conv := &models.Conversation{
		ID:              uuid.NewString(),
		TenantID:        in.TenantID,
		VisitorID:       in.VisitorID,
		DepartmentID:    in.DepartmentID,
		Channel:         in.Channel,
		ExternalContact: in.ExternalContact,
		Status:          models.ConversationStatusPending,
		Priority:        in.Priority,
		CreatedAt:       now,
	}
	if err := s.conversations.Create(ctx, conv); err != nil {
		return nil, domainerrors.NewPersistenceError("create conversation", err)
	}

	s.logger.Info().Str("tenantId", conv.TenantID).Str("conversationId", conv.ID).Msg("conversation created")
	s.emit(ctx, &models.Transition{
		Conversation: conv.Clone(),
		To:           models.ConversationStatusPending,
		Operation:    OpCreate,
		At:           now,
	})
	return conv, nil
}

// mutation computes the next state from a private copy of the current one.
type mutation func(next *models.Conversation, now time.Time) error

// update runs the CAS loop. apply sees a clone; returning an error aborts
// without writing.
func (s *Service) update(ctx context.Context, tenantID, id, op string, apply mutation) (*models.Transition, error) {
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current, err := s.conversations.Get(ctx, tenantID, id)
		if err != nil {
			return nil, translate(err, "conversation", id, "read conversation")
		}

		now := s.now()
		next := current.Clone()
		if err := apply(next, now); err != nil {
			return nil, err
		}

		err = s.conversations.UpdateIfVersion(ctx, next, current.Version)
		if errors.Is(err, docdb.ErrVersionConflict) {
			s.logger.Debug().Str("conversationId", id).Str("op", op).Int("attempt", attempt).Msg("version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, translate(err, "conversation", id, op)
		}

		return &models.Transition{
			Conversation:  next,
			From:          current.Status,
			To:            next.Status,
			Operation:     op,
			PreviousAgent: current.AssignedAgentID,
			At:            now,
		}, nil
	}
	return nil, domainerrors.NewConflictError("conversation was modified concurrently", id)
}

func requireTransition(op string, from, to models.ConversationStatus) error {
	if !from.CanTransitionTo(to) {
		return domainerrors.NewInvalidTransitionError(op, string(from))
	}
	return nil
}

// Assign gives the conversation to agentID. The agent slot is reserved first
// and released again if the conversation write does not commit.
func (s *Service) Assign(ctx context.Context, tenantID, id, agentID string) (*models.Conversation, error) {
	if agentID == "" {
		return nil, domainerrors.NewValidationError("agent id is required", "")
	}
	current, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.ConversationStatusPending && current.Status != models.ConversationStatusWaiting {
		return nil, domainerrors.NewInvalidTransitionError(OpAssign, string(current.Status))
	}

	if err := s.reserveSlot(ctx, tenantID, agentID); err != nil {
		return nil, err
	}

	tr, err := s.update(ctx, tenantID, id, OpAssign, func(next *models.Conversation, now time.Time) error {
		if next.Status != models.ConversationStatusPending && next.Status != models.ConversationStatusWaiting {
			return domainerrors.NewInvalidTransitionError(OpAssign, string(next.Status))
		}
		next.Status = models.ConversationStatusActive
		next.AssignedAgentID = agentID
		next.AssignedAt = models.TimePtr(now)
		return nil
	})
	if err != nil {
		s.releaseSlot(ctx, tenantID, agentID, false)
		return nil, err
	}

	s.logger.Info().Str("conversationId", id).Str("agentId", agentID).Msg("conversation assigned")
	s.notify(ctx, corenotify.TriggerAssigned, tr.Conversation)
	s.emit(ctx, tr)
	return tr.Conversation, nil
}

// Queue moves a conversation nobody owns to waiting. Routing uses it when
// no agent can take the conversation.
func (s *Service) Queue(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	tr, err := s.update(ctx, tenantID, id, OpQueue, func(next *models.Conversation, _ time.Time) error {
		if next.IsAssigned() && next.Status == models.ConversationStatusActive {
			return domainerrors.NewInvalidTransitionError(OpQueue, "active with an assigned agent")
		}
		if err := requireTransition(OpQueue, next.Status, models.ConversationStatusWaiting); err != nil {
			return err
		}
		next.Status = models.ConversationStatusWaiting
		next.AssignedAgentID = ""
		next.AssignedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, tr)
	return tr.Conversation, nil
}

// Requeue takes an active conversation away from its agent and puts it
// back in the waiting queue.
func (s *Service) Requeue(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	tr, err := s.update(ctx, tenantID, id, OpRequeue, func(next *models.Conversation, _ time.Time) error {
		if err := requireTransition(OpRequeue, next.Status, models.ConversationStatusWaiting); err != nil {
			return err
		}
		if next.Status != models.ConversationStatusActive {
			return domainerrors.NewInvalidTransitionError(OpRequeue, string(next.Status))
		}
		next.Status = models.ConversationStatusWaiting
		next.AssignedAgentID = ""
		next.AssignedAt = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	if tr.PreviousAgent != "" {
		s.releaseSlot(ctx, tenantID, tr.PreviousAgent, false)
	}
	s.emit(ctx, tr)
	return tr.Conversation, nil
}

// Resolve finishes an active conversation.
func (s *Service) Resolve(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	tr, err := s.update(ctx, tenantID, id, OpResolve, func(next *models.Conversation, now time.Time) error {
		if err := requireTransition(OpResolve, next.Status, models.ConversationStatusResolved); err != nil {
			return err
		}
		next.Status = models.ConversationStatusResolved
		next.ResolvedAt = models.TimePtr(now)
		next.ResolutionTimeSeconds = int64(now.Sub(next.CreatedAt).Seconds())
		return nil
	})
	if err != nil {
		return nil, err
	}
	if tr.PreviousAgent != "" {
		s.releaseSlot(ctx, tenantID, tr.PreviousAgent, true)
	}

	s.logger.Info().Str("conversationId", id).Int64("resolutionSeconds", tr.Conversation.ResolutionTimeSeconds).Msg("conversation resolved")
	s.notify(ctx, corenotify.TriggerResolved, tr.Conversation)
	s.emit(ctx, tr)
	return tr.Conversation, nil
}

// Close ends a conversation from any non-terminal status.
func (s *Service) Close(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	tr, err := s.update(ctx, tenantID, id, OpClose, func(next *models.Conversation, now time.Time) error {
		if err := requireTransition(OpClose, next.Status, models.ConversationStatusClosed); err != nil {
			return err
		}
		next.Status = models.ConversationStatusClosed
		next.ClosedAt = models.TimePtr(now)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if tr.From == models.ConversationStatusActive && tr.PreviousAgent != "" {
		s.releaseSlot(ctx, tenantID, tr.PreviousAgent, false)
	}
	s.emit(ctx, tr)
	return tr.Conversation, nil
}

// Reopen brings a resolved, closed or missed conversation back to active.
// With an explicit agentID the slot must be free; otherwise the previous
// assignee is tried and the conversation reopens unassigned if that fails.
func (s *Service) Reopen(ctx context.Context, tenantID, id, agentID string) (*models.Conversation, error) {
	current, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if err := requireTransition(OpReopen, current.Status, models.ConversationStatusActive); err != nil {
		return nil, err
	}
	if current.Status != models.ConversationStatusResolved &&
		current.Status != models.ConversationStatusClosed &&
		current.Status != models.ConversationStatusMissed {
		return nil, domainerrors.NewInvalidTransitionError(OpReopen, string(current.Status))
	}

	target := agentID
	if target != "" {
		if err := s.reserveSlot(ctx, tenantID, target); err != nil {
			return nil, err
		}
	} else if current.AssignedAgentID != "" {
		target = current.AssignedAgentID
		if err := s.reserveSlot(ctx, tenantID, target); err != nil {
			if !domainerrors.IsCapacityExceeded(err) && !domainerrors.IsNotFound(err) {
				return nil, err
			}
			target = ""
		}
	}

	tr, err := s.update(ctx, tenantID, id, OpReopen, func(next *models.Conversation, now time.Time) error {
		if err := requireTransition(OpReopen, next.Status, models.ConversationStatusActive); err != nil {
			return err
		}
		if next.Status == models.ConversationStatusWaiting || next.Status == models.ConversationStatusPending {
			return domainerrors.NewInvalidTransitionError(OpReopen, string(next.Status))
		}
		next.Status = models.ConversationStatusActive
		next.AssignedAgentID = target
		next.AssignedAt = nil
		if target != "" {
			next.AssignedAt = models.TimePtr(now)
		}
		next.ResolvedAt = nil
		next.ResolutionTimeSeconds = 0
		next.ClosedAt = nil
		next.MissedAt = nil
		next.Rating = nil
		return nil
	})
	if err != nil {
		if target != "" {
			s.releaseSlot(ctx, tenantID, target, false)
		}
		return nil, err
	}

	if target != "" {
		s.notify(ctx, corenotify.TriggerAssigned, tr.Conversation)
	}
	s.emit(ctx, tr)
	return tr.Conversation, nil
}

// MarkMissed flags a pending conversation nobody answered. Already missed
// or answered conversations are rejected so repeated sweeps change nothing.
func (s *Service) MarkMissed(ctx context.Context, tenantID, id string) (*models.Conversation, error) {
	tr, err := s.update(ctx, tenantID, id, OpMissed, func(next *models.Conversation, now time.Time) error {
		if next.Status != models.ConversationStatusPending {
			return domainerrors.NewInvalidTransitionError(OpMissed, string(next.Status))
		}
		if next.FirstResponseAt != nil || next.IsAssigned() {
			return domainerrors.NewInvalidTransitionError(OpMissed, "already answered")
		}
		next.Status = models.ConversationStatusMissed
		next.MissedAt = models.TimePtr(now)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("conversationId", id).Msg("conversation missed")
	s.notify(ctx, corenotify.TriggerMissed, tr.Conversation)
	s.emit(ctx, tr)
	return tr.Conversation, nil
}

// Transfer moves an active conversation to another agent. The new slot is
// reserved before the write and the old one released after it.
func (s *Service) Transfer(ctx context.Context, tenantID, id, toAgentID string) (*models.Conversation, error) {
	if toAgentID == "" {
		return nil, domainerrors.NewValidationError("target agent id is required", "")
	}
	current, err := s.Get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if current.Status != models.ConversationStatusActive {
		return nil, domainerrors.NewInvalidTransitionError(OpTransfer, string(current.Status))
	}
	if current.AssignedAgentID == toAgentID {
		return nil, domainerrors.NewValidationError("conversation is already assigned to this agent", toAgentID)
	}

	if err := s.reserveSlot(ctx, tenantID, toAgentID); err != nil {
		return nil, err
	}

	tr, err := s.update(ctx, tenantID, id, OpTransfer, func(next *models.Conversation, now time.Time) error {
		if next.Status != models.ConversationStatusActive {
			return domainerrors.NewInvalidTransitionError(OpTransfer, string(next.Status))
		}
		if next.AssignedAgentID == toAgentID {
			return domainerrors.NewValidationError("conversation is already assigned to this agent", toAgentID)
		}
		next.AssignedAgentID = toAgentID
		next.AssignedAt = models.TimePtr(now)
		return nil
	})
	if err != nil {
		s.releaseSlot(ctx, tenantID, toAgentID, false)
		return nil, err
	}
	if tr.PreviousAgent != "" {
		s.releaseSlot(ctx, tenantID, tr.PreviousAgent, false)
	}

	s.notify(ctx, corenotify.TriggerAssigned, tr.Conversation)
	s.emit(ctx, tr)
	return tr.Conversation, nil
}

// Rate stores the visitor rating of a finished conversation.
func (s *Service) Rate(ctx context.Context, tenantID, id string, score int, comment string) (*models.Conversation, error) {
	if score < 1 || score > 5 {
		return nil, domainerrors.NewValidationError("score must be between 1 and 5", fmt.Sprintf("%d", score))
	}
	tr, err := s.update(ctx, tenantID, id, OpRate, func(next *models.Conversation, now time.Time) error {
		if next.Status != models.ConversationStatusResolved && next.Status != models.ConversationStatusClosed {
			return domainerrors.NewInvalidTransitionError(OpRate, string(next.Status))
		}
		if next.Rating != nil {
			return domainerrors.NewValidationError("conversation is already rated", id)
		}
		next.Rating = &models.Rating{Score: score, Comment: comment, RatedAt: now}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, corenotify.TriggerRated, tr.Conversation)
	s.emit(ctx, tr)
	return tr.Conversation, nil
}

// RecordMessage folds a committed message into the conversation counters.
// The first agent message stamps the first response time.
func (s *Service) RecordMessage(ctx context.Context, msg *models.Message) (*models.Conversation, error) {
	tr, err := s.update(ctx, msg.TenantID, msg.ConversationID, OpMessage, func(next *models.Conversation, _ time.Time) error {
		next.MessageCount++
		if next.LastMessageAt == nil || msg.CreatedAt.After(*next.LastMessageAt) {
			next.LastMessageAt = models.TimePtr(msg.CreatedAt)
		}
		switch msg.SenderType {
		case models.SenderVisitor:
			next.UnreadAgentCount++
		case models.SenderAgent, models.SenderAI:
			if msg.VisibleToVisitor() {
				next.UnreadVisitorCount++
			}
		}
		if msg.SenderType == models.SenderAgent && msg.VisibleToVisitor() && next.FirstResponseAt == nil {
			next.FirstResponseAt = models.TimePtr(msg.CreatedAt)
			next.FirstResponseSeconds = int64(msg.CreatedAt.Sub(next.CreatedAt).Seconds())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tr.Conversation, nil
}

// MarkRead zeroes the unread counter of the reading side.
func (s *Service) MarkRead(ctx context.Context, tenantID, id string, reader models.SenderType) (*models.Conversation, error) {
	tr, err := s.update(ctx, tenantID, id, OpRead, func(next *models.Conversation, _ time.Time) error {
		switch reader {
		case models.SenderAgent:
			next.UnreadAgentCount = 0
		case models.SenderVisitor:
			next.UnreadVisitorCount = 0
		default:
			return domainerrors.NewValidationError("reader must be agent or visitor", string(reader))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tr.Conversation, nil
}

// SetDepartment records the department routing resolved for a conversation.
func (s *Service) SetDepartment(ctx context.Context, tenantID, id, departmentID string) (*models.Conversation, error) {
	tr, err := s.update(ctx, tenantID, id, OpRoute, func(next *models.Conversation, _ time.Time) error {
		next.DepartmentID = departmentID
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tr.Conversation, nil
}

// translate maps repository errors to domain errors.
func translate(err error, resource, id, operation string) error {
	switch {
	case errors.Is(err, docdb.ErrNotFound):
		return domainerrors.NewNotFoundError(resource, id)
	case errors.Is(err, docdb.ErrVersionConflict):
		return domainerrors.NewConflictError(resource+" was modified concurrently", id)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case domainerrors.IsDomainError(err):
		return err
	default:
		return domainerrors.NewPersistenceError(operation, err)
	}
}
