package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/dramac/livechat-service/internal/core/channel"
	"github.com/dramac/livechat-service/internal/core/docdb"
	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
)

func (s *Service) process(ctx context.Context, job *Job) error {
	switch job.Kind {
	case JobInbound:
		return s.handleInbound(ctx, job)
	case JobDeliver:
		msg, err := s.messages.Get(ctx, job.TenantID, job.MessageID)
		if err != nil {
			return fmt.Errorf("failed to read message %s: %w", job.MessageID, err)
		}
		return s.deliver(ctx, msg)
	default:
		return fmt.Errorf("unknown job kind %q", job.Kind)
	}
}

// handleInbound routes the conversation and, when nobody can take it, lets
// the AI gate answer the visitor message.
func (s *Service) handleInbound(ctx context.Context, job *Job) error {
	decision, err := s.router.Route(ctx, job.TenantID, job.ConversationID, job.Hints)
	if err != nil {
		return fmt.Errorf("failed to route conversation: %w", err)
	}
	if decision.Outcome == models.RoutingAssigned || decision.Outcome == models.RoutingSkipped {
		return nil
	}
	if job.MessageID == "" || s.gate == nil {
		return nil
	}

	conv, err := s.conversations.Get(ctx, job.TenantID, job.ConversationID)
	if err != nil {
		return err
	}
	auto, err := s.gate.ShouldAutoRespond(ctx, conv)
	if err != nil || !auto {
		return err
	}

	msg, err := s.messages.Get(ctx, job.TenantID, job.MessageID)
	if err != nil {
		return fmt.Errorf("failed to read message %s: %w", job.MessageID, err)
	}
	if msg.Content == "" {
		return nil
	}

	history := s.history(ctx, msg)
	handoff := s.gate.Decide(ctx, conv, history, msg.Content)
	logger := s.logger.With().Str("conversationId", conv.ID).Str("action", string(handoff.Action)).Str("reason", handoff.Reason).Logger()
	switch handoff.Action {
	case models.HandoffActionAutoRespond:
		reply := models.NewMessage(conv.TenantID, conv.ID, models.SenderAI, "", models.ContentTypeText, handoff.Text)
		reply.IsAIGenerated = true
		reply.AIConfidence = handoff.Confidence
		logger.Debug().Float64("confidence", handoff.Confidence).Msg("ai answering")
		return s.reply(ctx, reply)
	case models.HandoffActionHandoff:
		logger.Debug().Msg("visitor asked for a human")
		return s.noticeAndRoute(ctx, conv, job.Hints, HandoffNotice, history)
	}
	logger.Debug().Msg("left for an agent")
	return s.noticeAndRoute(ctx, conv, job.Hints, QueueNotice, history)
}

// noticeAndRoute tells the visitor an agent will answer, once per wait, and
// routes again since an agent may have come online during the decision.
func (s *Service) noticeAndRoute(ctx context.Context, conv *models.Conversation, hints models.RoutingHints, notice string, history []*models.Message) error {
	if !noticed(history, notice) {
		if err := s.reply(ctx, models.NewSystemMessage(conv.TenantID, conv.ID, notice)); err != nil {
			return err
		}
	}
	decision, err := s.router.Route(ctx, conv.TenantID, conv.ID, hints)
	if err != nil {
		return fmt.Errorf("failed to route conversation: %w", err)
	}
	if decision.Outcome == models.RoutingAssigned {
		s.logger.Debug().Str("conversationId", conv.ID).Str("agentId", decision.AgentID).Msg("assigned after gate decision")
	}
	return nil
}

// noticed reports whether notice was posted after the last agent or AI message.
func noticed(history []*models.Message, notice string) bool {
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		switch m.SenderType {
		case models.SenderAgent, models.SenderAI:
			return false
		case models.SenderSystem:
			if m.Content == notice {
				return true
			}
		}
	}
	return false
}

// history returns the visible messages before current.
func (s *Service) history(ctx context.Context, current *models.Message) []*models.Message {
	var (
		recent []*models.Message
		err    error
	)
	if s.transcript != nil {
		recent, err = s.transcript.Recent(ctx, current.TenantID, current.ConversationID, 0)
	} else {
		recent, err = s.messages.List(ctx, &docdb.ListMessagesOptions{
			TenantID:       current.TenantID,
			ConversationID: current.ConversationID,
			Limit:          historyFallback,
			OrderBy:        docdb.SortOrderDesc,
		})
		for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
			recent[i], recent[j] = recent[j], recent[i]
		}
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("conversationId", current.ConversationID).Msg("failed to load history")
		return nil
	}

	out := make([]*models.Message, 0, len(recent))
	for _, m := range recent {
		if m.Seq < current.Seq && m.VisibleToVisitor() {
			out = append(out, m)
		}
	}
	return out
}

// reply stores a service generated message. An AI answer is dropped when an
// agent took the conversation in the meantime.
func (s *Service) reply(ctx context.Context, msg *models.Message) error {
	conv, err := s.conversations.Get(ctx, msg.TenantID, msg.ConversationID)
	if err != nil {
		return err
	}
	if msg.SenderType == models.SenderAI && conv.IsAssigned() {
		return nil
	}

	external := deliverable(conv, msg)
	msg.Status = models.MessageStatusSent
	if external {
		msg.Status = models.MessageStatusSending
	}
	if _, err := s.commit(ctx, msg); err != nil {
		return err
	}
	if external {
		return s.deliver(ctx, msg)
	}
	return nil
}

// deliver sends a sending message through the outbound channel and records
// the result. Transport errors mark the message failed.
func (s *Service) deliver(ctx context.Context, msg *models.Message) error {
	if msg.Status != models.MessageStatusSending {
		return nil
	}
	conv, err := s.conversations.Get(ctx, msg.TenantID, msg.ConversationID)
	if err != nil {
		return err
	}

	externalID, sendErr := s.sender.Send(ctx, &channel.OutboundMessage{
		TenantID:       msg.TenantID,
		ConversationID: msg.ConversationID,
		MessageID:      msg.ID,
		Recipient:      conv.ExternalContact,
		ContentType:    msg.ContentType,
		Content:        msg.Content,
		Media:          msg.Media,
		Template:       msg.Template,
	})

	next, errorMessage := models.MessageStatusSent, ""
	if sendErr != nil {
		s.logger.Warn().Err(domainerrors.NewCollaboratorUnavailableError("channel", sendErr)).Str("messageId", msg.ID).Msg("outbound delivery failed")
		next, externalID, errorMessage = models.MessageStatusFailed, "", sendErr.Error()
	}

	err = s.messages.UpdateStatusIf(ctx, msg.TenantID, msg.ID, models.MessageStatusSending, next, externalID, errorMessage)
	if errors.Is(err, docdb.ErrVersionConflict) {
		return nil
	}
	if err != nil {
		return domainerrors.NewPersistenceError("update message status", err)
	}

	updated, err := s.messages.Get(ctx, msg.TenantID, msg.ID)
	if err != nil {
		return domainerrors.NewPersistenceError("read message", err)
	}
	if err := s.publisher.PublishMessageUpdate(context.WithoutCancel(ctx), updated); err != nil {
		s.logger.Warn().Err(err).Str("messageId", msg.ID).Msg("failed to publish message update")
	}
	return nil
}
