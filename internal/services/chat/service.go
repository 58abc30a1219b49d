// Package chat orchestrates the live conversation flow: it stores inbound
// and agent messages, fans them out, and runs routing, the AI gate and
// outbound delivery on background workers.
package chat

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/core/channel"
	"github.com/dramac/livechat-service/internal/core/docdb"
	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
	"github.com/dramac/livechat-service/internal/services/conversation"
	"github.com/dramac/livechat-service/internal/services/transcript"
)

const (
	// DefaultWorkers is the number of job workers.
	DefaultWorkers = 4
	// DefaultQueueSize is the buffered job capacity per worker.
	DefaultQueueSize = 256
	// historyFallback bounds the history read when no transcript cache is set.
	historyFallback = 20
)

const (
	// HandoffNotice is posted when the visitor asks for a human.
	HandoffNotice = "Thanks for waiting. A member of our team will be with you shortly."
	// QueueNotice is posted when the AI does not answer a waiting visitor.
	QueueNotice = "An agent will respond to you as soon as possible."
)

// Router assigns or queues conversations.
type Router interface {
	Route(ctx context.Context, tenantID, conversationID string, hints models.RoutingHints) (*models.RoutingDecision, error)
}

// Gate decides whether the AI answers a visitor message.
type Gate interface {
	ShouldAutoRespond(ctx context.Context, conv *models.Conversation) (bool, error)
	Decide(ctx context.Context, conv *models.Conversation, history []*models.Message, text string) *models.HandoffDecision
}

// Publisher distributes realtime events.
type Publisher interface {
	PublishMessage(ctx context.Context, msg *models.Message) error
	PublishMessageUpdate(ctx context.Context, msg *models.Message) error
	PublishTransition(ctx context.Context, t *models.Transition) error
	PublishTyping(ctx context.Context, tenantID, conversationID string, state models.TypingState, start bool) error
}

// Presence records advisory agent presence.
type Presence interface {
	Heartbeat(ctx context.Context, state models.PresenceState) error
	Leave(ctx context.Context, tenantID, agentID string) error
}

// RebalanceTrigger schedules a pass over a tenant's waiting queue.
type RebalanceTrigger interface {
	Trigger(tenantID string)
}

// Config holds chat service dependencies. Gate, Presence, Rebalancer,
// Transcript and Sender are optional.
type Config struct {
	Store          docdb.Client
	Conversations  *conversation.Service
	Router         Router
	Publisher      Publisher
	Gate           Gate
	Presence       Presence
	Rebalancer     RebalanceTrigger
	Transcript     transcript.Service
	Sender         channel.Sender
	Workers        int
	QueueSize      int
	MaxCASAttempts int
	Now            func() time.Time
	Logger         zerolog.Logger
}

// Service is the chat orchestrator.
type Service struct {
	conversations *conversation.Service
	convStore     docdb.ConversationsCollection
	messages      docdb.MessagesCollection
	agents        docdb.AgentsCollection
	router        Router
	publisher     Publisher
	gate          Gate
	presence      Presence
	rebalancer    RebalanceTrigger
	transcript    transcript.Service
	sender        channel.Sender
	queue         *JobQueue
	maxAttempts   int
	now           func() time.Time
	logger        zerolog.Logger
}

// New creates the chat service and registers its transition handlers.
// Call Start to run the workers.
func New(cfg *Config) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Conversations == nil {
		return nil, fmt.Errorf("conversation service is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("router is required")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	attempts := cfg.MaxCASAttempts
	if attempts <= 0 {
		attempts = conversation.DefaultMaxCASAttempts
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	sender := cfg.Sender
	if sender == nil {
		sender = channel.Disabled{}
	}

	s := &Service{
		conversations: cfg.Conversations,
		convStore:     cfg.Store.Conversations(),
		messages:      cfg.Store.Messages(),
		agents:        cfg.Store.Agents(),
		router:        cfg.Router,
		publisher:     cfg.Publisher,
		gate:          cfg.Gate,
		presence:      cfg.Presence,
		rebalancer:    cfg.Rebalancer,
		transcript:    cfg.Transcript,
		sender:        sender,
		maxAttempts:   attempts,
		now:           now,
		logger:        cfg.Logger.With().Str("component", "chat").Logger(),
	}
	s.queue = NewJobQueue(workers, size, s.process, cfg.Logger)

	s.conversations.OnTransition(s.onTransition)
	if s.rebalancer != nil {
		s.conversations.OnSlotReleased(func(_ context.Context, tenantID, _ string) {
			s.rebalancer.Trigger(tenantID)
		})
	}
	return s, nil
}

// Start runs the job workers.
func (s *Service) Start() {
	s.queue.Start()
}

// Close stops the workers. Pending jobs are dropped; the sweeper and the
// rebalancer pick up conversations left pending or waiting.
func (s *Service) Close() {
	s.queue.Stop()
}

// QueueLen returns the number of queued jobs.
func (s *Service) QueueLen() int {
	return s.queue.Len()
}

func (s *Service) onTransition(ctx context.Context, tr *models.Transition) {
	ctx = context.WithoutCancel(ctx)
	if err := s.publisher.PublishTransition(ctx, tr); err != nil {
		s.logger.Warn().Err(err).Str("conversationId", tr.Conversation.ID).Str("op", tr.Operation).Msg("failed to publish transition")
	}
	if tr.To == models.ConversationStatusClosed && s.transcript != nil {
		if err := s.transcript.Invalidate(ctx, tr.Conversation.TenantID, tr.Conversation.ID); err != nil {
			s.logger.Warn().Err(err).Str("conversationId", tr.Conversation.ID).Msg("failed to invalidate transcript")
		}
	}
}

func (s *Service) enqueue(job *Job) {
	if !s.queue.Enqueue(job) {
		s.logger.Warn().Str("kind", string(job.Kind)).Str("conversationId", job.ConversationID).Msg("job not enqueued")
	}
}

// MessageInput is the content of a new message.
type MessageInput struct {
	SenderID          string
	ContentType       models.ContentType
	Content           string
	Media             *models.MediaRef
	Template          *models.TemplateRef
	ExternalMessageID string
}

var allowedContent = map[models.SenderType][]models.ContentType{
	models.SenderVisitor: {models.ContentTypeText, models.ContentTypeImage, models.ContentTypeFile},
	models.SenderAgent:   {models.ContentTypeText, models.ContentTypeImage, models.ContentTypeFile, models.ContentTypeNote, models.ContentTypeTemplate},
}

func buildMessage(tenantID, conversationID string, sender models.SenderType, in MessageInput) (*models.Message, error) {
	contentType := in.ContentType
	if contentType == "" {
		contentType = models.ContentTypeText
	}
	allowed := false
	for _, ct := range allowedContent[sender] {
		if ct == contentType {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, domainerrors.NewValidationError(fmt.Sprintf("%s cannot send %s messages", sender, contentType), string(contentType))
	}

	msg := models.NewMessage(tenantID, conversationID, sender, in.SenderID, contentType, in.Content)
	msg.Media = in.Media
	msg.Template = in.Template
	msg.ExternalMessageID = in.ExternalMessageID
	if _, err := msg.Payload(); err != nil {
		return nil, domainerrors.NewValidationError("invalid message", err.Error())
	}
	return msg, nil
}

// commit stores msg and folds it into the conversation counters.
func (s *Service) commit(ctx context.Context, msg *models.Message) (*models.Conversation, error) {
	if err := s.store(ctx, msg); err != nil {
		return nil, err
	}
	return s.conversations.RecordMessage(ctx, msg)
}

// store appends msg and publishes it. Publish and cache failures are
// logged; the message is durable.
func (s *Service) store(ctx context.Context, msg *models.Message) error {
	if err := s.messages.Append(ctx, msg); err != nil {
		if errors.Is(err, docdb.ErrDuplicate) {
			return domainerrors.NewConflictError("message already exists", msg.ID)
		}
		return domainerrors.NewPersistenceError("append message", err)
	}

	bg := context.WithoutCancel(ctx)
	if err := s.publisher.PublishMessage(bg, msg); err != nil {
		s.logger.Warn().Err(err).Str("messageId", msg.ID).Msg("failed to publish message")
	}
	if s.transcript != nil {
		if err := s.transcript.Append(bg, msg); err != nil {
			s.logger.Warn().Err(err).Str("messageId", msg.ID).Msg("failed to update transcript")
		}
	}
	return nil
}

func deliverable(conv *models.Conversation, msg *models.Message) bool {
	return conv.Channel == models.ChannelExternal &&
		msg.SenderType != models.SenderVisitor &&
		msg.VisibleToVisitor()
}

// StartInput holds the inputs of StartConversation.
type StartInput struct {
	conversation.CreateInput
	Message *MessageInput
	Hints   models.RoutingHints
}

// StartConversation opens a conversation, stores the optional first visitor
// message and schedules routing.
func (s *Service) StartConversation(ctx context.Context, in StartInput) (*models.Conversation, *models.Message, error) {
	var msg *models.Message
	if in.Message != nil {
		m, err := buildMessage(in.TenantID, "", models.SenderVisitor, *in.Message)
		if err != nil {
			return nil, nil, err
		}
		msg = m
	}

	conv, err := s.conversations.Create(ctx, in.CreateInput)
	if err != nil {
		return nil, nil, err
	}

	job := &Job{Kind: JobInbound, TenantID: conv.TenantID, ConversationID: conv.ID, Hints: in.Hints}
	if msg == nil {
		s.enqueue(job)
		return conv, nil, nil
	}

	msg.ConversationID = conv.ID
	msg.Status = models.MessageStatusSent
	if msg.SenderID == "" {
		msg.SenderID = conv.VisitorID
	}
	if err := s.store(ctx, msg); err != nil {
		s.discard(ctx, conv)
		return nil, nil, err
	}
	// The message is durable from here on, so it is routed even if the
	// counter update below fails.
	job.MessageID = msg.ID
	s.enqueue(job)
	updated, err := s.conversations.RecordMessage(ctx, msg)
	if err != nil {
		return nil, nil, err
	}
	return updated, msg, nil
}

// discard closes a conversation whose first message could not be stored.
// A conversation left pending by a failed close is marked missed by the sweeper.
func (s *Service) discard(ctx context.Context, conv *models.Conversation) {
	if _, err := s.conversations.Close(context.WithoutCancel(ctx), conv.TenantID, conv.ID); err != nil {
		s.logger.Warn().Err(err).Str("conversationId", conv.ID).Msg("failed to close conversation without message")
	}
}

// PostVisitorMessage stores a visitor message. A message on a resolved,
// closed or missed conversation reopens it first.
func (s *Service) PostVisitorMessage(ctx context.Context, tenantID, conversationID string, in MessageInput) (*models.Message, error) {
	msg, err := buildMessage(tenantID, conversationID, models.SenderVisitor, in)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.Get(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID == "" {
		msg.SenderID = conv.VisitorID
	}
	msg.Status = models.MessageStatusSent

	switch conv.Status {
	case models.ConversationStatusResolved, models.ConversationStatusClosed, models.ConversationStatusMissed:
		if _, err := s.conversations.Reopen(ctx, tenantID, conversationID, ""); err != nil && !domainerrors.IsInvalidTransition(err) {
			return nil, err
		}
	}

	if _, err := s.commit(ctx, msg); err != nil {
		return nil, err
	}
	s.enqueue(&Job{Kind: JobInbound, TenantID: tenantID, ConversationID: conversationID, MessageID: msg.ID})
	return msg, nil
}

// PostAgentMessage stores an agent message. Notes may come from any agent;
// everything else requires the assigned agent of an active conversation.
func (s *Service) PostAgentMessage(ctx context.Context, tenantID, conversationID, agentID string, in MessageInput) (*models.Message, error) {
	if agentID == "" {
		return nil, domainerrors.NewValidationError("agent id is required", "")
	}
	in.SenderID = agentID
	msg, err := buildMessage(tenantID, conversationID, models.SenderAgent, in)
	if err != nil {
		return nil, err
	}
	conv, err := s.conversations.Get(ctx, tenantID, conversationID)
	if err != nil {
		return nil, err
	}
	if msg.ContentType != models.ContentTypeNote {
		if conv.Status != models.ConversationStatusActive {
			return nil, domainerrors.NewInvalidTransitionError(conversation.OpMessage, string(conv.Status))
		}
		if conv.AssignedAgentID != agentID {
			return nil, domainerrors.NewValidationError("conversation is not assigned to this agent", agentID)
		}
	}

	external := deliverable(conv, msg)
	msg.Status = models.MessageStatusSent
	if external {
		msg.Status = models.MessageStatusSending
	}
	if _, err := s.commit(ctx, msg); err != nil {
		return nil, err
	}
	if external {
		s.enqueue(&Job{Kind: JobDeliver, TenantID: tenantID, ConversationID: conversationID, MessageID: msg.ID})
	}
	return msg, nil
}

// InboundInput is a visitor message received from an external channel.
type InboundInput struct {
	Contact      string
	VisitorID    string
	DepartmentID string
	Message      MessageInput
	Hints        models.RoutingHints
}

// IngestInbound stores an external channel message on the latest
// conversation of the contact, or on a new one. Redelivered messages with a
// known external id return the stored message.
func (s *Service) IngestInbound(ctx context.Context, tenantID string, in InboundInput) (*models.Message, error) {
	if in.Contact == "" {
		return nil, domainerrors.NewValidationError("contact is required", "")
	}
	if ext := in.Message.ExternalMessageID; ext != "" {
		existing, err := s.messages.GetByExternalID(ctx, tenantID, ext)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, docdb.ErrNotFound) {
			return nil, domainerrors.NewPersistenceError("read message", err)
		}
	}

	latest, err := s.convStore.List(ctx, &docdb.ListConversationsOptions{
		TenantID:        tenantID,
		ExternalContact: in.Contact,
		OrderBy:         docdb.SortOrderDesc,
		Limit:           1,
	})
	if err != nil {
		return nil, domainerrors.NewPersistenceError("find contact conversation", err)
	}
	if len(latest) > 0 {
		return s.PostVisitorMessage(ctx, tenantID, latest[0].ID, in.Message)
	}

	visitorID := in.VisitorID
	if visitorID == "" {
		visitorID = in.Contact
	}
	_, msg, err := s.StartConversation(ctx, StartInput{
		CreateInput: conversation.CreateInput{
			TenantID:        tenantID,
			VisitorID:       visitorID,
			DepartmentID:    in.DepartmentID,
			Channel:         models.ChannelExternal,
			ExternalContact: in.Contact,
		},
		Message: &in.Message,
		Hints:   in.Hints,
	})
	return msg, err
}

// Conversation returns a conversation of the tenant.
func (s *Service) Conversation(ctx context.Context, tenantID, conversationID string) (*models.Conversation, error) {
	return s.conversations.Get(ctx, tenantID, conversationID)
}

// MessagePage is one page of a conversation. NextCursor is the seq to pass
// as afterSeq for the following page; it also moves past hidden notes.
type MessagePage struct {
	Messages   []*models.Message `json:"messages"`
	NextCursor int64             `json:"nextCursor"`
}

// ListMessages returns messages after the cursor in seq order. Visitors do
// not see internal notes.
func (s *Service) ListMessages(ctx context.Context, tenantID, conversationID string, afterSeq, limit int64, visitor bool) (*MessagePage, error) {
	if _, err := s.conversations.Get(ctx, tenantID, conversationID); err != nil {
		return nil, err
	}
	list, err := s.messages.List(ctx, &docdb.ListMessagesOptions{
		TenantID:       tenantID,
		ConversationID: conversationID,
		AfterSeq:       afterSeq,
		Limit:          limit,
		OrderBy:        docdb.SortOrderAsc,
	})
	if err != nil {
		return nil, domainerrors.NewPersistenceError("list messages", err)
	}

	page := &MessagePage{Messages: list, NextCursor: afterSeq}
	if n := len(list); n > 0 {
		page.NextCursor = list[n-1].Seq
	}
	if !visitor {
		return page, nil
	}
	visible := make([]*models.Message, 0, len(list))
	for _, m := range list {
		if m.VisibleToVisitor() {
			visible = append(visible, m)
		}
	}
	page.Messages = visible
	return page, nil
}

// ReconcileStatus applies a delivery status reported by the outbound
// channel. Status only moves forward; stale or repeated reports are no-ops.
func (s *Service) ReconcileStatus(ctx context.Context, tenantID, externalID string, status models.MessageStatus, errorMessage string) (*models.Message, error) {
	if externalID == "" {
		return nil, domainerrors.NewValidationError("external message id is required", "")
	}
	switch status {
	case models.MessageStatusSent, models.MessageStatusDelivered, models.MessageStatusRead, models.MessageStatusFailed:
	default:
		return nil, domainerrors.NewValidationError("unknown delivery status", string(status))
	}
	if status != models.MessageStatusFailed {
		errorMessage = ""
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		msg, err := s.messages.GetByExternalID(ctx, tenantID, externalID)
		if errors.Is(err, docdb.ErrNotFound) {
			return nil, domainerrors.NewNotFoundError("message", externalID)
		}
		if err != nil {
			return nil, domainerrors.NewPersistenceError("read message", err)
		}
		if !msg.Status.Advances(status) {
			return msg, nil
		}

		err = s.messages.UpdateStatusIf(ctx, tenantID, msg.ID, msg.Status, status, "", errorMessage)
		if errors.Is(err, docdb.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, domainerrors.NewPersistenceError("update message status", err)
		}

		updated, err := s.messages.Get(ctx, tenantID, msg.ID)
		if err != nil {
			return nil, domainerrors.NewPersistenceError("read message", err)
		}
		if err := s.publisher.PublishMessageUpdate(context.WithoutCancel(ctx), updated); err != nil {
			s.logger.Warn().Err(err).Str("messageId", updated.ID).Msg("failed to publish message update")
		}
		if status == models.MessageStatusRead {
			if _, err := s.conversations.MarkRead(ctx, tenantID, updated.ConversationID, models.SenderVisitor); err != nil {
				s.logger.Warn().Err(err).Str("conversationId", updated.ConversationID).Msg("failed to apply read receipt")
			}
		}
		return updated, nil
	}
	return nil, domainerrors.NewConflictError("message was modified concurrently", externalID)
}

// ReadReceipt is the result of MarkRead.
type ReadReceipt struct {
	Conversation *models.Conversation `json:"conversation"`
	Reader       models.SenderType    `json:"reader"`
	UptoSeq      int64                `json:"uptoSeq,omitempty"`
	Updated      int64                `json:"updated"`
}

// MarkRead zeroes the reader's unread counter and marks the other side's
// messages up to uptoSeq as read. uptoSeq <= 0 means all of them.
func (s *Service) MarkRead(ctx context.Context, tenantID, conversationID string, reader models.SenderType, uptoSeq int64) (*ReadReceipt, error) {
	conv, err := s.conversations.MarkRead(ctx, tenantID, conversationID, reader)
	if err != nil {
		return nil, err
	}
	senders := []models.SenderType{models.SenderVisitor}
	if reader == models.SenderVisitor {
		senders = []models.SenderType{models.SenderAgent, models.SenderAI, models.SenderSystem}
	}
	upto := uptoSeq
	if upto <= 0 {
		upto = math.MaxInt64
	}
	n, err := s.messages.MarkRead(ctx, tenantID, conversationID, senders, upto, s.now())
	if err != nil {
		return nil, domainerrors.NewPersistenceError("mark messages read", err)
	}
	return &ReadReceipt{Conversation: conv, Reader: reader, UptoSeq: uptoSeq, Updated: n}, nil
}

// Typing publishes a typing indicator.
func (s *Service) Typing(ctx context.Context, tenantID, conversationID, participantID string, participantType models.SenderType, start bool) error {
	if participantType != models.SenderVisitor && participantType != models.SenderAgent {
		return domainerrors.NewValidationError("participant must be visitor or agent", string(participantType))
	}
	if participantID == "" {
		return domainerrors.NewValidationError("participant id is required", "")
	}
	return s.publisher.PublishTyping(ctx, tenantID, conversationID, models.TypingState{
		ParticipantID:   participantID,
		ParticipantType: participantType,
	}, start)
}
