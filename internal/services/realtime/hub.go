// Package realtime distributes conversation and presence events to
// subscribers on every server node.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/core/broker"
	"github.com/dramac/livechat-service/internal/core/docdb"
	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
)

const (
	// DefaultBuffer is the per-subscriber event buffer.
	DefaultBuffer = 64
	// DefaultGapTimeout is how long a topic waits for a missing seq before
	// reading it back from the store.
	DefaultGapTimeout = 500 * time.Millisecond
	// DefaultTypingTimeout is advertised to clients in TypingState.ExpiresAt.
	DefaultTypingTimeout = 10 * time.Second
	// replayLimit caps one replay read.
	replayLimit = 500
)

var (
	// ErrLagging closes a subscriber that could not keep up with durable events.
	// The client reconnects with its last seq as cursor.
	ErrLagging = errors.New("subscriber lagging behind")
	// ErrHubClosed closes subscribers when the hub shuts down.
	ErrHubClosed = errors.New("realtime hub closed")
)

// ConversationTopic is the channel of one conversation.
func ConversationTopic(tenantID, conversationID string) string {
	return "tenant:" + tenantID + ":conversation:" + conversationID
}

// PresenceTopic is the presence channel of a tenant.
func PresenceTopic(tenantID string) string {
	return "tenant:" + tenantID + ":presence"
}

// Observer sees every event received from the broker, before fan-out.
// Observers must not publish.
type Observer func(event *models.Event)

// HubConfig holds the configuration for the hub.
type HubConfig struct {
	Broker        broker.Broker
	Messages      docdb.MessagesCollection
	Buffer        int
	GapTimeout    time.Duration
	TypingTimeout time.Duration
	Now           func() time.Time
	Logger        zerolog.Logger
}

// Hub publishes events through the broker and fans received events out to
// local subscribers. Every subscriber of a topic sees the same sequence.
type Hub struct {
	broker        broker.Broker
	messages      docdb.MessagesCollection
	buffer        int
	gapTimeout    time.Duration
	typingTimeout time.Duration
	now           func() time.Time
	logger        zerolog.Logger

	cancel context.CancelFunc

	mu        sync.Mutex
	topics    map[string]*topicState
	observers []Observer
	closed    bool
}

// NewHub creates a hub and subscribes it to the broker.
func NewHub(cfg *HubConfig) (*Hub, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Broker == nil {
		return nil, fmt.Errorf("broker is required")
	}
	h := &Hub{
		broker:        cfg.Broker,
		messages:      cfg.Messages,
		buffer:        cfg.Buffer,
		gapTimeout:    cfg.GapTimeout,
		typingTimeout: cfg.TypingTimeout,
		now:           cfg.Now,
		logger:        cfg.Logger.With().Str("component", "realtime").Logger(),
		topics:        make(map[string]*topicState),
	}
	if h.buffer <= 0 {
		h.buffer = DefaultBuffer
	}
	if h.gapTimeout <= 0 {
		h.gapTimeout = DefaultGapTimeout
	}
	if h.typingTimeout <= 0 {
		h.typingTimeout = DefaultTypingTimeout
	}
	if h.now == nil {
		h.now = func() time.Time { return time.Now().UTC() }
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.broker.Subscribe(ctx, h.dispatch); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to subscribe to broker: %w", err)
	}
	h.cancel = cancel
	return h, nil
}

// Observe registers an observer.
func (h *Hub) Observe(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observers = append(h.observers, o)
}

// TypingTimeout returns the typing expiry advertised to clients.
func (h *Hub) TypingTimeout() time.Duration {
	return h.typingTimeout
}

// Publish sends an event to its topic on every node. Durable events are
// already stored, so a failed publish loses no data.
func (h *Hub) Publish(ctx context.Context, event *models.Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = h.now()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := h.broker.Publish(ctx, event.Topic, payload); err != nil {
		return domainerrors.NewCollaboratorUnavailableError("broker", err)
	}
	return nil
}

// PublishMessage announces a stored message.
func (h *Hub) PublishMessage(ctx context.Context, msg *models.Message) error {
	return h.Publish(ctx, &models.Event{
		Type:           models.EventMessageCreated,
		Topic:          ConversationTopic(msg.TenantID, msg.ConversationID),
		TenantID:       msg.TenantID,
		ConversationID: msg.ConversationID,
		Seq:            msg.Seq,
		Message:        msg,
	})
}

// PublishMessageUpdate announces a delivery status change of a message.
func (h *Hub) PublishMessageUpdate(ctx context.Context, msg *models.Message) error {
	return h.Publish(ctx, &models.Event{
		Type:           models.EventMessageUpdated,
		Topic:          ConversationTopic(msg.TenantID, msg.ConversationID),
		TenantID:       msg.TenantID,
		ConversationID: msg.ConversationID,
		Message:        msg,
	})
}

// PublishTransition announces a committed conversation change.
func (h *Hub) PublishTransition(ctx context.Context, t *models.Transition) error {
	conv := t.Conversation
	return h.Publish(ctx, &models.Event{
		Type:           models.EventStatusChanged,
		Topic:          ConversationTopic(conv.TenantID, conv.ID),
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		Status: &models.StatusChange{
			From:            t.From,
			To:              t.To,
			AssignedAgentID: conv.AssignedAgentID,
			Version:         conv.Version,
		},
		At: t.At,
	})
}

// PublishTyping announces a typing start or stop. Starts carry an expiry
// after which clients treat the indicator as stopped.
func (h *Hub) PublishTyping(ctx context.Context, tenantID, conversationID string, state models.TypingState, start bool) error {
	typ := models.EventTypingStop
	state.ExpiresAt = time.Time{}
	if start {
		typ = models.EventTypingStart
		state.ExpiresAt = h.now().Add(h.typingTimeout)
	}
	return h.Publish(ctx, &models.Event{
		Type:           typ,
		Topic:          ConversationTopic(tenantID, conversationID),
		TenantID:       tenantID,
		ConversationID: conversationID,
		Typing:         &state,
	})
}

// PublishPresence announces presence changes of a tenant.
func (h *Hub) PublishPresence(ctx context.Context, tenantID string, typ models.EventType, states ...models.PresenceState) error {
	return h.Publish(ctx, &models.Event{
		Type:     typ,
		Topic:    PresenceTopic(tenantID),
		TenantID: tenantID,
		Presence: states,
	})
}

// SubscribeOptions controls a conversation subscription.
type SubscribeOptions struct {
	// Visitor hides agent-only notes.
	Visitor bool
	// Replay delivers stored messages with seq > AfterSeq before live events.
	Replay   bool
	AfterSeq int64
}

// SubscribeConversation opens a subscription on a conversation channel.
func (h *Hub) SubscribeConversation(ctx context.Context, tenantID, conversationID string, opts SubscribeOptions) (*Subscription, error) {
	topic := ConversationTopic(tenantID, conversationID)
	return h.subscribe(ctx, topic, opts.Visitor, func(ts *topicState) ([]*models.Event, int64, error) {
		if h.messages == nil {
			return nil, 0, nil
		}
		if err := h.seed(ctx, ts, tenantID, conversationID); err != nil {
			return nil, 0, err
		}
		if !opts.Replay {
			return nil, 0, nil
		}
		return h.replay(ctx, topic, tenantID, conversationID, opts.AfterSeq)
	})
}

// seed starts the ordering of a new topic at the last stored seq.
func (h *Hub) seed(ctx context.Context, ts *topicState, tenantID, conversationID string) error {
	if !ts.needsSeed() {
		return nil
	}
	last, err := h.messages.List(ctx, &docdb.ListMessagesOptions{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Limit:          1,
		OrderBy:        docdb.SortOrderDesc,
	})
	if err != nil {
		return domainerrors.NewPersistenceError("read last message", err)
	}
	var seq int64
	if len(last) > 0 {
		seq = last[0].Seq
	}
	ts.seedNext(seq + 1)
	return nil
}

func (h *Hub) replay(ctx context.Context, topic, tenantID, conversationID string, afterSeq int64) ([]*models.Event, int64, error) {
	events := make([]*models.Event, 0)
	cursor := afterSeq
	for {
		batch, err := h.messages.List(ctx, &docdb.ListMessagesOptions{
			TenantID:       tenantID,
			ConversationID: conversationID,
			AfterSeq:       cursor,
			Limit:          replayLimit,
			OrderBy:        docdb.SortOrderAsc,
		})
		if err != nil {
			return nil, 0, domainerrors.NewPersistenceError("replay messages", err)
		}
		for _, msg := range batch {
			events = append(events, messageEvent(topic, msg))
			cursor = msg.Seq
		}
		if len(batch) < replayLimit {
			return events, cursor, nil
		}
	}
}

// backfill reads the stored messages with from <= seq < to. A failed read
// returns nothing and the gap is checked again.
func (h *Hub) backfill(topic, tenantID, conversationID string, from, to int64) []*models.Event {
	if h.messages == nil || to <= from {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
	defer cancel()

	batch, err := h.messages.List(ctx, &docdb.ListMessagesOptions{
		TenantID:       tenantID,
		ConversationID: conversationID,
		AfterSeq:       from - 1,
		Limit:          to - from,
		OrderBy:        docdb.SortOrderAsc,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Int64("from", from).Int64("to", to).Msg("failed to backfill seq gap")
		return nil
	}
	events := make([]*models.Event, 0, len(batch))
	for _, msg := range batch {
		if msg.Seq >= from && msg.Seq < to {
			events = append(events, messageEvent(topic, msg))
		}
	}
	return events
}

func messageEvent(topic string, msg *models.Message) *models.Event {
	return &models.Event{
		ID:             msg.ID,
		Type:           models.EventMessageCreated,
		Topic:          topic,
		TenantID:       msg.TenantID,
		ConversationID: msg.ConversationID,
		Seq:            msg.Seq,
		Message:        msg,
		At:             msg.CreatedAt,
	}
}

// initialFunc runs after the subscriber is registered and returns the
// events to deliver first plus the highest message seq they cover.
type initialFunc func(ts *topicState) ([]*models.Event, int64, error)

func (h *Hub) subscribe(ctx context.Context, topic string, visitor bool, initial initialFunc) (*Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	ts, ok := h.topics[topic]
	if !ok {
		ts = newTopicState(h, topic)
		h.topics[topic] = ts
	}
	sub := newSubscription(topic, visitor, h.buffer)
	ts.add(sub)
	h.mu.Unlock()

	sub.unsubscribe = func() { h.remove(ts, sub) }

	var events []*models.Event
	var covered int64
	if initial != nil {
		var err error
		if events, covered, err = initial(ts); err != nil {
			sub.Close()
			return nil, err
		}
	}
	go sub.pump(ctx, events, covered)
	return sub, nil
}

func (h *Hub) remove(ts *topicState, sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ts.remove(sub) == 0 {
		ts.stop()
		if h.topics[ts.topic] == ts {
			delete(h.topics, ts.topic)
		}
	}
}

func (h *Hub) dispatch(topic string, payload []byte) {
	var event models.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("dropping undecodable event")
		return
	}
	event.Topic = topic

	h.mu.Lock()
	observers := h.observers
	ts := h.topics[topic]
	h.mu.Unlock()

	for _, o := range observers {
		o(&event)
	}
	if ts != nil {
		ts.offer(&event)
	}
}

// Subscribers returns the number of local subscribers of a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	ts := h.topics[topic]
	h.mu.Unlock()
	if ts == nil {
		return 0
	}
	return ts.count()
}

// Close unsubscribes from the broker and ends every subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	topics := h.topics
	h.topics = make(map[string]*topicState)
	h.mu.Unlock()

	h.cancel()
	for _, ts := range topics {
		ts.shutdown(ErrHubClosed)
	}
}
