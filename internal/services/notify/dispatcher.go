// Package notify dispatches fire-and-forget collaborator notifications for
// conversation lifecycle triggers.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/core/cache"
	core "github.com/dramac/livechat-service/internal/core/notify"
	"github.com/dramac/livechat-service/internal/domain/models"
)

const (
	// DefaultTimeout bounds a single publish.
	DefaultTimeout = 5 * time.Second
	// DedupTTL is how long a dispatched notification key is remembered.
	DedupTTL = 7 * 24 * time.Hour
	producer = "livechat-service"
)

// ConversationNotification is the Data payload of every envelope.
type ConversationNotification struct {
	TenantID       string                    `json:"tenant_id"`
	ConversationID string                    `json:"conversation_id"`
	VisitorID      string                    `json:"visitor_id"`
	AgentID        string                    `json:"agent_id,omitempty"`
	DepartmentID   string                    `json:"department_id,omitempty"`
	Status         models.ConversationStatus `json:"status"`
	Version        int64                     `json:"version"`
	Rating         *models.Rating            `json:"rating,omitempty"`
	At             time.Time                 `json:"at"`
}

// Notifier is what the core calls on lifecycle triggers.
type Notifier interface {
	Notify(ctx context.Context, trigger core.Trigger, conv *models.Conversation)
}

// DispatcherConfig holds dispatcher dependencies.
type DispatcherConfig struct {
	Publisher core.Publisher
	// Dedup is optional; without it duplicates are possible on retried transitions.
	Dedup   cache.Cache
	Timeout time.Duration
	Logger  zerolog.Logger
}

// Dispatcher publishes notifications asynchronously. Failures are logged and
// never reach the caller.
type Dispatcher struct {
	publisher core.Publisher
	dedup     cache.Cache
	timeout   time.Duration
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a new dispatcher.
func NewDispatcher(cfg *DispatcherConfig) (*Dispatcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		publisher: cfg.Publisher,
		dedup:     cfg.Dedup,
		timeout:   timeout,
		logger:    cfg.Logger.With().Str("component", "notify").Logger(),
	}, nil
}

// DedupKey identifies one transition of one conversation. The missed trigger
// can only happen once per conversation so it ignores the version.
func DedupKey(trigger core.Trigger, conv *models.Conversation) string {
	if trigger == core.TriggerMissed {
		return fmt.Sprintf("missed:%s:%s", conv.TenantID, conv.ID)
	}
	return fmt.Sprintf("notify:%s:%s:%s:%d", trigger, conv.TenantID, conv.ID, conv.Version)
}

// Notify returns immediately; delivery happens on a detached goroutine so a
// cancelled request context does not drop the notification.
func (d *Dispatcher) Notify(ctx context.Context, trigger core.Trigger, conv *models.Conversation) {
	snapshot := conv.Clone()
	correlationID := correlationFrom(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		pubCtx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		d.dispatch(pubCtx, trigger, snapshot, correlationID)
	}()
}

func (d *Dispatcher) dispatch(ctx context.Context, trigger core.Trigger, conv *models.Conversation, correlationID string) {
	logger := d.logger.With().
		Str("trigger", string(trigger)).
		Str("tenantId", conv.TenantID).
		Str("conversationId", conv.ID).
		Logger()

	if d.dedup != nil {
		first, err := d.dedup.SetNX(ctx, DedupKey(trigger, conv), []byte("1"), DedupTTL)
		if err != nil {
			logger.Warn().Err(err).Msg("notification dedup unavailable, publishing anyway")
		} else if !first {
			logger.Debug().Msg("duplicate notification suppressed")
			return
		}
	}

	prod := producer
	meta := core.Meta{
		ID:       uuid.NewString(),
		Producer: &prod,
		Time:     time.Now().UTC(),
		Type:     trigger.EventType(),
	}
	if correlationID != "" {
		meta.CorrelationID = &correlationID
	}

	payload := ConversationNotification{
		TenantID:       conv.TenantID,
		ConversationID: conv.ID,
		VisitorID:      conv.VisitorID,
		AgentID:        conv.AssignedAgentID,
		DepartmentID:   conv.DepartmentID,
		Status:         conv.Status,
		Version:        conv.Version,
		Rating:         conv.Rating,
		At:             meta.Time,
	}

	if err := d.publisher.Publish(ctx, trigger.EventType(), core.Envelope{Meta: meta, Data: payload}); err != nil {
		logger.Warn().Err(err).Msg("notification collaborator unavailable")
		return
	}
	logger.Debug().Msg("notification published")
}

// Wait blocks until in-flight notifications are done.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

type correlationKey struct{}

// WithCorrelationID attaches a correlation id that is copied into envelopes.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}
