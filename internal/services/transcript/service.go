// Package transcript keeps a sealed cache of the recent visible messages of
// each conversation so the AI gate does not read the store on every turn.
package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/core/cache"
	"github.com/dramac/livechat-service/internal/core/docdb"
	"github.com/dramac/livechat-service/internal/domain/models"
	"github.com/dramac/livechat-service/internal/pkg/encryption"
)

const (
	// DefaultTTL is how long a cached transcript lives without writes.
	DefaultTTL = 10 * time.Minute

	// DefaultLimit is the number of messages kept per conversation.
	DefaultLimit = 30
)

// Service reads and maintains recent conversation history.
type Service interface {
	// Recent returns up to n of the latest visible messages in seq order.
	Recent(ctx context.Context, tenantID, conversationID string, n int) ([]*models.Message, error)

	// Append merges a newly stored message into the cached transcript.
	Append(ctx context.Context, msg *models.Message) error

	// Invalidate drops the cached transcript of a conversation.
	Invalidate(ctx context.Context, tenantID, conversationID string) error

	// Key returns the cache key of a conversation transcript.
	Key(tenantID, conversationID string) string
}

type entry struct {
	Messages  []*models.Message `json:"messages"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Config holds transcript service configuration.
type Config struct {
	Cache    cache.Cache
	Sealer   encryption.Sealer
	Messages docdb.MessagesCollection
	TTL      time.Duration
	Limit    int
	Logger   zerolog.Logger
}

type service struct {
	cache    cache.Cache
	sealer   encryption.Sealer
	messages docdb.MessagesCollection
	ttl      time.Duration
	limit    int
	logger   zerolog.Logger
}

// NewService creates a transcript service.
func NewService(config *Config) (Service, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.Cache == nil {
		return nil, fmt.Errorf("cache client is required")
	}
	if config.Messages == nil {
		return nil, fmt.Errorf("messages collection is required")
	}
	sealer := config.Sealer
	if sealer == nil {
		sealer = encryption.PlainSealer{}
	}
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	limit := config.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &service{
		cache:    config.Cache,
		sealer:   sealer,
		messages: config.Messages,
		ttl:      ttl,
		limit:    limit,
		logger:   config.Logger.With().Str("component", "transcript").Logger(),
	}, nil
}

// Key returns "transcript:{tenant}:{conversation}".
func (s *service) Key(tenantID, conversationID string) string {
	return fmt.Sprintf("transcript:%s:%s", tenantID, conversationID)
}

// Recent serves from cache and falls back to the store on a miss or an
// unreadable entry.
func (s *service) Recent(ctx context.Context, tenantID, conversationID string, n int) ([]*models.Message, error) {
	if n <= 0 || n > s.limit {
		n = s.limit
	}
	key := s.Key(tenantID, conversationID)

	cached, err := s.load(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("transcript cache read failed")
	}
	if cached == nil {
		cached, err = s.fromStore(ctx, tenantID, conversationID)
		if err != nil {
			return nil, err
		}
		if err := s.store(ctx, key, cached); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("transcript cache write failed")
		}
	}
	return tail(cached, n), nil
}

// Append is a no-op when nothing is cached; the next Recent loads from the store.
func (s *service) Append(ctx context.Context, msg *models.Message) error {
	if msg == nil || !msg.VisibleToVisitor() {
		return nil
	}
	key := s.Key(msg.TenantID, msg.ConversationID)
	cached, err := s.load(ctx, key)
	if err != nil || cached == nil {
		return nil
	}
	return s.store(ctx, key, merge(cached, msg, s.limit))
}

func (s *service) Invalidate(ctx context.Context, tenantID, conversationID string) error {
	if _, err := s.cache.Delete(ctx, s.Key(tenantID, conversationID)); err != nil {
		return fmt.Errorf("failed to invalidate transcript: %w", err)
	}
	return nil
}

func (s *service) load(ctx context.Context, key string) ([]*models.Message, error) {
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	plain, err := s.sealer.Open(string(data), key)
	if err != nil {
		s.drop(ctx, key)
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	var e entry
	if err := json.Unmarshal(plain, &e); err != nil {
		s.drop(ctx, key)
		return nil, fmt.Errorf("failed to decode transcript: %w", err)
	}
	return e.Messages, nil
}

func (s *service) drop(ctx context.Context, key string) {
	if _, err := s.cache.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("failed to drop unreadable transcript")
	}
}

func (s *service) store(ctx context.Context, key string, msgs []*models.Message) error {
	data, err := json.Marshal(entry{Messages: msgs, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	sealed, err := s.sealer.Seal(data, key)
	if err != nil {
		return fmt.Errorf("failed to seal transcript: %w", err)
	}
	if err := s.cache.Set(ctx, key, []byte(sealed), s.ttl); err != nil {
		return fmt.Errorf("failed to store transcript: %w", err)
	}
	return nil
}

func (s *service) fromStore(ctx context.Context, tenantID, conversationID string) ([]*models.Message, error) {
	// Overfetch so hidden notes do not shrink the window.
	latest, err := s.messages.List(ctx, &docdb.ListMessagesOptions{
		TenantID:       tenantID,
		ConversationID: conversationID,
		Limit:          int64(s.limit * 2),
		OrderBy:        docdb.SortOrderDesc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load transcript: %w", err)
	}
	out := make([]*models.Message, 0, len(latest))
	for i := len(latest) - 1; i >= 0; i-- {
		if latest[i].VisibleToVisitor() {
			out = append(out, latest[i])
		}
	}
	return tail(out, s.limit), nil
}

// merge inserts msg by seq, replacing an entry with the same id.
func merge(msgs []*models.Message, msg *models.Message, limit int) []*models.Message {
	out := make([]*models.Message, 0, len(msgs)+1)
	for _, m := range msgs {
		if m.ID != msg.ID {
			out = append(out, m)
		}
	}
	out = append(out, msg)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return tail(out, limit)
}

func tail(msgs []*models.Message, n int) []*models.Message {
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}
