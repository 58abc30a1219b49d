// Package sweeper runs the periodic reconciliation passes: missed
// conversation detection, stale auto-close and agent load healing.
// Every pass is idempotent, so a cancelled run is simply repeated.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/core/docdb"
	domainerrors "github.com/dramac/livechat-service/internal/domain/errors"
	"github.com/dramac/livechat-service/internal/domain/models"
)

const (
	// DefaultMissedThreshold is how long a pending conversation may wait.
	DefaultMissedThreshold = 5 * time.Minute
	// DefaultStaleWindow is the inactivity after which conversations close.
	DefaultStaleWindow = 24 * time.Hour
	// pageSize bounds one listing.
	pageSize = 200
)

// StateMachine is the part of the conversation service the sweeper drives.
type StateMachine interface {
	MarkMissed(ctx context.Context, tenantID, id string) (*models.Conversation, error)
	Close(ctx context.Context, tenantID, id string) (*models.Conversation, error)
}

// Config holds the configuration for the sweeper.
type Config struct {
	Store           docdb.Client
	Conversations   StateMachine
	MissedThreshold time.Duration
	StaleWindow     time.Duration
	MaxCASAttempts  int
	Now             func() time.Time
	Logger          zerolog.Logger
}

// Result summarizes one pass.
type Result struct {
	Scanned int `json:"scanned"`
	Changed int `json:"changed"`
	Skipped int `json:"skipped"`
}

// Sweeper runs reconciliation passes for one tenant at a time.
type Sweeper struct {
	conversations docdb.ConversationsCollection
	agents        docdb.AgentsCollection
	sm            StateMachine
	missed        time.Duration
	stale         time.Duration
	maxAttempts   int
	now           func() time.Time
	logger        zerolog.Logger

	mu sync.Mutex
	// suspects holds load mismatches seen on the previous pass, by agent key.
	suspects map[string]suspect
}

type suspect struct {
	version int64
	actual  int
}

// New creates a sweeper.
func New(cfg *Config) (*Sweeper, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Conversations == nil {
		return nil, fmt.Errorf("conversation service is required")
	}
	s := &Sweeper{
		conversations: cfg.Store.Conversations(),
		agents:        cfg.Store.Agents(),
		sm:            cfg.Conversations,
		missed:        cfg.MissedThreshold,
		stale:         cfg.StaleWindow,
		maxAttempts:   cfg.MaxCASAttempts,
		now:           cfg.Now,
		logger:        cfg.Logger.With().Str("component", "sweeper").Logger(),
		suspects:      make(map[string]suspect),
	}
	if s.missed <= 0 {
		s.missed = DefaultMissedThreshold
	}
	if s.stale <= 0 {
		s.stale = DefaultStaleWindow
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = 5
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// SweepMissed marks pending conversations older than threshold that never
// got a response. A zero threshold uses the configured one. Conversations
// another sweep already handled are skipped.
func (s *Sweeper) SweepMissed(ctx context.Context, tenantID string, threshold time.Duration) (*Result, error) {
	if threshold <= 0 {
		threshold = s.missed
	}
	cutoff := s.now().Add(-threshold)
	candidates, err := s.list(ctx, &docdb.ListConversationsOptions{
		TenantID:      tenantID,
		Statuses:      []models.ConversationStatus{models.ConversationStatusPending},
		CreatedBefore: &cutoff,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{}
	var errs []error
	for _, conv := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++
		if conv.FirstResponseAt != nil || conv.IsAssigned() {
			result.Skipped++
			continue
		}
		_, err := s.sm.MarkMissed(ctx, tenantID, conv.ID)
		switch {
		case err == nil:
			result.Changed++
		case domainerrors.IsInvalidTransition(err) || domainerrors.IsNotFound(err):
			result.Skipped++
		default:
			errs = append(errs, err)
		}
	}
	if result.Changed > 0 {
		s.logger.Info().Str("tenantId", tenantID).Int("missed", result.Changed).Msg("missed sweep finished")
	}
	return result, errors.Join(errs...)
}

// SweepStale closes open conversations without message activity inside
// window, whether or not an agent is assigned. A zero window uses the
// configured one.
func (s *Sweeper) SweepStale(ctx context.Context, tenantID string, window time.Duration) (*Result, error) {
	if window <= 0 {
		window = s.stale
	}
	cutoff := s.now().Add(-window)
	candidates, err := s.list(ctx, &docdb.ListConversationsOptions{
		TenantID:           tenantID,
		Statuses:           models.OpenStatuses(),
		LastActivityBefore: &cutoff,
	})
	if err != nil {
		return nil, err
	}

	result := &Result{}
	var errs []error
	for _, conv := range candidates {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++
		if conv.LastActivity().After(cutoff) {
			result.Skipped++
			continue
		}
		_, err := s.sm.Close(ctx, tenantID, conv.ID)
		switch {
		case err == nil:
			result.Changed++
		case domainerrors.IsInvalidTransition(err) || domainerrors.IsNotFound(err):
			result.Skipped++
		default:
			errs = append(errs, err)
		}
	}
	if result.Changed > 0 {
		s.logger.Info().Str("tenantId", tenantID).Int("closed", result.Changed).Msg("stale sweep finished")
	}
	return result, errors.Join(errs...)
}

// ReconcileLoads recomputes every agent's load from its active
// conversations. Unless immediate is set, a mismatch is healed only after
// it was seen unchanged on the previous pass, so an assignment that
// reserved its slot but has not written the conversation yet is left alone.
func (s *Sweeper) ReconcileLoads(ctx context.Context, tenantID string, immediate bool) (*Result, error) {
	agents, err := s.agents.List(ctx, &docdb.ListAgentsOptions{TenantID: tenantID})
	if err != nil {
		return nil, domainerrors.NewPersistenceError("list agents", err)
	}

	result := &Result{}
	var errs []error
	for _, agent := range agents {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Scanned++
		healed, err := s.reconcileAgent(ctx, agent, immediate)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if healed {
			result.Changed++
		}
	}
	return result, errors.Join(errs...)
}

func (s *Sweeper) reconcileAgent(ctx context.Context, agent *models.Agent, immediate bool) (bool, error) {
	key := agent.TenantID + ":" + agent.ID
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		n, err := s.conversations.Count(ctx, &docdb.ListConversationsOptions{
			TenantID: agent.TenantID,
			AgentID:  agent.ID,
			Statuses: []models.ConversationStatus{models.ConversationStatusActive},
		})
		if err != nil {
			return false, domainerrors.NewPersistenceError("count active conversations", err)
		}
		actual := int(n)

		s.mu.Lock()
		if actual == agent.CurrentChatCount {
			delete(s.suspects, key)
			s.mu.Unlock()
			return false, nil
		}
		prev, seen := s.suspects[key]
		confirmed := immediate || (seen && prev.version == agent.Version && prev.actual == actual)
		if !confirmed {
			s.suspects[key] = suspect{version: agent.Version, actual: actual}
			s.mu.Unlock()
			return false, nil
		}
		delete(s.suspects, key)
		s.mu.Unlock()

		next := agent.Clone()
		next.CurrentChatCount = actual
		err = s.agents.UpdateIfVersion(ctx, next, agent.Version)
		if errors.Is(err, docdb.ErrVersionConflict) {
			if agent, err = s.agents.Get(ctx, agent.TenantID, agent.ID); err != nil {
				return false, domainerrors.NewPersistenceError("read agent", err)
			}
			continue
		}
		if err != nil {
			return false, domainerrors.NewPersistenceError("heal agent load", err)
		}
		s.logger.Warn().
			Str("tenantId", agent.TenantID).
			Str("agentId", agent.ID).
			Int("stored", agent.CurrentChatCount).
			Int("actual", actual).
			Msg("healed agent load drift")
		return true, nil
	}
	return false, domainerrors.NewConflictError("agent was modified concurrently", agent.ID)
}

func (s *Sweeper) list(ctx context.Context, opts *docdb.ListConversationsOptions) ([]*models.Conversation, error) {
	opts.OrderBy = docdb.SortOrderAsc
	opts.Limit = pageSize
	out := make([]*models.Conversation, 0)
	for {
		page, err := s.conversations.List(ctx, opts)
		if err != nil {
			return nil, domainerrors.NewPersistenceError("list conversations", err)
		}
		out = append(out, page...)
		if int64(len(page)) < pageSize {
			return out, nil
		}
		opts.Skip += pageSize
	}
}
