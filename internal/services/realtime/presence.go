package realtime

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dramac/livechat-service/internal/domain/models"
)

// DefaultPresenceTTL is how long a presence entry lives without a heartbeat.
const DefaultPresenceTTL = 90 * time.Second

// RegistryConfig holds the configuration for the presence registry.
type RegistryConfig struct {
	Hub    *Hub
	TTL    time.Duration
	Now    func() time.Time
	Logger zerolog.Logger
}

// Registry is the shared, eventually consistent presence set. Every node
// applies the presence events it receives, its own included, so writes only
// travel through the hub. Routing never reads it.
type Registry struct {
	hub    *Hub
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger

	mu      sync.RWMutex
	tenants map[string]map[string]models.PresenceState
}

// NewRegistry creates a registry fed by hub.
func NewRegistry(cfg *RegistryConfig) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	r := &Registry{
		hub:     cfg.Hub,
		ttl:     cfg.TTL,
		now:     cfg.Now,
		logger:  cfg.Logger.With().Str("component", "presence").Logger(),
		tenants: make(map[string]map[string]models.PresenceState),
	}
	if r.ttl <= 0 {
		r.ttl = DefaultPresenceTTL
	}
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	cfg.Hub.Observe(r.apply)
	return r, nil
}

// Heartbeat announces or refreshes an agent.
func (r *Registry) Heartbeat(ctx context.Context, state models.PresenceState) error {
	if state.TenantID == "" || state.AgentID == "" {
		return fmt.Errorf("tenant and agent are required")
	}
	state.LastSeen = r.now()

	r.mu.RLock()
	_, known := r.tenants[state.TenantID][state.AgentID]
	r.mu.RUnlock()

	typ := models.EventPresenceUpdate
	if !known {
		typ = models.EventPresenceJoin
	}
	return r.hub.PublishPresence(ctx, state.TenantID, typ, state)
}

// Leave announces that an agent left.
func (r *Registry) Leave(ctx context.Context, tenantID, agentID string) error {
	return r.hub.PublishPresence(ctx, tenantID, models.EventPresenceLeave, models.PresenceState{
		TenantID: tenantID,
		AgentID:  agentID,
		Status:   models.AgentStatusOffline,
		LastSeen: r.now(),
	})
}

// Snapshot returns the tenant presence set ordered by agent id.
func (r *Registry) Snapshot(tenantID string) []models.PresenceState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.PresenceState, 0, len(r.tenants[tenantID]))
	for _, s := range r.tenants[tenantID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Subscribe opens a presence subscription whose first event is a full sync.
func (r *Registry) Subscribe(ctx context.Context, tenantID string) (*Subscription, error) {
	return r.hub.subscribe(ctx, PresenceTopic(tenantID), false, func(*topicState) ([]*models.Event, int64, error) {
		return []*models.Event{{
			Type:     models.EventPresenceSync,
			Topic:    PresenceTopic(tenantID),
			TenantID: tenantID,
			Presence: r.Snapshot(tenantID),
			At:       r.now(),
		}}, 0, nil
	})
}

// Prune announces a leave for every entry whose heartbeat is older than
// the TTL and returns how many it found.
func (r *Registry) Prune(ctx context.Context) int {
	cutoff := r.now().Add(-r.ttl)

	type stale struct{ tenantID, agentID string }
	var expired []stale
	r.mu.RLock()
	for tenantID, agents := range r.tenants {
		for agentID, s := range agents {
			if s.LastSeen.Before(cutoff) {
				expired = append(expired, stale{tenantID, agentID})
			}
		}
	}
	r.mu.RUnlock()

	for _, s := range expired {
		if err := r.Leave(ctx, s.tenantID, s.agentID); err != nil {
			r.logger.Warn().Err(err).Str("agentId", s.agentID).Msg("failed to announce presence expiry")
		}
	}
	return len(expired)
}

// Run prunes on every tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Prune(ctx); n > 0 {
				r.logger.Debug().Int("expired", n).Msg("pruned presence entries")
			}
		}
	}
}

func (r *Registry) apply(e *models.Event) {
	switch e.Type {
	case models.EventPresenceJoin, models.EventPresenceUpdate, models.EventPresenceLeave:
	default:
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	agents, ok := r.tenants[e.TenantID]
	if !ok {
		agents = make(map[string]models.PresenceState)
		r.tenants[e.TenantID] = agents
	}
	for _, s := range e.Presence {
		if e.Type == models.EventPresenceLeave {
			delete(agents, s.AgentID)
			continue
		}
		// A late event must not roll back a newer heartbeat.
		if cur, ok := agents[s.AgentID]; ok && cur.LastSeen.After(s.LastSeen) {
			continue
		}
		agents[s.AgentID] = s
	}
	if len(agents) == 0 {
		delete(r.tenants, e.TenantID)
	}
}
