package routing

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultDebounce coalesces rapid presence flaps into one rebalance.
const DefaultDebounce = 2 * time.Second

// Balancer runs one rebalance pass for a tenant.
type Balancer interface {
	Rebalance(ctx context.Context, tenantID string) (*RebalanceResult, error)
}

// Rebalancer debounces rebalance requests per tenant. At most one pass runs
// per tenant; a request arriving during a pass schedules exactly one more.
type Rebalancer struct {
	balancer Balancer
	delay    time.Duration
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	timers  map[string]*time.Timer
	running map[string]bool
	dirty   map[string]bool
	closed  bool
}

// NewRebalancer creates a debounced rebalancer.
func NewRebalancer(balancer Balancer, delay time.Duration, logger zerolog.Logger) *Rebalancer {
	if delay <= 0 {
		delay = DefaultDebounce
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Rebalancer{
		balancer: balancer,
		delay:    delay,
		logger:   logger.With().Str("component", "rebalancer").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		timers:   make(map[string]*time.Timer),
		running:  make(map[string]bool),
		dirty:    make(map[string]bool),
	}
}

// Trigger schedules a rebalance for tenantID after the debounce delay.
// Repeated triggers inside the window push the deadline back.
func (r *Rebalancer) Trigger(tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if t, ok := r.timers[tenantID]; ok {
		// A timer that already fired is re-armed by Reset and fires again.
		if !t.Reset(r.delay) {
			r.wg.Add(1)
		}
		return
	}
	r.wg.Add(1)
	r.timers[tenantID] = time.AfterFunc(r.delay, func() {
		defer r.wg.Done()
		r.run(tenantID)
	})
}

func (r *Rebalancer) run(tenantID string) {
	r.mu.Lock()
	delete(r.timers, tenantID)
	if r.running[tenantID] {
		r.dirty[tenantID] = true
		r.mu.Unlock()
		return
	}
	r.running[tenantID] = true
	r.mu.Unlock()

	for {
		if _, err := r.balancer.Rebalance(r.ctx, tenantID); err != nil && r.ctx.Err() == nil {
			r.logger.Error().Err(err).Str("tenantId", tenantID).Msg("rebalance failed")
		}

		r.mu.Lock()
		if r.dirty[tenantID] && !r.closed {
			delete(r.dirty, tenantID)
			r.mu.Unlock()
			continue
		}
		delete(r.dirty, tenantID)
		delete(r.running, tenantID)
		r.mu.Unlock()
		return
	}
}

// Close cancels pending timers and running passes and waits for them.
func (r *Rebalancer) Close() {
	r.mu.Lock()
	r.closed = true
	for id, t := range r.timers {
		if t.Stop() {
			r.wg.Done()
		}
		delete(r.timers, id)
	}
	r.mu.Unlock()

	r.cancel()
	r.wg.Wait()
}
