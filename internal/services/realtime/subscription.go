package realtime

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dramac/livechat-service/internal/domain/models"
)

// Subscription is one subscriber of a topic. Events are delivered on
// Events until the subscription ends; Err then reports why.
type Subscription struct {
	topic   string
	visitor bool

	live chan *models.Event
	out  chan *models.Event
	done chan struct{}

	unsubscribe func()
	closeOnce   sync.Once

	mu    sync.Mutex
	err   error
	acked atomic.Int64
	// guarded by the topic lock
	failed bool
}

func newSubscription(topic string, visitor bool, buffer int) *Subscription {
	return &Subscription{
		topic:   topic,
		visitor: visitor,
		live:    make(chan *models.Event, buffer),
		out:     make(chan *models.Event),
		done:    make(chan struct{}),
	}
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() string {
	return s.topic
}

// Events returns the event stream. It is closed when the subscription ends.
func (s *Subscription) Events() <-chan *models.Event {
	return s.out
}

// Ack records that the consumer handled messages up to seq. The value is
// the cursor to reconnect with.
func (s *Subscription) Ack(seq int64) {
	for {
		cur := s.acked.Load()
		if seq <= cur || s.acked.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// Acked returns the highest acknowledged seq.
func (s *Subscription) Acked() int64 {
	return s.acked.Load()
}

// Err returns the reason the subscription ended, nil after an explicit Close.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the subscription.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
		close(s.done)
	})
}

func (s *Subscription) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// deliver queues e without blocking. It reports false when a durable event
// did not fit; ephemeral events are dropped instead.
func (s *Subscription) deliver(e *models.Event) bool {
	if s.failed {
		return true
	}
	if s.visitor && e.Message != nil && !e.Message.VisibleToVisitor() {
		return true
	}
	select {
	case s.live <- e:
		return true
	default:
		return !e.Type.IsDurable()
	}
}

// fail ends the live stream. Called with the topic lock held.
func (s *Subscription) fail(err error) {
	if s.failed {
		return
	}
	s.failed = true
	s.setErr(err)
	close(s.live)
}

func (s *Subscription) pump(ctx context.Context, initial []*models.Event, covered int64) {
	defer close(s.out)

	send := func(e *models.Event) bool {
		select {
		case s.out <- e:
			return true
		case <-s.done:
			return false
		case <-ctx.Done():
			s.setErr(ctx.Err())
			s.Close()
			return false
		}
	}

	for _, e := range initial {
		if s.visitor && e.Message != nil && !e.Message.VisibleToVisitor() {
			continue
		}
		if !send(e) {
			return
		}
	}
	for {
		select {
		case e, ok := <-s.live:
			if !ok {
				return
			}
			if e.Type == models.EventMessageCreated && e.Seq > 0 && e.Seq <= covered {
				continue
			}
			if !send(e) {
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			s.setErr(ctx.Err())
			s.Close()
			return
		}
	}
}
