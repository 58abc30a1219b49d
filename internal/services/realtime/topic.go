package realtime

import (
	"sync"
	"time"

	"github.com/dramac/livechat-service/internal/domain/models"
)

const (
	// maxGapChecks is how many gap timeouts a seq missing from the store
	// holds later messages back before it is skipped.
	maxGapChecks = 3
	// maxSkipped bounds the skipped seqs remembered for late delivery.
	maxSkipped = 256
	// backfillTimeout bounds one store read for a gap.
	backfillTimeout = 5 * time.Second
)

// topicState orders message events of one topic by seq and fans every
// event out under its lock, so all subscribers observe the same sequence.
// A missing seq is read back from the store when its gap times out. A seq
// the store does not hold either is skipped after maxGapChecks timeouts and
// delivered late should it still arrive.
type topicState struct {
	hub   *Hub
	topic string

	mu          sync.Mutex
	subs        map[*Subscription]struct{}
	next        int64
	seeded      bool
	pending     map[int64]*models.Event
	skipped     map[int64]struct{}
	timer       *time.Timer
	backfilling bool
	gapChecks   int
}

func newTopicState(h *Hub, topic string) *topicState {
	return &topicState{
		hub:     h,
		topic:   topic,
		subs:    make(map[*Subscription]struct{}),
		pending: make(map[int64]*models.Event),
		skipped: make(map[int64]struct{}),
	}
}

func (ts *topicState) needsSeed() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return !ts.seeded && ts.next == 0
}

func (ts *topicState) seedNext(seq int64) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.seeded = true
	if ts.next == 0 {
		ts.next = seq
	}
}

func (ts *topicState) add(sub *Subscription) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.subs[sub] = struct{}{}
}

func (ts *topicState) remove(sub *Subscription) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.subs, sub)
	return len(ts.subs)
}

func (ts *topicState) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.subs)
}

func (ts *topicState) stop() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.timer != nil {
		ts.timer.Stop()
		ts.timer = nil
	}
}

func (ts *topicState) shutdown(err error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.timer != nil {
		ts.timer.Stop()
		ts.timer = nil
	}
	for sub := range ts.subs {
		sub.fail(err)
		delete(ts.subs, sub)
	}
}

func (ts *topicState) offer(e *models.Event) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if e.Type != models.EventMessageCreated || e.Seq == 0 {
		ts.fanout(e)
		return
	}
	switch {
	case ts.next == 0 || e.Seq == ts.next:
		ts.fanout(e)
		ts.next = e.Seq + 1
		ts.gapChecks = 0
		ts.drain()
	case e.Seq < ts.next:
		if _, ok := ts.skipped[e.Seq]; ok {
			delete(ts.skipped, e.Seq)
			ts.hub.logger.Debug().Str("topic", ts.topic).Int64("seq", e.Seq).Msg("delivering skipped seq late")
			ts.fanout(e)
		}
		// Otherwise already delivered or covered by replay.
	default:
		if _, ok := ts.pending[e.Seq]; !ok {
			ts.pending[e.Seq] = e
		}
		ts.arm()
	}
}

// arm starts the gap timer unless one is running or a backfill is in flight.
func (ts *topicState) arm() {
	if ts.timer == nil && !ts.backfilling && len(ts.pending) > 0 {
		ts.timer = time.AfterFunc(ts.hub.gapTimeout, ts.expire)
	}
}

// drain delivers buffered messages that became contiguous.
func (ts *topicState) drain() {
	for {
		e, ok := ts.pending[ts.next]
		if !ok {
			break
		}
		delete(ts.pending, ts.next)
		ts.fanout(e)
		ts.next++
		ts.gapChecks = 0
	}
	if len(ts.pending) == 0 && ts.timer != nil {
		ts.timer.Stop()
		ts.timer = nil
	}
}

func (ts *topicState) lowestPending() *models.Event {
	var lowest *models.Event
	for _, e := range ts.pending {
		if lowest == nil || e.Seq < lowest.Seq {
			lowest = e
		}
	}
	return lowest
}

// expire reads the messages in front of the oldest buffered one from the
// store and delivers them in order. The store read runs without the lock.
func (ts *topicState) expire() {
	ts.mu.Lock()
	ts.timer = nil
	lowest := ts.lowestPending()
	if lowest == nil || ts.backfilling {
		ts.mu.Unlock()
		return
	}
	from, to := ts.next, lowest.Seq
	ts.backfilling = true
	ts.mu.Unlock()

	missing := ts.hub.backfill(ts.topic, lowest.TenantID, lowest.ConversationID, from, to)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.backfilling = false
	for _, e := range missing {
		if _, ok := ts.pending[e.Seq]; !ok && e.Seq >= ts.next {
			ts.pending[e.Seq] = e
		}
	}
	ts.drain()
	if len(ts.pending) == 0 {
		return
	}

	ts.gapChecks++
	if ts.gapChecks >= maxGapChecks || ts.hub.messages == nil {
		next := ts.lowestPending().Seq
		ts.hub.logger.Debug().Str("topic", ts.topic).Int64("from", ts.next).Int64("to", next).Msg("skipping seq gap")
		start := ts.next
		if next-start > maxSkipped {
			start = next - maxSkipped
		}
		for seq := start; seq < next; seq++ {
			ts.skip(seq)
		}
		ts.next = next
		ts.gapChecks = 0
		ts.drain()
	}
	ts.arm()
}

func (ts *topicState) skip(seq int64) {
	if len(ts.skipped) >= maxSkipped {
		var oldest int64
		for s := range ts.skipped {
			if oldest == 0 || s < oldest {
				oldest = s
			}
		}
		delete(ts.skipped, oldest)
	}
	ts.skipped[seq] = struct{}{}
}

func (ts *topicState) fanout(e *models.Event) {
	for sub := range ts.subs {
		if !sub.deliver(e) {
			ts.hub.logger.Warn().Str("topic", ts.topic).Msg("closing lagging subscriber")
			sub.fail(ErrLagging)
			delete(ts.subs, sub)
		}
	}
}
