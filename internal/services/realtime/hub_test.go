package realtime_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dramac/livechat-service/internal/core/docdb"
	"github.com/dramac/livechat-service/internal/domain/models"
	brokermemory "github.com/dramac/livechat-service/internal/infrastructure/broker/memory"
	"github.com/dramac/livechat-service/internal/infrastructure/docdb/memory"
	"github.com/dramac/livechat-service/internal/services/realtime"
	"github.com/dramac/livechat-service/internal/testutils"
)

const (
	tenant = testutils.TestTenantID
	convID = "conv-1"
)

type hubFixture struct {
	clock *testutils.Clock
	store *memory.Client
	hub   *realtime.Hub
}

func newHub(t *testing.T, buffer int) *hubFixture {
	t.Helper()
	return newHubWithGap(t, buffer, 30*time.Millisecond)
}

func newHubWithGap(t *testing.T, buffer int, gap time.Duration) *hubFixture {
	t.Helper()
	f := &hubFixture{clock: testutils.NewClock()}
	f.store = testutils.NewStore(f.clock)
	hub, err := realtime.NewHub(&realtime.HubConfig{
		Broker:     brokermemory.NewBroker(),
		Messages:   f.store.Messages(),
		Buffer:     buffer,
		GapTimeout: gap,
		Now:        f.clock.Now,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	t.Cleanup(hub.Close)
	f.hub = hub
	return f
}

func (f *hubFixture) append(t *testing.T, sender models.SenderType, contentType models.ContentType, text string) *models.Message {
	t.Helper()
	msg := models.NewMessage(tenant, convID, sender, "s", contentType, text)
	require.NoError(t, f.store.Messages().Append(context.Background(), msg))
	return msg
}

func (f *hubFixture) subscribe(t *testing.T, opts realtime.SubscribeOptions) *realtime.Subscription {
	t.Helper()
	sub, err := f.hub.SubscribeConversation(context.Background(), tenant, convID, opts)
	require.NoError(t, err)
	t.Cleanup(sub.Close)
	return sub
}

func next(t *testing.T, sub *realtime.Subscription) *models.Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		require.True(t, ok, "subscription ended: %v", sub.Err())
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func seqs(t *testing.T, sub *realtime.Subscription, n int) []int64 {
	t.Helper()
	out := make([]int64, 0, n)
	for len(out) < n {
		e := next(t, sub)
		if e.Type == models.EventMessageCreated {
			out = append(out, e.Seq)
		}
	}
	return out
}

func TestNewHub_RequiresBroker(t *testing.T) {
	_, err := realtime.NewHub(&realtime.HubConfig{})
	assert.EqualError(t, err, "broker is required")
}

func TestHub_ReordersBySeq(t *testing.T) {
	// Arrange
	f := newHub(t, 16)
	a := f.subscribe(t, realtime.SubscribeOptions{})
	b := f.subscribe(t, realtime.SubscribeOptions{})
	m1 := f.append(t, models.SenderVisitor, models.ContentTypeText, "one")
	m2 := f.append(t, models.SenderAgent, models.ContentTypeText, "two")
	m3 := f.append(t, models.SenderVisitor, models.ContentTypeText, "three")

	// Act
	for _, m := range []*models.Message{m3, m1, m2} {
		require.NoError(t, f.hub.PublishMessage(context.Background(), m))
	}

	// Assert
	assert.Equal(t, []int64{1, 2, 3}, seqs(t, a, 3))
	assert.Equal(t, []int64{1, 2, 3}, seqs(t, b, 3))
}

func TestHub_ConcurrentWritersSameOrderForAllSubscribers(t *testing.T) {
	f := newHubWithGap(t, 256, 5*time.Second)
	subs := []*realtime.Subscription{
		f.subscribe(t, realtime.SubscribeOptions{}),
		f.subscribe(t, realtime.SubscribeOptions{}),
		f.subscribe(t, realtime.SubscribeOptions{}),
	}

	const writers, perWriter = 4, 20
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				msg := models.NewMessage(tenant, convID, models.SenderAgent, fmt.Sprint(w), models.ContentTypeText, fmt.Sprintf("%d-%d", w, i))
				if err := f.store.Messages().Append(context.Background(), msg); err != nil {
					return
				}
				_ = f.hub.PublishMessage(context.Background(), msg)
			}
		}(w)
	}
	wg.Wait()

	want := make([]int64, 0, writers*perWriter)
	for i := int64(1); i <= writers*perWriter; i++ {
		want = append(want, i)
	}
	var times [][]time.Time
	for _, sub := range subs {
		got := make([]int64, 0, len(want))
		var created []time.Time
		for len(got) < len(want) {
			e := next(t, sub)
			got = append(got, e.Seq)
			created = append(created, e.Message.CreatedAt)
		}
		assert.Equal(t, want, got)
		times = append(times, created)
	}
	for i := 1; i < len(times[0]); i++ {
		assert.True(t, times[0][i].After(times[0][i-1]))
	}
	assert.Equal(t, times[0], times[1])
	assert.Equal(t, times[0], times[2])
}

func TestHub_GapTimeoutBackfillsFromStore(t *testing.T) {
	f := newHub(t, 16)
	sub := f.subscribe(t, realtime.SubscribeOptions{})
	m1 := f.append(t, models.SenderVisitor, models.ContentTypeText, "one")
	f.append(t, models.SenderVisitor, models.ContentTypeText, "unannounced")
	m3 := f.append(t, models.SenderVisitor, models.ContentTypeText, "three")

	require.NoError(t, f.hub.PublishMessage(context.Background(), m1))
	require.NoError(t, f.hub.PublishMessage(context.Background(), m3))

	got := make([]*models.Event, 0, 3)
	for len(got) < 3 {
		got = append(got, next(t, sub))
	}
	assert.Equal(t, []int64{1, 2, 3}, []int64{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.Equal(t, "unannounced", got[1].Message.Content)
}

func TestHub_MessageArrivingAfterGapTimeoutIsNotLost(t *testing.T) {
	// Arrange
	f := newHub(t, 16)
	sub := f.subscribe(t, realtime.SubscribeOptions{})
	m1 := f.append(t, models.SenderVisitor, models.ContentTypeText, "one")
	m2 := f.append(t, models.SenderAgent, models.ContentTypeText, "two")
	m3 := f.append(t, models.SenderVisitor, models.ContentTypeText, "three")

	// Act
	require.NoError(t, f.hub.PublishMessage(context.Background(), m2))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, f.hub.PublishMessage(context.Background(), m1))
	require.NoError(t, f.hub.PublishMessage(context.Background(), m3))
	m4 := f.append(t, models.SenderAgent, models.ContentTypeText, "four")
	require.NoError(t, f.hub.PublishMessage(context.Background(), m4))

	// Assert
	assert.Equal(t, []int64{1, 2, 3, 4}, seqs(t, sub, 4))
}

func TestHub_UnstoredSeqIsSkippedThenDeliveredLate(t *testing.T) {
	f := newHub(t, 16)
	sub := f.subscribe(t, realtime.SubscribeOptions{})
	m1 := f.append(t, models.SenderVisitor, models.ContentTypeText, "one")
	// seq 2 was reserved but never stored.
	late := models.NewMessage(tenant, convID, models.SenderAgent, "s", models.ContentTypeText, "late")
	late.Seq = 2
	m3 := models.NewMessage(tenant, convID, models.SenderVisitor, "s", models.ContentTypeText, "three")
	m3.Seq = 3

	require.NoError(t, f.hub.PublishMessage(context.Background(), m1))
	require.NoError(t, f.hub.PublishMessage(context.Background(), m3))
	assert.Equal(t, []int64{1, 3}, seqs(t, sub, 2))

	require.NoError(t, f.hub.PublishMessage(context.Background(), late))
	require.NoError(t, f.hub.PublishMessage(context.Background(), late))
	m4 := models.NewMessage(tenant, convID, models.SenderVisitor, "s", models.ContentTypeText, "four")
	m4.Seq = 4
	require.NoError(t, f.hub.PublishMessage(context.Background(), m4))

	assert.Equal(t, []int64{2, 4}, seqs(t, sub, 2))
}

func TestHub_NonMessageEventsPassThrough(t *testing.T) {
	f := newHub(t, 16)
	sub := f.subscribe(t, realtime.SubscribeOptions{})

	require.NoError(t, f.hub.PublishTransition(context.Background(), &models.Transition{
		Conversation: &models.Conversation{ID: convID, TenantID: tenant, Status: models.ConversationStatusActive, AssignedAgentID: "a1", Version: 3},
		From:         models.ConversationStatusPending,
		To:           models.ConversationStatusActive,
	}))

	e := next(t, sub)
	assert.Equal(t, models.EventStatusChanged, e.Type)
	require.NotNil(t, e.Status)
	assert.Equal(t, "a1", e.Status.AssignedAgentID)
	assert.Equal(t, int64(3), e.Status.Version)
	assert.NotEmpty(t, e.ID)
}

func TestHub_VisitorDoesNotSeeNotes(t *testing.T) {
	f := newHub(t, 16)
	visitor := f.subscribe(t, realtime.SubscribeOptions{Visitor: true})
	agent := f.subscribe(t, realtime.SubscribeOptions{})
	note := f.append(t, models.SenderAgent, models.ContentTypeNote, "vip customer")
	text := f.append(t, models.SenderAgent, models.ContentTypeText, "hello")

	require.NoError(t, f.hub.PublishMessage(context.Background(), note))
	require.NoError(t, f.hub.PublishMessage(context.Background(), text))

	assert.Equal(t, []int64{1, 2}, seqs(t, agent, 2))
	e := next(t, visitor)
	assert.Equal(t, "hello", e.Message.Content)
}

func TestHub_ReplayThenLive(t *testing.T) {
	f := newHub(t, 16)
	for i := 0; i < 3; i++ {
		f.append(t, models.SenderVisitor, models.ContentTypeText, fmt.Sprint(i))
	}
	sub := f.subscribe(t, realtime.SubscribeOptions{Replay: true, AfterSeq: 1})

	// A late duplicate of a replayed message is suppressed.
	dup, err := f.store.Messages().List(context.Background(), &docdb.ListMessagesOptions{TenantID: tenant, ConversationID: convID})
	require.NoError(t, err)
	require.NoError(t, f.hub.PublishMessage(context.Background(), dup[2]))
	m4 := f.append(t, models.SenderAgent, models.ContentTypeText, "live")
	require.NoError(t, f.hub.PublishMessage(context.Background(), m4))

	assert.Equal(t, []int64{2, 3, 4}, seqs(t, sub, 3))
}

func TestHub_LaggingSubscriberIsClosed(t *testing.T) {
	f := newHub(t, 1)
	sub := f.subscribe(t, realtime.SubscribeOptions{})

	for i := 0; i < 5; i++ {
		msg := f.append(t, models.SenderVisitor, models.ContentTypeText, fmt.Sprint(i))
		require.NoError(t, f.hub.PublishMessage(context.Background(), msg))
	}

	for range sub.Events() {
	}
	assert.ErrorIs(t, sub.Err(), realtime.ErrLagging)
	assert.Equal(t, 0, f.hub.Subscribers(realtime.ConversationTopic(tenant, convID)))
}

func TestHub_SlowSubscriberDropsTyping(t *testing.T) {
	f := newHub(t, 1)
	sub := f.subscribe(t, realtime.SubscribeOptions{})

	for i := 0; i < 10; i++ {
		require.NoError(t, f.hub.PublishTyping(context.Background(), tenant, convID, models.TypingState{ParticipantID: "v", ParticipantType: models.SenderVisitor}, true))
	}
	drained := 0
	for quiet := false; !quiet; {
		select {
		case e := <-sub.Events():
			assert.Equal(t, models.EventTypingStart, e.Type)
			drained++
		case <-time.After(50 * time.Millisecond):
			quiet = true
		}
	}
	assert.Less(t, drained, 10)

	msg := f.append(t, models.SenderVisitor, models.ContentTypeText, "still here")
	require.NoError(t, f.hub.PublishMessage(context.Background(), msg))
	for {
		e := next(t, sub)
		if e.Type == models.EventMessageCreated {
			assert.Equal(t, "still here", e.Message.Content)
			break
		}
	}
	assert.NoError(t, sub.Err())
}

func TestHub_TypingExpiry(t *testing.T) {
	f := newHub(t, 16)
	sub := f.subscribe(t, realtime.SubscribeOptions{})

	require.NoError(t, f.hub.PublishTyping(context.Background(), tenant, convID, models.TypingState{ParticipantID: "a1", ParticipantType: models.SenderAgent}, true))
	require.NoError(t, f.hub.PublishTyping(context.Background(), tenant, convID, models.TypingState{ParticipantID: "a1", ParticipantType: models.SenderAgent}, false))

	start := next(t, sub)
	assert.Equal(t, models.EventTypingStart, start.Type)
	assert.True(t, f.clock.Now().Add(realtime.DefaultTypingTimeout).Equal(start.Typing.ExpiresAt))
	stop := next(t, sub)
	assert.Equal(t, models.EventTypingStop, stop.Type)
	assert.True(t, stop.Typing.ExpiresAt.IsZero())
}

func TestSubscription_Lifecycle(t *testing.T) {
	f := newHub(t, 16)
	topic := realtime.ConversationTopic(tenant, convID)

	sub := f.subscribe(t, realtime.SubscribeOptions{})
	assert.Equal(t, 1, f.hub.Subscribers(topic))
	sub.Ack(5)
	sub.Ack(3)
	assert.Equal(t, int64(5), sub.Acked())

	sub.Close()
	_, ok := <-sub.Events()
	assert.False(t, ok)
	assert.NoError(t, sub.Err())
	assert.Equal(t, 0, f.hub.Subscribers(topic))

	ctx, cancel := context.WithCancel(context.Background())
	sub2, err := f.hub.SubscribeConversation(ctx, tenant, convID, realtime.SubscribeOptions{})
	require.NoError(t, err)
	cancel()
	for range sub2.Events() {
	}
	assert.ErrorIs(t, sub2.Err(), context.Canceled)

	sub3 := f.subscribe(t, realtime.SubscribeOptions{})
	f.hub.Close()
	for range sub3.Events() {
	}
	assert.ErrorIs(t, sub3.Err(), realtime.ErrHubClosed)

	_, err = f.hub.SubscribeConversation(context.Background(), tenant, convID, realtime.SubscribeOptions{})
	assert.ErrorIs(t, err, realtime.ErrHubClosed)
}
