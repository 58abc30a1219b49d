package mocks

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/dramac/livechat-service/internal/core/notify"
	"github.com/dramac/livechat-service/internal/domain/models"
)

// MockPublisher is a mock implementation of notify.Publisher.
type MockPublisher struct {
	mock.Mock
}

// Publish mocks the Publish method.
func (m *MockPublisher) Publish(ctx context.Context, key string, msg notify.Envelope) error {
	args := m.Called(ctx, key, msg)
	return args.Error(0)
}

// Close mocks the Close method.
func (m *MockPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// NotifyCall is one recorded notification.
type NotifyCall struct {
	Trigger        notify.Trigger
	ConversationID string
	Status         models.ConversationStatus
}

// RecordingNotifier records notifications synchronously.
type RecordingNotifier struct {
	mu    sync.Mutex
	calls []NotifyCall
}

// Notify records the call.
func (r *RecordingNotifier) Notify(_ context.Context, trigger notify.Trigger, conv *models.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, NotifyCall{Trigger: trigger, ConversationID: conv.ID, Status: conv.Status})
}

// Calls returns a copy of the recorded calls.
func (r *RecordingNotifier) Calls() []NotifyCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]NotifyCall(nil), r.calls...)
}

// Count returns how many times trigger fired for a conversation.
func (r *RecordingNotifier) Count(trigger notify.Trigger, conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Trigger == trigger && c.ConversationID == conversationID {
			n++
		}
	}
	return n
}
