package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dramac/livechat-service/internal/core/channel"
)

// MockSender is a mock implementation of channel.Sender.
type MockSender struct {
	mock.Mock
}

// Send mocks the Send method.
func (m *MockSender) Send(ctx context.Context, msg *channel.OutboundMessage) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}
