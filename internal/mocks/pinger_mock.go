package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockPinger is a mock of a dependency with a health check.
type MockPinger struct {
	mock.Mock
}

// Ping checks the dependency.
func (m *MockPinger) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
