package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dramac/livechat-service/internal/core/ai"
)

// MockGenerator is a mock implementation of ai.Generator.
type MockGenerator struct {
	mock.Mock
}

// Generate returns the configured answer.
func (m *MockGenerator) Generate(ctx context.Context, req *ai.GenerateRequest) (*ai.GenerateResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ai.GenerateResponse), args.Error(1)
}

// BlockingGenerator waits for the context to end, simulating a hung model.
type BlockingGenerator struct{}

// Generate blocks until ctx is done.
func (BlockingGenerator) Generate(ctx context.Context, _ *ai.GenerateRequest) (*ai.GenerateResponse, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
