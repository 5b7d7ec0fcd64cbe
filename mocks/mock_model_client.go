package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"finrep/internal/port"
)

// MockModelClient is a mock implementation of port.ModelClient.
type MockModelClient struct {
	mock.Mock
}

func (m *MockModelClient) Complete(ctx context.Context, req port.ModelRequest) (*port.ModelResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*port.ModelResponse), args.Error(1)
}
