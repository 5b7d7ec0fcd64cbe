package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"finrep/internal/domain"
	"finrep/internal/port"
)

// MockExtractionBackend is a mock implementation of port.ExtractionBackend.
type MockExtractionBackend struct {
	mock.Mock
}

func (m *MockExtractionBackend) Extract(ctx context.Context, task domain.ExtractionTask, doc *domain.Document) (*domain.ExtractionResult, error) {
	args := m.Called(ctx, task, doc)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ExtractionResult), args.Error(1)
}

// MockEvaluatorBackend is a mock implementation of port.EvaluatorBackend.
type MockEvaluatorBackend struct {
	mock.Mock
}

func (m *MockEvaluatorBackend) Evaluate(ctx context.Context, input port.EvaluationInput) (*domain.Scorecard, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Scorecard), args.Error(1)
}
