package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"finrep/internal/domain"
	"finrep/internal/service"
)

// MockRunService is a mock implementation of service.RunService.
type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) RunDocument(ctx context.Context, runID uuid.UUID, item service.BatchItem) (*domain.RunResult, error) {
	args := m.Called(ctx, runID, item)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunResult), args.Error(1)
}

func (m *MockRunService) RunBatch(ctx context.Context, items []service.BatchItem) []*domain.RunResult {
	args := m.Called(ctx, items)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]*domain.RunResult)
}

func (m *MockRunService) Submit(ctx context.Context, input *service.SubmitRunInput) (*domain.RunRequest, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunRequest), args.Error(1)
}

func (m *MockRunService) GetRun(ctx context.Context, runID uuid.UUID) (*domain.RunRequest, *domain.RunResult, error) {
	args := m.Called(ctx, runID)
	var req *domain.RunRequest
	if args.Get(0) != nil {
		req = args.Get(0).(*domain.RunRequest)
	}
	var res *domain.RunResult
	if args.Get(1) != nil {
		res = args.Get(1).(*domain.RunResult)
	}
	return req, res, args.Error(2)
}

func (m *MockRunService) ListReceipts(ctx context.Context, runID uuid.UUID) ([]domain.Receipt, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Receipt), args.Error(1)
}

func (m *MockRunService) VerifyRun(ctx context.Context, runID uuid.UUID) (*service.VerifyReport, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.VerifyReport), args.Error(1)
}
