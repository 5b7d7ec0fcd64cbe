package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"finrep/internal/domain"
)

// MockAgentRepo is a mock implementation of port.AgentRepository.
type MockAgentRepo struct {
	mock.Mock
}

func (m *MockAgentRepo) List(ctx context.Context) ([]domain.Agent, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Agent), args.Error(1)
}

func (m *MockAgentRepo) Upsert(ctx context.Context, agent *domain.Agent) error {
	args := m.Called(ctx, agent)
	return args.Error(0)
}

func (m *MockAgentRepo) UpdateBasePrompt(ctx context.Context, agentID, prompt, promptHash string) (bool, error) {
	args := m.Called(ctx, agentID, prompt, promptHash)
	return args.Bool(0), args.Error(1)
}

// MockCoachingHistoryRepo is a mock implementation of port.CoachingHistoryRepository.
type MockCoachingHistoryRepo struct {
	mock.Mock
}

func (m *MockCoachingHistoryRepo) Append(ctx context.Context, entry *domain.CoachingHistoryEntry) (bool, error) {
	args := m.Called(ctx, entry)
	return args.Bool(0), args.Error(1)
}

func (m *MockCoachingHistoryRepo) ListBySection(ctx context.Context, documentID string, section domain.SectionKind, agentID string) ([]domain.CoachingHistoryEntry, error) {
	args := m.Called(ctx, documentID, section, agentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.CoachingHistoryEntry), args.Error(1)
}

// MockReceiptRepo is a mock implementation of port.ReceiptRepository.
type MockReceiptRepo struct {
	mock.Mock
}

func (m *MockReceiptRepo) Append(ctx context.Context, receipt *domain.Receipt) error {
	args := m.Called(ctx, receipt)
	return args.Error(0)
}

func (m *MockReceiptRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Receipt, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Receipt), args.Error(1)
}

// MockRunRepo is a mock implementation of port.RunRepository.
type MockRunRepo struct {
	mock.Mock
}

func (m *MockRunRepo) Enqueue(ctx context.Context, req *domain.RunRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *MockRunRepo) ClaimQueued(ctx context.Context, limit int) ([]domain.RunRequest, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.RunRequest), args.Error(1)
}

func (m *MockRunRepo) GetRequest(ctx context.Context, id uuid.UUID) (*domain.RunRequest, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunRequest), args.Error(1)
}

func (m *MockRunRepo) MarkRequest(ctx context.Context, id uuid.UUID, status domain.RunStatus, lastError string) error {
	args := m.Called(ctx, id, status, lastError)
	return args.Error(0)
}

func (m *MockRunRepo) SaveResult(ctx context.Context, result *domain.RunResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func (m *MockRunRepo) GetResult(ctx context.Context, id uuid.UUID) (*domain.RunResult, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RunResult), args.Error(1)
}
