package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"finrep/internal/domain"
)

// MockObjectStorage is a mock implementation of port.ObjectStorage.
type MockObjectStorage struct {
	mock.Mock
}

func (m *MockObjectStorage) Download(ctx context.Context, bucket, key string) ([]byte, error) {
	args := m.Called(ctx, bucket, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockDocumentFetcher is a mock implementation of port.DocumentFetcher.
type MockDocumentFetcher struct {
	mock.Mock
}

func (m *MockDocumentFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// MockRunNotifier is a mock implementation of port.RunNotifier.
type MockRunNotifier struct {
	mock.Mock
}

func (m *MockRunNotifier) NotifyRunFailed(ctx context.Context, result *domain.RunResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}
