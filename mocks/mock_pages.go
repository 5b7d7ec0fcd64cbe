package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"finrep/internal/domain"
)

// MockPageSource is a mock implementation of port.PageSource.
type MockPageSource struct {
	mock.Mock
}

func (m *MockPageSource) PageCount(ctx context.Context, doc *domain.Document) (int, error) {
	args := m.Called(ctx, doc)
	return args.Int(0), args.Error(1)
}

func (m *MockPageSource) PageText(ctx context.Context, doc *domain.Document, page int) (string, error) {
	args := m.Called(ctx, doc, page)
	return args.String(0), args.Error(1)
}

// MockRasterizer is a mock implementation of port.Rasterizer.
type MockRasterizer struct {
	mock.Mock
}

func (m *MockRasterizer) Render(ctx context.Context, doc *domain.Document, page int, dpi int) ([]byte, error) {
	args := m.Called(ctx, doc, page, dpi)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}
