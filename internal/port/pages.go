package port

import (
	"context"

	"finrep/internal/domain"
)

// PageSource exposes the text layer of a document's pages.
type PageSource interface {
	PageCount(ctx context.Context, doc *domain.Document) (int, error)
	PageText(ctx context.Context, doc *domain.Document, page int) (string, error)
}

// Rasterizer renders one page of a document to a PNG image.
type Rasterizer interface {
	Render(ctx context.Context, doc *domain.Document, page int, dpi int) ([]byte, error)
}
