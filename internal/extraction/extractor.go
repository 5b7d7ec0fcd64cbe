// Package extraction implements the extraction and evaluation backends on top of a
// model client.
package extraction

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"finrep/internal/domain"
	"finrep/internal/jsonparse"
	"finrep/internal/port"
)

const (
	DefaultDPI       = 150
	extractMaxTokens = 8192
)

// ModelExtractor renders a task's pages and asks a model for a structured tree.
type ModelExtractor struct {
	client     port.ModelClient
	rasterizer port.Rasterizer
	dpi        int
}

var _ port.ExtractionBackend = (*ModelExtractor)(nil)

// NewModelExtractor creates an extractor. A dpi of zero uses DefaultDPI.
func NewModelExtractor(client port.ModelClient, rasterizer port.Rasterizer, dpi int) *ModelExtractor {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &ModelExtractor{client: client, rasterizer: rasterizer, dpi: dpi}
}

// Extract returns a result for every call that reached a backend. Unparseable output is an
// unsuccessful result with a nil error; transport failures return both the failed result and
// the error so callers can keep the receipt.
func (e *ModelExtractor) Extract(ctx context.Context, task domain.ExtractionTask, doc *domain.Document) (*domain.ExtractionResult, error) {
	result := &domain.ExtractionResult{TaskID: task.ID}
	if len(task.Pages) == 0 {
		result.Error = domain.ErrNoPages.Error()
		return result, fmt.Errorf("task %s: %w", task.ID, domain.ErrNoPages)
	}

	images := make([][]byte, 0, len(task.Pages))
	for _, page := range task.Pages {
		img, err := e.rasterizer.Render(ctx, doc, page, e.dpi)
		if err != nil {
			result.Error = err.Error()
			return result, fmt.Errorf("rendering page %d: %w", page, err)
		}
		images = append(images, img)
	}

	resp, err := e.client.Complete(ctx, port.ModelRequest{
		RunID:     task.RunID,
		Kind:      domain.CallKindExtract,
		Prompt:    BuildExtractionPrompt(task.Prompt, task.Section, task.Pages, task.ExpectedFields),
		Images:    images,
		MaxTokens: extractMaxTokens,
		JSONMode:  true,
	})
	if err != nil {
		var te *domain.TransportError
		if errors.As(err, &te) {
			result.Receipt = te.Receipt
		}
		result.Error = err.Error()
		return result, err
	}
	result.Receipt = resp.Receipt

	parsed, attempts, err := jsonparse.Parse(resp.Text)
	result.ParseAttempts = attempts
	if err != nil {
		zap.L().Warn("extraction.ModelExtractor: unparseable output",
			zap.String("agent", task.AgentID),
			zap.String("section", string(task.Section)),
			zap.Int("round", task.Round),
			zap.Error(err))
		result.Error = err.Error()
		return result, nil
	}

	data := unwrapData(parsed)
	if len(data) == 0 {
		result.Error = domain.ErrEmptyExtraction.Error()
		return result, nil
	}
	result.Success = true
	result.Data = data
	return result, nil
}

// unwrapData strips the {"data": {...}} envelope the prompt asks for, tolerating models
// that return the object bare.
func unwrapData(parsed map[string]any) map[string]any {
	if inner, ok := parsed["data"].(map[string]any); ok && len(parsed) <= 2 {
		return inner
	}
	return parsed
}
