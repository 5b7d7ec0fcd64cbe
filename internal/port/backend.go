package port

import (
	"context"

	"github.com/google/uuid"

	"finrep/internal/domain"
)

// ModelRequest is one call to a model backend.
type ModelRequest struct {
	RunID     uuid.UUID
	Kind      domain.CallKind
	System    string
	Prompt    string
	Images    [][]byte // PNG page renders, in page order
	MaxTokens int
	JSONMode  bool
}

// ModelResponse is the raw text returned by a backend plus call metadata.
type ModelResponse struct {
	Text       string
	Provider   string
	Model      string
	Transport  domain.Transport
	HTTPStatus int
	Receipt    *domain.Receipt
}

// ModelClient is the wire-level abstraction over one model backend.
type ModelClient interface {
	Complete(ctx context.Context, req ModelRequest) (*ModelResponse, error)
}

// ExtractionBackend turns a task's pages into a structured tree.
type ExtractionBackend interface {
	Extract(ctx context.Context, task domain.ExtractionTask, doc *domain.Document) (*domain.ExtractionResult, error)
}

// EvaluationInput is what the evaluator sees of one extraction.
type EvaluationInput struct {
	RunID          uuid.UUID
	Section        domain.SectionKind
	Data           map[string]any
	ExpectedFields []string
	Prompt         string
}

// EvaluatorBackend scores an extraction against the agent's expected fields.
type EvaluatorBackend interface {
	Evaluate(ctx context.Context, input EvaluationInput) (*domain.Scorecard, error)
}
