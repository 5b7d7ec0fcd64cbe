package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"finrep/internal/classifier"
	"finrep/internal/domain"
	"finrep/internal/gate"
	"finrep/internal/metrics"
	"finrep/internal/port"
	"finrep/internal/receipt"
)

// Process exit codes for a batch.
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitGateViolation = 2
)

// DocumentClassifier segments a document into sections.
type DocumentClassifier interface {
	Classify(ctx context.Context, doc *domain.Document) (*classifier.Result, error)
}

// DocumentOrchestrator extracts and merges a classified document.
type DocumentOrchestrator interface {
	Run(ctx context.Context, runID uuid.UUID, doc *domain.Document, sections []domain.Section, agents []domain.Agent) (*domain.DocumentRecord, error)
}

// AgentSource hands out the agent set for one document.
type AgentSource interface {
	Snapshot() []domain.Agent
}

// Releaser drops per-document caches once a document is done. key is the
// document's CacheKey.
type Releaser interface {
	Release(key string)
}

// BatchItem is one document of a batch run.
type BatchItem struct {
	DocumentID  string
	DocumentRef string
	References  []domain.ReferenceValue
}

// SubmitRunInput is the DTO for queueing a run through the API.
type SubmitRunInput struct {
	DocumentID  string
	DocumentRef string
	References  []domain.ReferenceValue
}

// VerifyReport is the outcome of re-checking every receipt of a run.
type VerifyReport struct {
	RunID    uuid.UUID   `json:"run_id"`
	Total    int         `json:"total"`
	Valid    int         `json:"valid"`
	Failed   int         `json:"failed_calls"`
	Invalid  []uuid.UUID `json:"invalid,omitempty"`
	Verified bool        `json:"verified"`
}

// RunService defines the document run contract.
type RunService interface {
	RunDocument(ctx context.Context, runID uuid.UUID, item BatchItem) (*domain.RunResult, error)
	RunBatch(ctx context.Context, items []BatchItem) []*domain.RunResult
	Submit(ctx context.Context, input *SubmitRunInput) (*domain.RunRequest, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*domain.RunRequest, *domain.RunResult, error)
	ListReceipts(ctx context.Context, runID uuid.UUID) ([]domain.Receipt, error)
	VerifyRun(ctx context.Context, runID uuid.UUID) (*VerifyReport, error)
}

// RunServiceDeps wires a run service. Fetcher, Classifier, Orchestrator, Agents and Gate
// are required; the rest are optional.
type RunServiceDeps struct {
	Fetcher      port.DocumentFetcher
	Classifier   DocumentClassifier
	Orchestrator DocumentOrchestrator
	Agents       AgentSource
	Gate         *gate.Gate
	Runs         port.RunRepository
	Receipts     port.ReceiptRepository
	Signer       *receipt.Signer
	Releasers    []Releaser
	Metrics      *metrics.Metrics
	Notifier     port.RunNotifier
}

type runService struct {
	deps RunServiceDeps
	now  func() time.Time
}

// NewRunService creates a new RunService.
func NewRunService(deps RunServiceDeps) RunService {
	return &runService{deps: deps, now: time.Now}
}

// RunDocument fetches, classifies, extracts and gates one document. The result is always
// returned; the error is non-nil when the document did not pass.
func (s *runService) RunDocument(ctx context.Context, runID uuid.UUID, item BatchItem) (*domain.RunResult, error) {
	if runID == uuid.Nil {
		runID = newRunID()
	}
	ctx = port.WithRunID(ctx, runID)
	docID := item.DocumentID
	if docID == "" {
		docID = item.DocumentRef
	}

	s.deps.Metrics.RunStarted()
	defer s.deps.Metrics.RunFinished()

	result := &domain.RunResult{
		RunID:       runID,
		DocumentID:  docID,
		DocumentRef: item.DocumentRef,
		Status:      domain.DocumentStatusPending,
		References:  item.References,
		StartedAt:   s.now().UTC(),
	}
	err := s.process(ctx, runID, docID, item, result)
	result.FinishedAt = s.now().UTC()
	if err != nil && result.Status != domain.DocumentStatusGateFailed {
		result.Status = domain.DocumentStatusFailed
	}
	if err != nil && len(result.Errors) == 0 {
		result.Errors = append(result.Errors, domain.RunErrorFor(err))
	}

	if s.deps.Runs != nil {
		if saveErr := s.deps.Runs.SaveResult(ctx, result); saveErr != nil {
			zap.L().Error("runService.RunDocument: failed to save result", zap.String("run_id", runID.String()), zap.Error(saveErr))
		}
	}

	if err != nil && s.deps.Notifier != nil {
		if notifyErr := s.deps.Notifier.NotifyRunFailed(ctx, result); notifyErr != nil {
			zap.L().Warn("runService.RunDocument: failed to send notification", zap.String("run_id", runID.String()), zap.Error(notifyErr))
		}
	}

	zap.L().Info("runService.RunDocument: finished",
		zap.String("run_id", runID.String()),
		zap.String("document", docID),
		zap.String("status", string(result.Status)),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("elapsed", result.FinishedAt.Sub(result.StartedAt)))
	return result, err
}

func (s *runService) process(ctx context.Context, runID uuid.UUID, docID string, item BatchItem, result *domain.RunResult) error {
	content, err := s.deps.Fetcher.Fetch(ctx, item.DocumentRef)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", item.DocumentRef, err)
	}
	doc := &domain.Document{ID: docID, RunID: runID, Ref: item.DocumentRef, Content: content, Status: domain.DocumentStatusClassifying}
	defer func() {
		for _, r := range s.deps.Releasers {
			r.Release(doc.CacheKey())
		}
	}()

	result.Status = domain.DocumentStatusClassifying
	classified, err := s.deps.Classifier.Classify(ctx, doc)
	if err != nil {
		return fmt.Errorf("classifying %s: %w", docID, err)
	}

	doc.Status = domain.DocumentStatusExtracting
	result.Status = domain.DocumentStatusExtracting
	record, err := s.deps.Orchestrator.Run(ctx, runID, doc, classified.Sections, s.deps.Agents.Snapshot())
	if record != nil {
		record.Headers = classified.Headers
		result.Record = record
		result.Errors = append(result.Errors, taskErrors(record)...)
	}
	if err != nil {
		if record == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		zap.L().Warn("runService.RunDocument: no extraction output, gating empty record",
			zap.String("document", docID), zap.Error(err))
	}

	doc.Status = domain.DocumentStatusValidating
	result.Status = domain.DocumentStatusValidating
	gr := s.deps.Gate.Check(record, item.References)
	result.Gate = &gr
	s.deps.Metrics.ObserveGate(gr.Passed)
	if len(item.References) == 0 {
		zap.L().Warn("runService.RunDocument: no reference values, gate checks nothing", zap.String("document", docID))
	}

	if !gr.Passed {
		doc.Status = domain.DocumentStatusGateFailed
		result.Status = domain.DocumentStatusGateFailed
		result.Errors = append(result.Errors, domain.RunError{
			Kind:    domain.ErrorKindGateViolation,
			Message: fmt.Sprintf("%d of %d reference values violated", len(gr.Violations), gr.Checked),
			Details: gr.Violations,
		})
		return &domain.GateViolationError{DocumentID: docID, Violations: gr.Violations}
	}
	doc.Status = domain.DocumentStatusCompleted
	result.Status = domain.DocumentStatusCompleted
	return nil
}

// taskErrors reports failed tasks and unconverged coaching loops. Neither fails the document.
func taskErrors(record *domain.DocumentRecord) []domain.RunError {
	var out []domain.RunError
	for _, f := range record.Failures {
		out = append(out, domain.RunError{
			Kind:    f.Kind,
			Message: fmt.Sprintf("task %s/%s failed: %s", f.Section, f.AgentID, f.Error),
			Details: f,
		})
	}
	for _, o := range record.Outcomes {
		if !o.HasResult() || !o.LowConfidence {
			continue
		}
		out = append(out, domain.RunError{
			Kind:    domain.ErrorKindAccuracyShortfall,
			Message: fmt.Sprintf("%s/%s best accuracy %.2f after %d rounds", o.Section, o.AgentID, o.BestAccuracy, o.RoundCount()),
			Details: map[string]any{
				"section":       o.Section,
				"page":          o.Page,
				"agent_id":      o.AgentID,
				"best_round":    o.BestRound,
				"best_accuracy": o.BestAccuracy,
				"best_coverage": o.BestCoverage,
			},
		})
	}
	return out
}

// RunBatch processes documents one after another. Each document gets its own run id and
// its failure never affects the others.
func (s *runService) RunBatch(ctx context.Context, items []BatchItem) []*domain.RunResult {
	results := make([]*domain.RunResult, 0, len(items))
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		res, err := s.RunDocument(ctx, uuid.Nil, item)
		if err != nil {
			zap.L().Warn("runService.RunBatch: document did not pass",
				zap.String("document", res.DocumentID),
				zap.String("kind", string(domain.KindOf(err))),
				zap.Error(err))
		}
		results = append(results, res)
	}
	return results
}

// FailedResults reports a batch that stopped before any document ran, one failed result
// per known item (or a single one when the items are unknown).
func FailedResults(items []BatchItem, err error) []*domain.RunResult {
	if len(items) == 0 {
		items = []BatchItem{{}}
	}
	now := time.Now().UTC()
	results := make([]*domain.RunResult, 0, len(items))
	for _, item := range items {
		docID := item.DocumentID
		if docID == "" {
			docID = item.DocumentRef
		}
		results = append(results, &domain.RunResult{
			RunID:       newRunID(),
			DocumentID:  docID,
			DocumentRef: item.DocumentRef,
			Status:      domain.DocumentStatusFailed,
			Errors:      []domain.RunError{domain.RunErrorFor(err)},
			References:  item.References,
			StartedAt:   now,
			FinishedAt:  now,
		})
	}
	return results
}

// ExitCode maps batch results to a process exit code: any non-gate failure is 1, otherwise
// any gate violation is 2, otherwise 0.
func ExitCode(results []*domain.RunResult) int {
	code := ExitOK
	for _, r := range results {
		switch {
		case r.Passed():
		case r.Status == domain.DocumentStatusGateFailed:
			code = ExitGateViolation
		default:
			return ExitFailure
		}
	}
	return code
}

func (s *runService) Submit(ctx context.Context, input *SubmitRunInput) (*domain.RunRequest, error) {
	if input.DocumentRef == "" {
		return nil, fmt.Errorf("%w: document_ref is required", domain.ErrInvalidInput)
	}
	if s.deps.Runs == nil {
		return nil, fmt.Errorf("%w: run store is not configured", domain.ErrConfiguration)
	}
	refs, err := gate.NormalizeReferences(input.References)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	docID := input.DocumentID
	if docID == "" {
		docID = input.DocumentRef
	}
	req := &domain.RunRequest{
		ID:          newRunID(),
		DocumentID:  docID,
		DocumentRef: input.DocumentRef,
		References:  refs,
	}
	if err := s.deps.Runs.Enqueue(ctx, req); err != nil {
		return nil, fmt.Errorf("queueing run: %w", err)
	}
	zap.L().Info("runService.Submit: queued run", zap.String("run_id", req.ID.String()), zap.String("document", docID))
	return req, nil
}

// GetRun returns the request and, once finished, its result.
func (s *runService) GetRun(ctx context.Context, runID uuid.UUID) (*domain.RunRequest, *domain.RunResult, error) {
	if s.deps.Runs == nil {
		return nil, nil, domain.ErrNotFound
	}
	req, err := s.deps.Runs.GetRequest(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	res, err := s.deps.Runs.GetResult(ctx, runID)
	if errors.Is(err, domain.ErrNotFound) {
		return req, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return req, res, nil
}

func (s *runService) ListReceipts(ctx context.Context, runID uuid.UUID) ([]domain.Receipt, error) {
	if s.deps.Receipts == nil {
		return nil, domain.ErrNotFound
	}
	return s.deps.Receipts.ListByRun(ctx, runID)
}

// VerifyRun re-signs every stored receipt of a run. A run is verified when it has at least
// one receipt and every signature matches.
func (s *runService) VerifyRun(ctx context.Context, runID uuid.UUID) (*VerifyReport, error) {
	if s.deps.Signer == nil {
		return nil, fmt.Errorf("%w: receipt signing secret is not configured", domain.ErrConfiguration)
	}
	receipts, err := s.ListReceipts(ctx, runID)
	if err != nil {
		return nil, err
	}
	report := &VerifyReport{RunID: runID, Total: len(receipts)}
	for i := range receipts {
		r := &receipts[i]
		if !s.deps.Signer.Verify(r) {
			report.Invalid = append(report.Invalid, r.CallID)
			continue
		}
		report.Valid++
		if !r.Succeeded() {
			report.Failed++
		}
	}
	report.Verified = report.Total > 0 && len(report.Invalid) == 0
	return report, nil
}

func newRunID() uuid.UUID {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New()
	}
	return id
}
