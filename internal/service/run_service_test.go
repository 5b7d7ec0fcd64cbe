package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"finrep/internal/agent"
	"finrep/internal/classifier"
	"finrep/internal/coaching"
	"finrep/internal/domain"
	"finrep/internal/gate"
	"finrep/internal/orchestrator"
	"finrep/internal/port"
	"finrep/internal/receipt"
	"finrep/internal/service"
	"finrep/mocks"
)

// tenPageReport labels pages 1 cover, 2-5 management report, 6-7 income statement,
// 8-10 balance sheet.
type tenPageReport struct{}

func (tenPageReport) Name() string { return "fixed" }

func (tenPageReport) ClassifyPage(_ context.Context, _ *domain.Document, page int) (domain.PageLabel, error) {
	switch {
	case page == 1:
		return domain.PageLabel{Kind: domain.SectionCover, Confidence: 0.9}, nil
	case page <= 5:
		return domain.PageLabel{Kind: domain.SectionManagementReport, Confidence: 0.9}, nil
	case page <= 7:
		return domain.PageLabel{Kind: domain.SectionIncomeStatement, Confidence: 0.9}, nil
	default:
		return domain.PageLabel{Kind: domain.SectionBalanceSheet, Confidence: 0.9}, nil
	}
}

// fakeBackend extracts a fixed tree per agent and scores every evaluation 0.92.
type fakeBackend struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeBackend) Extract(_ context.Context, task domain.ExtractionTask, _ *domain.Document) (*domain.ExtractionResult, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	data := map[string]any{task.AgentID: map[string]any{"pages": float64(len(task.Pages))}}
	if task.AgentID == "income_statement" {
		data = map[string]any{"income_statement": map[string]any{"revenue": "4 512 000"}}
	}
	return &domain.ExtractionResult{TaskID: task.ID, Success: true, Data: data}, nil
}

func (f *fakeBackend) Evaluate(_ context.Context, _ port.EvaluationInput) (*domain.Scorecard, error) {
	return &domain.Scorecard{AccuracyScore: 0.92}, nil
}

type recordingReleaser struct {
	released []string
}

func (r *recordingReleaser) Release(key string) { r.released = append(r.released, key) }

func testAgents() []domain.Agent {
	mr := []domain.SectionKind{domain.SectionManagementReport}
	return []domain.Agent{
		{ID: "governance", Sections: mr, BasePrompt: "board"},
		{ID: "property_info", Sections: mr, BasePrompt: "property"},
		{ID: "maintenance", Sections: mr, BasePrompt: "maintenance"},
		{ID: "income_statement", Sections: []domain.SectionKind{domain.SectionIncomeStatement}, BasePrompt: "is", ExpectedFields: []string{"revenue"}},
		{ID: "balance_sheet", Sections: []domain.SectionKind{domain.SectionBalanceSheet}, BasePrompt: "bs"},
	}
}

type harness struct {
	svc      service.RunService
	fetcher  *mocks.MockDocumentFetcher
	runs     *mocks.MockRunRepo
	backend  *fakeBackend
	releaser *recordingReleaser
	notifier *mocks.MockRunNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	pages := new(mocks.MockPageSource)
	pages.On("PageCount", mock.Anything, mock.Anything).Return(10, nil)
	pages.On("PageText", mock.Anything, mock.Anything, mock.Anything).Return("", nil)

	backend := &fakeBackend{}
	loop := coaching.NewLoop(backend, backend, nil, nil, nil, coaching.Options{MaxRounds: 3, TargetAccuracy: 0.85})
	h := &harness{
		fetcher:  new(mocks.MockDocumentFetcher),
		runs:     new(mocks.MockRunRepo),
		backend:  backend,
		releaser: &recordingReleaser{},
		notifier: new(mocks.MockRunNotifier),
	}
	h.notifier.On("NotifyRunFailed", mock.Anything, mock.AnythingOfType("*domain.RunResult")).Return(errors.New("smtp down")).Maybe()
	h.runs.On("SaveResult", mock.Anything, mock.AnythingOfType("*domain.RunResult")).Return(nil)
	h.svc = service.NewRunService(service.RunServiceDeps{
		Fetcher:      h.fetcher,
		Classifier:   classifier.New(tenPageReport{}, pages, nil, 0.5),
		Orchestrator: orchestrator.New(loop, pages, nil, orchestrator.Options{MaxParallelAgents: 3}),
		Agents:       agent.NewRegistry(testAgents(), nil),
		Gate:         gate.New(0.01, 1000),
		Runs:         h.runs,
		Releasers:    []service.Releaser{h.releaser},
		Notifier:     h.notifier,
	})
	return h
}

func TestRunDocument_EndToEndPasses(t *testing.T) {
	h := newHarness(t)
	h.fetcher.On("Fetch", mock.Anything, "s3://reports/brf-10.pdf").Return([]byte("%PDF"), nil)
	runID := uuid.New()

	res, err := h.svc.RunDocument(context.Background(), runID, service.BatchItem{
		DocumentID:  "brf-10",
		DocumentRef: "s3://reports/brf-10.pdf",
		References: []domain.ReferenceValue{
			{Field: "income_statement.revenue", Kind: domain.ReferenceNumeric, Number: 4530000},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, runID, res.RunID)
	assert.Equal(t, domain.DocumentStatusCompleted, res.Status)
	assert.True(t, res.Passed())
	require.NotNil(t, res.Record)
	require.Len(t, res.Record.Sections, 4)
	require.Len(t, res.Record.Outcomes, 5)

	perSection := map[domain.SectionKind]int{}
	for _, o := range res.Record.Outcomes {
		perSection[o.Section]++
		assert.Equal(t, 1, o.RoundCount())
		assert.True(t, o.Converged)
	}
	assert.Equal(t, 3, perSection[domain.SectionManagementReport])
	assert.Equal(t, 5, h.backend.calls)
	assert.Empty(t, res.Errors)
	assert.Equal(t, []string{runID.String() + "/brf-10"}, h.releaser.released)
	assert.Equal(t, service.ExitOK, service.ExitCode([]*domain.RunResult{res}))
	h.runs.AssertCalled(t, "SaveResult", mock.Anything, res)
	h.notifier.AssertNotCalled(t, "NotifyRunFailed", mock.Anything, mock.Anything)
}

func TestRunDocument_GateViolation(t *testing.T) {
	h := newHarness(t)
	h.fetcher.On("Fetch", mock.Anything, "a.pdf").Return([]byte("%PDF"), nil)

	res, err := h.svc.RunDocument(context.Background(), uuid.Nil, service.BatchItem{
		DocumentRef: "a.pdf",
		References: []domain.ReferenceValue{
			{Field: "income_statement.revenue", Kind: domain.ReferenceNumeric, Number: 5000000},
			{Field: "balance_sheet.total_assets", Kind: domain.ReferenceNumeric, Number: 1},
		},
	})

	require.Error(t, err)
	var gv *domain.GateViolationError
	require.True(t, errors.As(err, &gv))
	assert.Len(t, gv.Violations, 2)
	assert.Equal(t, domain.DocumentStatusGateFailed, res.Status)
	assert.NotEqual(t, uuid.Nil, res.RunID)
	assert.Equal(t, "a.pdf", res.DocumentID)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, domain.ErrorKindGateViolation, res.Errors[0].Kind)
	assert.Equal(t, service.ExitGateViolation, service.ExitCode([]*domain.RunResult{res}))
	h.notifier.AssertCalled(t, "NotifyRunFailed", mock.Anything, res)
}

func TestRunDocument_FetchFailure(t *testing.T) {
	h := newHarness(t)
	h.fetcher.On("Fetch", mock.Anything, "missing.pdf").Return(nil, domain.ErrNotFound)

	res, err := h.svc.RunDocument(context.Background(), uuid.New(), service.BatchItem{DocumentRef: "missing.pdf"})

	require.Error(t, err)
	assert.Equal(t, domain.DocumentStatusFailed, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, domain.ErrorKindInput, res.Errors[0].Kind)
	assert.Equal(t, service.ExitFailure, service.ExitCode([]*domain.RunResult{res}))
	assert.Zero(t, h.backend.calls)
}

func TestRunBatch_IsolatesDocuments(t *testing.T) {
	h := newHarness(t)
	h.fetcher.On("Fetch", mock.Anything, mock.Anything).Return([]byte("%PDF"), nil)

	results := h.svc.RunBatch(context.Background(), []service.BatchItem{
		{DocumentID: "bad", DocumentRef: "bad.pdf", References: []domain.ReferenceValue{
			{Field: "income_statement.revenue", Kind: domain.ReferenceNumeric, Number: 9000000},
		}},
		{DocumentID: "good", DocumentRef: "good.pdf", References: []domain.ReferenceValue{
			{Field: "income_statement.revenue", Kind: domain.ReferenceNumeric, Number: 4512000},
		}},
	})

	require.Len(t, results, 2)
	assert.Equal(t, domain.DocumentStatusGateFailed, results[0].Status)
	assert.True(t, results[1].Passed())
	assert.NotEqual(t, results[0].RunID, results[1].RunID)
	assert.Equal(t, service.ExitGateViolation, service.ExitCode(results))
}

func TestExitCode(t *testing.T) {
	passed := &domain.RunResult{Status: domain.DocumentStatusCompleted, Gate: &domain.GateResult{Passed: true}}
	gateFailed := &domain.RunResult{Status: domain.DocumentStatusGateFailed, Gate: &domain.GateResult{}}
	failed := &domain.RunResult{Status: domain.DocumentStatusFailed}

	assert.Equal(t, service.ExitOK, service.ExitCode(nil))
	assert.Equal(t, service.ExitOK, service.ExitCode([]*domain.RunResult{passed, passed}))
	assert.Equal(t, service.ExitGateViolation, service.ExitCode([]*domain.RunResult{passed, gateFailed}))
	assert.Equal(t, service.ExitFailure, service.ExitCode([]*domain.RunResult{gateFailed, failed}))
}

func TestSubmit(t *testing.T) {
	runs := new(mocks.MockRunRepo)
	svc := service.NewRunService(service.RunServiceDeps{Runs: runs})
	runs.On("Enqueue", mock.Anything, mock.AnythingOfType("*domain.RunRequest")).Return(nil)

	req, err := svc.Submit(context.Background(), &service.SubmitRunInput{DocumentRef: "s3://reports/a.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "s3://reports/a.pdf", req.DocumentID)
	assert.NotEqual(t, uuid.Nil, req.ID)

	_, err = svc.Submit(context.Background(), &service.SubmitRunInput{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestGetRun_PendingHasNoResult(t *testing.T) {
	runs := new(mocks.MockRunRepo)
	svc := service.NewRunService(service.RunServiceDeps{Runs: runs})
	id := uuid.New()
	runs.On("GetRequest", mock.Anything, id).Return(&domain.RunRequest{ID: id, Status: domain.RunStatusQueued}, nil)
	runs.On("GetResult", mock.Anything, id).Return(nil, domain.ErrNotFound)

	req, res, err := svc.GetRun(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusQueued, req.Status)
	assert.Nil(t, res)
}

func TestVerifyRun(t *testing.T) {
	signer, err := receipt.NewSigner("test-secret")
	require.NoError(t, err)
	runID := uuid.New()

	good := domain.Receipt{CallID: uuid.New(), RunID: runID, Kind: domain.CallKindExtract, HTTPStatus: 200, ResponseHash: "r1"}
	good.Signature = signer.Sign(&good)
	failedCall := domain.Receipt{CallID: uuid.New(), RunID: runID, Kind: domain.CallKindEvaluate, HTTPStatus: 503, Error: "unavailable"}
	failedCall.Signature = signer.Sign(&failedCall)
	tampered := domain.Receipt{CallID: uuid.New(), RunID: runID, Kind: domain.CallKindExtract, HTTPStatus: 200, ResponseHash: "r2"}
	tampered.Signature = signer.Sign(&tampered)
	tampered.ResponseHash = "forged"

	receipts := new(mocks.MockReceiptRepo)
	receipts.On("ListByRun", mock.Anything, runID).Return([]domain.Receipt{good, failedCall, tampered}, nil)
	svc := service.NewRunService(service.RunServiceDeps{Receipts: receipts, Signer: signer})

	report, err := svc.VerifyRun(context.Background(), runID)

	require.NoError(t, err)
	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 2, report.Valid)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, []uuid.UUID{tampered.CallID}, report.Invalid)
	assert.False(t, report.Verified)
}

func TestFailedResults_CarriesConfigurationProblems(t *testing.T) {
	cfgErr := &domain.ConfigurationError{Problems: []string{"receipts.signing_secret is required", "evaluator.provider is required"}}
	items := []service.BatchItem{
		{DocumentID: "brf-1", DocumentRef: "a.pdf"},
		{DocumentRef: "b.pdf"},
	}

	results := service.FailedResults(items, cfgErr)

	require.Len(t, results, 2)
	assert.Equal(t, "brf-1", results[0].DocumentID)
	assert.Equal(t, "b.pdf", results[1].DocumentID)
	for _, r := range results {
		assert.NotEqual(t, uuid.Nil, r.RunID)
		assert.Equal(t, domain.DocumentStatusFailed, r.Status)
		require.Len(t, r.Errors, 1)
		assert.Equal(t, domain.ErrorKindConfiguration, r.Errors[0].Kind)
		assert.Equal(t, cfgErr.Problems, r.Errors[0].Details)
	}
	assert.NotEqual(t, results[0].RunID, results[1].RunID)
	assert.Equal(t, service.ExitFailure, service.ExitCode(results))
}

func TestFailedResults_UnknownItems(t *testing.T) {
	results := service.FailedResults(nil, fmt.Errorf("%w: no documents given", domain.ErrInvalidInput))

	require.Len(t, results, 1)
	assert.Empty(t, results[0].DocumentRef)
	assert.Equal(t, domain.ErrorKindInput, results[0].Errors[0].Kind)
	assert.Contains(t, results[0].Errors[0].Message, "no documents given")
	assert.Equal(t, service.ExitFailure, service.ExitCode(results))
}
