package service_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"finrep/internal/domain"
	"finrep/internal/service"
	"finrep/mocks"
)

func startWorker(t *testing.T, worker *service.RunQueueWorker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Start(ctx)
		close(done)
	}()

	// Wait for at least one poll cycle
	time.Sleep(200 * time.Millisecond)
	cancel()
	<-done
}

func TestRunQueueWorker_DispatchesAndMarksPassed(t *testing.T) {
	runs := new(mocks.MockRunRepo)
	svc := new(mocks.MockRunService)
	req := domain.RunRequest{ID: uuid.New(), DocumentID: "doc", DocumentRef: "doc.pdf", Attempts: 1, Status: domain.RunStatusProcessing}

	runs.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).Return([]domain.RunRequest{req}, nil).Once()
	runs.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).Return([]domain.RunRequest{}, nil).Maybe()
	svc.On("RunDocument", mock.Anything, req.ID, service.BatchItem{DocumentID: "doc", DocumentRef: "doc.pdf"}).
		Return(&domain.RunResult{RunID: req.ID, Status: domain.DocumentStatusCompleted, Gate: &domain.GateResult{Passed: true}}, nil)
	runs.On("MarkRequest", mock.Anything, req.ID, domain.RunStatusPassed, "").Return(nil)

	startWorker(t, service.NewRunQueueWorker(runs, svc, service.RunQueueConfig{
		PollInterval: 50 * time.Millisecond,
		MaxRetries:   3,
		Concurrency:  2,
	}))

	svc.AssertExpectations(t)
	runs.AssertCalled(t, "MarkRequest", mock.Anything, req.ID, domain.RunStatusPassed, "")
}

func TestRunQueueWorker_RequeuesTransportFailures(t *testing.T) {
	runs := new(mocks.MockRunRepo)
	svc := new(mocks.MockRunService)
	req := domain.RunRequest{ID: uuid.New(), DocumentRef: "doc.pdf", Attempts: 1}
	transportErr := &domain.TransportError{Provider: "claude", Status: 503, Err: errors.New("unavailable")}

	runs.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).Return([]domain.RunRequest{req}, nil).Once()
	runs.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).Return([]domain.RunRequest{}, nil).Maybe()
	svc.On("RunDocument", mock.Anything, req.ID, mock.Anything).
		Return(&domain.RunResult{RunID: req.ID, Status: domain.DocumentStatusFailed}, transportErr)
	runs.On("MarkRequest", mock.Anything, req.ID, domain.RunStatusQueued, transportErr.Error()).Return(nil)

	startWorker(t, service.NewRunQueueWorker(runs, svc, service.RunQueueConfig{
		PollInterval: 50 * time.Millisecond,
		MaxRetries:   3,
		Concurrency:  1,
	}))

	runs.AssertCalled(t, "MarkRequest", mock.Anything, req.ID, domain.RunStatusQueued, transportErr.Error())
}

func TestRunQueueWorker_GateFailureIsFinal(t *testing.T) {
	runs := new(mocks.MockRunRepo)
	svc := new(mocks.MockRunService)
	req := domain.RunRequest{ID: uuid.New(), DocumentRef: "doc.pdf", Attempts: 1}
	gateErr := &domain.GateViolationError{DocumentID: "doc", Violations: []domain.Violation{{Field: "x"}}}

	runs.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).Return([]domain.RunRequest{req}, nil).Once()
	runs.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).Return([]domain.RunRequest{}, nil).Maybe()
	svc.On("RunDocument", mock.Anything, req.ID, mock.Anything).
		Return(&domain.RunResult{RunID: req.ID, Status: domain.DocumentStatusGateFailed}, gateErr)
	runs.On("MarkRequest", mock.Anything, req.ID, domain.RunStatusFailed, gateErr.Error()).Return(nil)

	startWorker(t, service.NewRunQueueWorker(runs, svc, service.RunQueueConfig{
		PollInterval: 50 * time.Millisecond,
		MaxRetries:   3,
		Concurrency:  1,
	}))

	runs.AssertCalled(t, "MarkRequest", mock.Anything, req.ID, domain.RunStatusFailed, gateErr.Error())
}

func TestRunQueueWorker_UnreadableDocumentIsFinal(t *testing.T) {
	runs := new(mocks.MockRunRepo)
	svc := new(mocks.MockRunService)
	req := domain.RunRequest{ID: uuid.New(), DocumentRef: "scan.jpg", Attempts: 1}
	readErr := fmt.Errorf("classifying scan.jpg: %w: document scan.jpg is not a readable PDF: %w",
		domain.ErrInvalidInput, errors.New("pdfcpu: no header version available"))

	runs.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).Return([]domain.RunRequest{req}, nil).Once()
	runs.On("ClaimQueued", mock.Anything, mock.AnythingOfType("int")).Return([]domain.RunRequest{}, nil).Maybe()
	svc.On("RunDocument", mock.Anything, req.ID, mock.Anything).
		Return(&domain.RunResult{RunID: req.ID, Status: domain.DocumentStatusFailed}, readErr)
	runs.On("MarkRequest", mock.Anything, req.ID, domain.RunStatusFailed, readErr.Error()).Return(nil)

	startWorker(t, service.NewRunQueueWorker(runs, svc, service.RunQueueConfig{
		PollInterval: 50 * time.Millisecond,
		MaxRetries:   3,
		Concurrency:  1,
	}))

	runs.AssertCalled(t, "MarkRequest", mock.Anything, req.ID, domain.RunStatusFailed, readErr.Error())
	runs.AssertNotCalled(t, "MarkRequest", mock.Anything, req.ID, domain.RunStatusQueued, mock.Anything)
}
