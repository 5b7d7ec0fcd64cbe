package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"finrep/internal/domain"
	"finrep/internal/port"
)

// RunQueueConfig holds settings for the run queue worker.
type RunQueueConfig struct {
	PollInterval time.Duration
	MaxRetries   int
	Concurrency  int
	RunTimeout   time.Duration
}

// RunQueueWorker polls for queued runs and processes them.
type RunQueueWorker struct {
	runs    port.RunRepository
	service RunService
	cfg     RunQueueConfig
	wg      sync.WaitGroup
}

// NewRunQueueWorker creates a new RunQueueWorker.
func NewRunQueueWorker(runs port.RunRepository, service RunService, cfg RunQueueConfig) *RunQueueWorker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	return &RunQueueWorker{runs: runs, service: service, cfg: cfg}
}

// Start runs the polling loop until ctx is canceled. It blocks until all
// in-flight runs have finished.
func (w *RunQueueWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, w.cfg.Concurrency)

	zap.L().Info("runQueueWorker: started",
		zap.Duration("poll", w.cfg.PollInterval),
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Int("max_retries", w.cfg.MaxRetries))

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("runQueueWorker: shutting down, waiting for in-flight runs...")
			w.wg.Wait()
			zap.L().Info("runQueueWorker: shutdown complete")
			return
		case <-ticker.C:
			w.poll(ctx, sem)
		}
	}
}

func (w *RunQueueWorker) poll(ctx context.Context, sem chan struct{}) {
	available := w.cfg.Concurrency - len(sem)
	if available <= 0 {
		return
	}

	reqs, err := w.runs.ClaimQueued(ctx, available)
	if err != nil {
		if ctx.Err() == nil {
			zap.L().Error("runQueueWorker: ClaimQueued error", zap.Error(err))
		}
		return
	}

	for i := range reqs {
		req := reqs[i]
		sem <- struct{}{}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-sem }()

			// Detached from the poll context so in-flight runs finish during shutdown.
			runCtx, cancel := context.WithTimeout(context.Background(), w.cfg.RunTimeout)
			defer cancel()

			zap.L().Info("runQueueWorker: dispatching run",
				zap.String("run_id", req.ID.String()),
				zap.Int("attempt", req.Attempts))
			w.process(runCtx, req)
		}()
	}
}

// process runs one request and records its final queue status. Transport failures are
// requeued until MaxRetries attempts have been made.
func (w *RunQueueWorker) process(ctx context.Context, req domain.RunRequest) {
	res, err := w.service.RunDocument(ctx, req.ID, BatchItem{
		DocumentID:  req.DocumentID,
		DocumentRef: req.DocumentRef,
		References:  req.References,
	})

	status, lastError := domain.RunStatusPassed, ""
	if err != nil {
		status, lastError = domain.RunStatusFailed, err.Error()
		if domain.KindOf(err) == domain.ErrorKindTransport && req.Attempts < w.cfg.MaxRetries {
			status = domain.RunStatusQueued
		}
	} else if res != nil && !res.Passed() {
		status = domain.RunStatusFailed
	}

	if markErr := w.runs.MarkRequest(ctx, req.ID, status, lastError); markErr != nil {
		zap.L().Error("runQueueWorker: failed to update run status",
			zap.String("run_id", req.ID.String()), zap.Error(markErr))
	}
}
