// Package coaching runs the extract, evaluate and refine cycle for one
// (document, section, agent) triple.
package coaching

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"finrep/internal/domain"
	"finrep/internal/extraction"
	"finrep/internal/metrics"
	"finrep/internal/port"
)

const (
	DefaultMaxRounds      = 3
	DefaultTargetAccuracy = 0.85
	DefaultMinUseful      = 0.70
)

// PromptEvolver persists a coached prompt as an agent's new base prompt.
type PromptEvolver interface {
	EvolvePrompt(ctx context.Context, agentID, prompt string) (bool, error)
}

// Options bounds a loop.
type Options struct {
	MaxRounds      int
	TargetAccuracy float64
	MinUseful      float64
}

// Job identifies the pages one agent works on.
type Job struct {
	RunID    uuid.UUID
	Document *domain.Document
	Section  domain.SectionKind
	// Page is set when a notes section was split per page.
	Page  int
	Pages []int
	Agent domain.Agent
}

// Loop drives coaching rounds. History, evolver and metrics are optional.
type Loop struct {
	extractor port.ExtractionBackend
	evaluator port.EvaluatorBackend
	history   port.CoachingHistoryRepository
	evolver   PromptEvolver
	metrics   *metrics.Metrics
	opts      Options
	now       func() time.Time
}

func NewLoop(
	extractor port.ExtractionBackend,
	evaluator port.EvaluatorBackend,
	history port.CoachingHistoryRepository,
	evolver PromptEvolver,
	m *metrics.Metrics,
	opts Options,
) *Loop {
	if opts.MaxRounds <= 0 {
		opts.MaxRounds = DefaultMaxRounds
	}
	if opts.TargetAccuracy <= 0 {
		opts.TargetAccuracy = DefaultTargetAccuracy
	}
	if opts.MinUseful <= 0 {
		opts.MinUseful = DefaultMinUseful
	}
	return &Loop{
		extractor: extractor,
		evaluator: evaluator,
		history:   history,
		evolver:   evolver,
		metrics:   m,
		opts:      opts,
		now:       time.Now,
	}
}

// Run executes at most MaxRounds rounds and returns the best-so-far result. The error is
// non-nil only when no round produced usable data.
func (l *Loop) Run(ctx context.Context, job Job) (*domain.CoachingOutcome, error) {
	ag := job.Agent
	target := ag.ConfidenceThreshold
	if target <= 0 {
		target = l.opts.TargetAccuracy
	}

	outcome := &domain.CoachingOutcome{
		DocumentID: job.Document.ID,
		Section:    job.Section,
		Page:       job.Page,
		AgentID:    ag.ID,
		BestRound:  -1,
	}
	best := -1.0
	bestPrompt := ""
	prompt := ag.BasePrompt
	var lastErr error

	for round := 0; round < l.opts.MaxRounds; round++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		task := domain.ExtractionTask{
			ID:             uuid.New(),
			RunID:          job.RunID,
			DocumentID:     job.Document.ID,
			Section:        job.Section,
			AgentID:        ag.ID,
			Prompt:         prompt,
			Pages:          job.Pages,
			Round:          round,
			ExpectedFields: ag.ExpectedFields,
		}
		res, err := l.extractor.Extract(ctx, task, job.Document)
		if res == nil {
			res = &domain.ExtractionResult{TaskID: task.ID}
			if err != nil {
				res.Error = err.Error()
			}
		}
		rd := domain.CoachingRound{Round: round, PromptIn: prompt, Result: *res}

		if !res.Success {
			lastErr = err
			if lastErr == nil {
				lastErr = errors.New(res.Error)
			}
			outcome.Rounds = append(outcome.Rounds, rd)
			l.flush(ctx, job, rd, 0)
			if err != nil {
				// A transport failure ends the loop.
				break
			}
			continue
		}

		rd.Coverage = extraction.CoverageRatio(res.Data, ag.ExpectedFields)
		card, err := l.evaluator.Evaluate(ctx, port.EvaluationInput{
			RunID:          job.RunID,
			Section:        job.Section,
			Data:           res.Data,
			ExpectedFields: ag.ExpectedFields,
			Prompt:         prompt,
		})
		if err != nil {
			zap.L().Warn("coaching.Loop: evaluation failed",
				zap.String("agent", ag.ID),
				zap.String("section", string(job.Section)),
				zap.Int("round", round),
				zap.Error(err))
			card = &domain.Scorecard{}
			var te *domain.TransportError
			if errors.As(err, &te) {
				card.Receipt = te.Receipt
			}
		}
		rd.Scorecard = card

		if card.AccuracyScore > best {
			best = card.AccuracyScore
			bestPrompt = prompt
			outcome.BestRound = round
			outcome.BestAccuracy = card.AccuracyScore
			outcome.BestCoverage = rd.Coverage
			outcome.Data = res.Data
		}

		converged := err == nil && card.AccuracyScore >= target
		if !converged && round < l.opts.MaxRounds-1 && err == nil {
			rd.PromptOut = MergePrompt(prompt, card)
			prompt = rd.PromptOut
		}
		outcome.Rounds = append(outcome.Rounds, rd)
		l.flush(ctx, job, rd, card.AccuracyScore)

		if converged {
			outcome.Converged = true
			break
		}
		if err != nil && domain.KindOf(err) == domain.ErrorKindTransport {
			break
		}
	}

	outcome.LowConfidence = !outcome.Converged
	l.maybeEvolve(ctx, ag, bestPrompt, outcome)
	l.observe(outcome)

	if !outcome.HasResult() {
		if lastErr == nil {
			lastErr = domain.ErrEmptyExtraction
		}
		return outcome, fmt.Errorf("coaching %s/%s: %w", job.Section, ag.ID, lastErr)
	}
	zap.L().Info("coaching.Loop: finished",
		zap.String("document", job.Document.ID),
		zap.String("section", string(job.Section)),
		zap.String("agent", ag.ID),
		zap.Int("rounds", outcome.RoundCount()),
		zap.Int("best_round", outcome.BestRound),
		zap.Float64("best_accuracy", outcome.BestAccuracy),
		zap.Float64("best_coverage", outcome.BestCoverage),
		zap.Bool("converged", outcome.Converged))
	return outcome, nil
}

func (l *Loop) maybeEvolve(ctx context.Context, ag domain.Agent, bestPrompt string, outcome *domain.CoachingOutcome) {
	if l.evolver == nil || outcome.BestRound < 0 {
		return
	}
	if outcome.BestAccuracy < l.opts.MinUseful || bestPrompt == ag.BasePrompt {
		return
	}
	evolved, err := l.evolver.EvolvePrompt(ctx, ag.ID, bestPrompt)
	if err != nil {
		zap.L().Error("coaching.Loop: failed to evolve prompt", zap.String("agent", ag.ID), zap.Error(err))
		return
	}
	outcome.PromptEvolved = evolved
}

// flush appends one round to the shared history. Failures are logged; the in-memory
// rounds stay authoritative for the run.
func (l *Loop) flush(ctx context.Context, job Job, rd domain.CoachingRound, accuracy float64) {
	if l.history == nil {
		return
	}
	entry := &domain.CoachingHistoryEntry{
		ContentHash: historyHash(job, rd),
		RunID:       job.RunID,
		DocumentID:  job.Document.ID,
		Section:     job.Section,
		Page:        job.Page,
		AgentID:     job.Agent.ID,
		Round:       rd.Round,
		PromptIn:    rd.PromptIn,
		PromptOut:   rd.PromptOut,
		Accuracy:    accuracy,
		Coverage:    rd.Coverage,
		Success:     rd.Result.Success,
		CreatedAt:   l.now().UTC(),
	}
	if _, err := l.history.Append(ctx, entry); err != nil {
		zap.L().Error("coaching.Loop: failed to append history", zap.String("agent", job.Agent.ID), zap.Error(err))
	}
}

// historyHash keys a round by its content, so replaying the same round for the same
// document produces the same key.
func historyHash(job Job, rd domain.CoachingRound) string {
	response := ""
	if rd.Result.Receipt != nil {
		response = rd.Result.Receipt.ResponseHash
	}
	if response == "" && rd.Result.Data != nil {
		if b, err := json.Marshal(rd.Result.Data); err == nil {
			response = string(b)
		}
	}
	h := sha256.New()
	for _, part := range []string{
		job.Document.ID,
		string(job.Section),
		fmt.Sprint(job.Page),
		job.Agent.ID,
		fmt.Sprint(rd.Round),
		rd.PromptIn,
		rd.PromptOut,
		response,
	} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (l *Loop) observe(o *domain.CoachingOutcome) {
	outcome := "exhausted"
	switch {
	case o.Converged:
		outcome = "converged"
	case !o.HasResult():
		outcome = "empty"
	}
	l.metrics.ObserveCoaching(string(o.Section), o.RoundCount(), outcome)
}
