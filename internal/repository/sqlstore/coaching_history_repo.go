package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"finrep/internal/domain"
	"finrep/internal/port"
)

type coachingHistoryRepo struct {
	db *sqlx.DB
}

// NewCoachingHistoryRepo creates a new SQL-backed CoachingHistoryRepository. Appends are
// single-statement inserts keyed by content hash, so concurrent writers never conflict.
func NewCoachingHistoryRepo(db *sqlx.DB) port.CoachingHistoryRepository {
	return &coachingHistoryRepo{db: db}
}

func (r *coachingHistoryRepo) Append(ctx context.Context, e *domain.CoachingHistoryEntry) (bool, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO coaching_history
		   (content_hash, run_id, document_id, section, page, agent_id, round_number,
		    prompt_in, prompt_out, accuracy, coverage, success, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (content_hash) DO NOTHING`),
		e.ContentHash, e.RunID, e.DocumentID, e.Section, e.Page, e.AgentID, e.Round,
		e.PromptIn, e.PromptOut, e.Accuracy, e.Coverage, e.Success, e.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("coachingHistoryRepo.Append: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("coachingHistoryRepo.Append: %w", err)
	}
	return n == 1, nil
}

func (r *coachingHistoryRepo) ListBySection(ctx context.Context, documentID string, section domain.SectionKind, agentID string) ([]domain.CoachingHistoryEntry, error) {
	var entries []domain.CoachingHistoryEntry
	err := r.db.SelectContext(ctx, &entries, r.db.Rebind(
		`SELECT * FROM coaching_history
		 WHERE document_id = ? AND section = ? AND agent_id = ?
		 ORDER BY created_at, page, round_number`),
		documentID, section, agentID)
	if err != nil {
		return nil, fmt.Errorf("coachingHistoryRepo.ListBySection: %w", err)
	}
	return entries, nil
}
