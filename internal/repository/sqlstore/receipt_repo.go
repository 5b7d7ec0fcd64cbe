package sqlstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"finrep/internal/domain"
	"finrep/internal/port"
)

type receiptRepo struct {
	db *sqlx.DB
}

// NewReceiptRepo creates a new SQL-backed ReceiptRepository. The ledger has no update or
// delete path.
func NewReceiptRepo(db *sqlx.DB) port.ReceiptRepository {
	return &receiptRepo{db: db}
}

func (r *receiptRepo) Append(ctx context.Context, rec *domain.Receipt) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO receipts
		   (call_id, run_id, kind, provider, model, transport, http_status, latency_ms,
		    prompt_hash, input_hash, response_hash, signature, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.CallID, rec.RunID, rec.Kind, rec.Provider, rec.Model, rec.Transport, rec.HTTPStatus, rec.LatencyMs,
		rec.PromptHash, rec.InputHash, rec.ResponseHash, rec.Signature, rec.Error, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("receiptRepo.Append: %w", err)
	}
	return nil
}

func (r *receiptRepo) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Receipt, error) {
	var receipts []domain.Receipt
	err := r.db.SelectContext(ctx, &receipts, r.db.Rebind(
		`SELECT * FROM receipts WHERE run_id = ? ORDER BY created_at, call_id`), runID)
	if err != nil {
		return nil, fmt.Errorf("receiptRepo.ListByRun: %w", err)
	}
	return receipts, nil
}
