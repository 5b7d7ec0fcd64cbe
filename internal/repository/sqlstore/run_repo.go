package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"finrep/internal/domain"
	"finrep/internal/port"
)

type runRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewRunRepo creates a new SQL-backed RunRepository.
func NewRunRepo(db *sqlx.DB) port.RunRepository {
	return &runRepo{db: db, now: time.Now}
}

type runRequestRow struct {
	ID          uuid.UUID `db:"id"`
	DocumentID  string    `db:"document_id"`
	DocumentRef string    `db:"document_ref"`
	Refs        string    `db:"refs"`
	Status      string    `db:"status"`
	Attempts    int       `db:"attempts"`
	LastError   string    `db:"last_error"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (row runRequestRow) toDomain() (domain.RunRequest, error) {
	req := domain.RunRequest{
		ID:          row.ID,
		DocumentID:  row.DocumentID,
		DocumentRef: row.DocumentRef,
		Status:      domain.RunStatus(row.Status),
		Attempts:    row.Attempts,
		LastError:   row.LastError,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.Refs), &req.References); err != nil {
		return req, fmt.Errorf("run %s references: %w", row.ID, err)
	}
	return req, nil
}

func (r *runRepo) Enqueue(ctx context.Context, req *domain.RunRequest) error {
	refs := req.References
	if refs == nil {
		refs = []domain.ReferenceValue{}
	}
	encoded, err := json.Marshal(refs)
	if err != nil {
		return fmt.Errorf("runRepo.Enqueue: %w", err)
	}
	now := r.now().UTC()
	if req.ID == uuid.Nil {
		req.ID = uuid.New()
	}
	req.Status = domain.RunStatusQueued
	req.CreatedAt, req.UpdatedAt = now, now

	_, err = r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO run_requests (id, document_id, document_ref, refs, status, attempts, last_error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, '', ?, ?)`),
		req.ID, req.DocumentID, req.DocumentRef, string(encoded), req.Status, now, now)
	if err != nil {
		return fmt.Errorf("runRepo.Enqueue: %w", err)
	}
	return nil
}

// ClaimQueued moves up to limit queued requests to processing, oldest first. Each claim is
// a conditional update, so two workers never claim the same request.
func (r *runRepo) ClaimQueued(ctx context.Context, limit int) ([]domain.RunRequest, error) {
	if limit <= 0 {
		return nil, nil
	}
	var rows []runRequestRow
	err := r.db.SelectContext(ctx, &rows, r.db.Rebind(
		`SELECT * FROM run_requests WHERE status = ? ORDER BY created_at, id LIMIT ?`),
		domain.RunStatusQueued, limit)
	if err != nil {
		return nil, fmt.Errorf("runRepo.ClaimQueued: %w", err)
	}

	claimed := make([]domain.RunRequest, 0, len(rows))
	for _, row := range rows {
		now := r.now().UTC()
		res, err := r.db.ExecContext(ctx, r.db.Rebind(
			`UPDATE run_requests SET status = ?, attempts = attempts + 1, updated_at = ?
			 WHERE id = ? AND status = ?`),
			domain.RunStatusProcessing, now, row.ID, domain.RunStatusQueued)
		if err != nil {
			return claimed, fmt.Errorf("runRepo.ClaimQueued update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}
		req, err := row.toDomain()
		if err != nil {
			return claimed, fmt.Errorf("runRepo.ClaimQueued: %w", err)
		}
		req.Status = domain.RunStatusProcessing
		req.Attempts++
		req.UpdatedAt = now
		claimed = append(claimed, req)
	}
	return claimed, nil
}

func (r *runRepo) GetRequest(ctx context.Context, id uuid.UUID) (*domain.RunRequest, error) {
	var row runRequestRow
	err := r.db.GetContext(ctx, &row, r.db.Rebind(`SELECT * FROM run_requests WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("runRepo.GetRequest: %w", err)
	}
	req, err := row.toDomain()
	if err != nil {
		return nil, fmt.Errorf("runRepo.GetRequest: %w", err)
	}
	return &req, nil
}

func (r *runRepo) MarkRequest(ctx context.Context, id uuid.UUID, status domain.RunStatus, lastError string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(
		`UPDATE run_requests SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`),
		status, lastError, r.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("runRepo.MarkRequest: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SaveResult stores the full result as JSON. A rerun of the same run id replaces it.
func (r *runRepo) SaveResult(ctx context.Context, result *domain.RunResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("runRepo.SaveResult: %w", err)
	}
	finished := result.FinishedAt
	if finished.IsZero() {
		finished = r.now().UTC()
	}
	_, err = r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO run_results (run_id, document_id, status, payload, finished_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET
		   document_id = excluded.document_id,
		   status = excluded.status,
		   payload = excluded.payload,
		   finished_at = excluded.finished_at`),
		result.RunID, result.DocumentID, result.Status, string(payload), finished)
	if err != nil {
		return fmt.Errorf("runRepo.SaveResult: %w", err)
	}
	return nil
}

func (r *runRepo) GetResult(ctx context.Context, id uuid.UUID) (*domain.RunResult, error) {
	var payload string
	err := r.db.GetContext(ctx, &payload, r.db.Rebind(`SELECT payload FROM run_results WHERE run_id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("runRepo.GetResult: %w", err)
	}
	var result domain.RunResult
	if err := json.Unmarshal([]byte(payload), &result); err != nil {
		return nil, fmt.Errorf("runRepo.GetResult decode: %w", err)
	}
	return &result, nil
}
