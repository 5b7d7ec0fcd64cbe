package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"finrep/internal/domain"
	"finrep/internal/port"
)

type agentRepo struct {
	db *sqlx.DB
}

// NewAgentRepo creates a new SQL-backed AgentRepository.
func NewAgentRepo(db *sqlx.DB) port.AgentRepository {
	return &agentRepo{db: db}
}

type agentRow struct {
	ID                  string    `db:"id"`
	Sections            string    `db:"sections"`
	BasePrompt          string    `db:"base_prompt"`
	ExpectedFields      string    `db:"expected_fields"`
	ConfidenceThreshold float64   `db:"confidence_threshold"`
	NoteKeywords        string    `db:"note_keywords"`
	PromptHash          string    `db:"prompt_hash"`
	UpdatedAt           time.Time `db:"updated_at"`
}

func (row agentRow) toDomain() (domain.Agent, error) {
	a := domain.Agent{
		ID:                  row.ID,
		BasePrompt:          row.BasePrompt,
		ConfidenceThreshold: row.ConfidenceThreshold,
		PromptHash:          row.PromptHash,
		UpdatedAt:           row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.Sections), &a.Sections); err != nil {
		return a, fmt.Errorf("agent %s sections: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.ExpectedFields), &a.ExpectedFields); err != nil {
		return a, fmt.Errorf("agent %s expected fields: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.NoteKeywords), &a.NoteKeywords); err != nil {
		return a, fmt.Errorf("agent %s note keywords: %w", row.ID, err)
	}
	return a, nil
}

func (r *agentRepo) List(ctx context.Context) ([]domain.Agent, error) {
	var rows []agentRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT * FROM agents ORDER BY id`); err != nil {
		return nil, fmt.Errorf("agentRepo.List: %w", err)
	}
	agents := make([]domain.Agent, 0, len(rows))
	for _, row := range rows {
		a, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("agentRepo.List: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, nil
}

func (r *agentRepo) Upsert(ctx context.Context, a *domain.Agent) error {
	sections, err := json.Marshal(a.Sections)
	if err != nil {
		return err
	}
	fields, err := json.Marshal(a.ExpectedFields)
	if err != nil {
		return err
	}
	keywords := a.NoteKeywords
	if keywords == nil {
		keywords = []string{}
	}
	kw, err := json.Marshal(keywords)
	if err != nil {
		return err
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(
		`INSERT INTO agents (id, sections, base_prompt, expected_fields, confidence_threshold, note_keywords, prompt_hash, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   sections = excluded.sections,
		   base_prompt = excluded.base_prompt,
		   expected_fields = excluded.expected_fields,
		   confidence_threshold = excluded.confidence_threshold,
		   note_keywords = excluded.note_keywords,
		   prompt_hash = excluded.prompt_hash,
		   updated_at = excluded.updated_at`),
		a.ID, string(sections), a.BasePrompt, string(fields), a.ConfidenceThreshold, string(kw), a.PromptHash, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("agentRepo.Upsert: %w", err)
	}
	return nil
}

// UpdateBasePrompt records the prompt hash in agent_prompt_history and only rewrites the
// agent when the hash is new for it.
func (r *agentRepo) UpdateBasePrompt(ctx context.Context, agentID, prompt, promptHash string) (bool, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("agentRepo.UpdateBasePrompt begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, tx.Rebind(
		`INSERT INTO agent_prompt_history (agent_id, prompt_hash, prompt, applied_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (agent_id, prompt_hash) DO NOTHING`),
		agentID, promptHash, prompt, now)
	if err != nil {
		return false, fmt.Errorf("agentRepo.UpdateBasePrompt history: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, tx.Rebind(
		`UPDATE agents SET base_prompt = ?, prompt_hash = ?, updated_at = ? WHERE id = ?`),
		prompt, promptHash, now, agentID)
	if err != nil {
		return false, fmt.Errorf("agentRepo.UpdateBasePrompt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("agentRepo.UpdateBasePrompt %s: %w", agentID, domain.ErrNotFound)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("agentRepo.UpdateBasePrompt commit: %w", err)
	}
	return true, nil
}
