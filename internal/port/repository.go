package port

import (
	"context"

	"github.com/google/uuid"

	"finrep/internal/domain"
)

// AgentRepository persists the agent registry.
type AgentRepository interface {
	List(ctx context.Context) ([]domain.Agent, error)
	Upsert(ctx context.Context, agent *domain.Agent) error
	// UpdateBasePrompt stores a coached prompt. It returns false when the
	// prompt hash was already applied to this agent.
	UpdateBasePrompt(ctx context.Context, agentID, prompt, promptHash string) (bool, error)
}

// CoachingHistoryRepository is the append-only coaching log.
type CoachingHistoryRepository interface {
	// Append returns false when an entry with the same content hash already exists.
	Append(ctx context.Context, entry *domain.CoachingHistoryEntry) (bool, error)
	ListBySection(ctx context.Context, documentID string, section domain.SectionKind, agentID string) ([]domain.CoachingHistoryEntry, error)
}

// ReceiptRepository is the append-only receipt ledger.
type ReceiptRepository interface {
	Append(ctx context.Context, receipt *domain.Receipt) error
	ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.Receipt, error)
}

// RunRepository stores queued run requests and their results.
type RunRepository interface {
	Enqueue(ctx context.Context, req *domain.RunRequest) error
	ClaimQueued(ctx context.Context, limit int) ([]domain.RunRequest, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*domain.RunRequest, error)
	// MarkRequest moves a claimed request to status, recording lastError when non-empty.
	MarkRequest(ctx context.Context, id uuid.UUID, status domain.RunStatus, lastError string) error
	SaveResult(ctx context.Context, result *domain.RunResult) error
	GetResult(ctx context.Context, id uuid.UUID) (*domain.RunResult, error)
}
