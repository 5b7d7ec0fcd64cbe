// Package agent holds the in-memory agent registry and its single prompt-update path.
package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"finrep/internal/domain"
	"finrep/internal/port"
)

// Registry serves agent definitions to runs. Runs read snapshots; only coaching writes,
// through EvolvePrompt.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*domain.Agent
	order  []string
	repo   port.AgentRepository
	now    func() time.Time
}

// NewRegistry builds a registry from agents. repo may be nil, in which case evolved prompts
// live only for the lifetime of the process.
func NewRegistry(agents []domain.Agent, repo port.AgentRepository) *Registry {
	r := &Registry{
		agents: make(map[string]*domain.Agent, len(agents)),
		repo:   repo,
		now:    time.Now,
	}
	for i := range agents {
		a := agents[i]
		if a.PromptHash == "" {
			a.PromptHash = PromptHash(a.BasePrompt)
		}
		if _, dup := r.agents[a.ID]; !dup {
			r.order = append(r.order, a.ID)
		}
		r.agents[a.ID] = &a
	}
	return r
}

// Load reads agents from the repository, seeding it with defaults when it is empty.
func Load(ctx context.Context, repo port.AgentRepository, defaults []domain.Agent) (*Registry, error) {
	stored, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	if len(stored) == 0 {
		if err := Seed(ctx, repo, defaults); err != nil {
			return nil, err
		}
		stored = defaults
	}
	return NewRegistry(stored, repo), nil
}

// Seed upserts every agent into the repository.
func Seed(ctx context.Context, repo port.AgentRepository, agents []domain.Agent) error {
	for i := range agents {
		a := agents[i]
		if a.PromptHash == "" {
			a.PromptHash = PromptHash(a.BasePrompt)
		}
		if err := repo.Upsert(ctx, &a); err != nil {
			return fmt.Errorf("seeding agent %s: %w", a.ID, err)
		}
	}
	zap.L().Info("agent.Seed: seeded agent registry", zap.Int("agents", len(agents)))
	return nil
}

// Snapshot returns a copy of every agent in registration order.
func (r *Registry) Snapshot() []domain.Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneAgent(r.agents[id]))
	}
	return out
}

// Get returns a copy of one agent.
func (r *Registry) Get(id string) (domain.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	if !ok {
		return domain.Agent{}, false
	}
	return cloneAgent(a), true
}

// EvolvePrompt replaces an agent's base prompt for future documents. It returns false
// without writing when the prompt's hash is already the agent's current one or was already
// applied in the store.
func (r *Registry) EvolvePrompt(ctx context.Context, agentID, prompt string) (bool, error) {
	hash := PromptHash(prompt)

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return false, fmt.Errorf("%w: %s", domain.ErrUnknownAgent, agentID)
	}
	if a.PromptHash == hash {
		return false, nil
	}

	if r.repo != nil {
		updated, err := r.repo.UpdateBasePrompt(ctx, agentID, prompt, hash)
		if err != nil {
			return false, fmt.Errorf("storing evolved prompt for %s: %w", agentID, err)
		}
		if !updated {
			return false, nil
		}
	}

	a.BasePrompt = prompt
	a.PromptHash = hash
	a.UpdatedAt = r.now().UTC()
	zap.L().Info("agent.Registry: evolved base prompt",
		zap.String("agent", agentID),
		zap.String("prompt_hash", hash))
	return true, nil
}

// PromptHash is the deduplication key for prompt updates.
func PromptHash(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:])
}

func cloneAgent(a *domain.Agent) domain.Agent {
	c := *a
	c.Sections = append([]domain.SectionKind(nil), a.Sections...)
	c.ExpectedFields = append([]string(nil), a.ExpectedFields...)
	c.NoteKeywords = append([]string(nil), a.NoteKeywords...)
	return c
}
