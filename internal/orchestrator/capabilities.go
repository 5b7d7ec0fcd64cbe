package orchestrator

import (
	"sort"
	"strings"

	"finrep/internal/domain"
)

// Capabilities maps each section kind to the agents that handle it, ordered by priority.
// It is built once per run from the registry snapshot.
type Capabilities struct {
	bySection map[domain.SectionKind][]domain.Agent
	rank      map[string]int
	// noteAgents carry note keywords; noteFallback handles note pages no keyword matched.
	noteAgents   []domain.Agent
	noteFallback *domain.Agent
}

// BuildCapabilities orders agents by their position in priority. Agents missing from the
// list rank after listed ones, in registry order.
func BuildCapabilities(agents []domain.Agent, priority []string) *Capabilities {
	c := &Capabilities{
		bySection: make(map[domain.SectionKind][]domain.Agent),
		rank:      make(map[string]int, len(agents)),
	}
	for i, id := range priority {
		if _, ok := c.rank[id]; !ok {
			c.rank[id] = i
		}
	}
	next := len(priority)
	for _, a := range agents {
		if _, ok := c.rank[a.ID]; !ok {
			c.rank[a.ID] = next
			next++
		}
	}

	ordered := append([]domain.Agent(nil), agents...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return c.rank[ordered[i].ID] < c.rank[ordered[j].ID]
	})

	for _, a := range ordered {
		for _, kind := range a.Sections {
			if kind == domain.SectionNotes {
				continue
			}
			c.bySection[kind] = append(c.bySection[kind], a)
		}
		if a.HandlesSection(domain.SectionNotes) {
			if len(a.NoteKeywords) > 0 {
				c.noteAgents = append(c.noteAgents, a)
			} else if c.noteFallback == nil {
				fb := a
				c.noteFallback = &fb
			}
		}
	}
	return c
}

// ForSection returns the agents dispatched for a non-notes section.
func (c *Capabilities) ForSection(kind domain.SectionKind) []domain.Agent {
	return c.bySection[kind]
}

// Rank is the agent's merge priority; lower wins.
func (c *Capabilities) Rank(agentID string) int {
	if r, ok := c.rank[agentID]; ok {
		return r
	}
	return len(c.rank)
}

// HasNotes reports whether any agent handles notes pages.
func (c *Capabilities) HasNotes() bool {
	return len(c.noteAgents) > 0 || c.noteFallback != nil
}

// NoteAgentFor picks the note agent whose keywords best match a page's text. Ties go to the
// higher priority agent; no match falls back to the general notes agent.
func (c *Capabilities) NoteAgentFor(text string) (domain.Agent, bool) {
	lower := strings.ToLower(text)
	bestHits := 0
	var best *domain.Agent
	for i := range c.noteAgents {
		a := &c.noteAgents[i]
		hits := 0
		for _, kw := range a.NoteKeywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > bestHits {
			bestHits = hits
			best = a
		}
	}
	if best != nil {
		return *best, true
	}
	if c.noteFallback != nil {
		return *c.noteFallback, true
	}
	return domain.Agent{}, false
}
