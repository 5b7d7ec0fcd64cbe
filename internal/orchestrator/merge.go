package orchestrator

import (
	"reflect"
	"sort"
	"strings"

	"finrep/internal/domain"
	"finrep/internal/tree"
)

// Contribution is one agent's final tree.
type Contribution struct {
	AgentID string
	Data    map[string]any
}

// Merger folds contributions into one tree. Contributions must arrive in priority order:
// the first writer of a scalar keeps it.
type Merger struct {
	tree      map[string]any
	owners    map[string]string
	conflicts []domain.MergeConflict
}

func NewMerger() *Merger {
	return &Merger{tree: map[string]any{}, owners: map[string]string{}}
}

// Add merges c into the tree. Maps merge by key, lists concatenate, and a differing scalar
// already present is kept and recorded as a conflict.
func (m *Merger) Add(c Contribution) {
	m.mergeMap(m.tree, c.Data, "", c.AgentID)
}

func (m *Merger) Tree() map[string]any {
	return m.tree
}

func (m *Merger) Conflicts() []domain.MergeConflict {
	return m.conflicts
}

func (m *Merger) mergeMap(dst, src map[string]any, prefix, agentID string) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sv := src[k]
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		dv, exists := dst[k]
		if !exists {
			dst[k] = tree.DeepCopy(sv)
			m.owners[path] = agentID
			continue
		}
		switch d := dv.(type) {
		case map[string]any:
			if s, ok := sv.(map[string]any); ok {
				m.mergeMap(d, s, path, agentID)
				continue
			}
		case []any:
			if s, ok := sv.([]any); ok {
				dst[k] = append(d, tree.DeepCopy(s).([]any)...)
				continue
			}
		}
		if reflect.DeepEqual(dv, sv) {
			continue
		}
		m.conflicts = append(m.conflicts, domain.MergeConflict{
			Path:         path,
			KeptAgent:    m.ownerOf(path),
			DroppedAgent: agentID,
		})
	}
}

// ownerOf finds the agent that wrote path or its closest ancestor.
func (m *Merger) ownerOf(path string) string {
	for {
		if owner, ok := m.owners[path]; ok {
			return owner
		}
		i := strings.LastIndex(path, ".")
		if i < 0 {
			return ""
		}
		path = path[:i]
	}
}

// DeepMerge merges contributions in the given order and returns the tree and conflicts.
func DeepMerge(contributions []Contribution) (map[string]any, []domain.MergeConflict) {
	m := NewMerger()
	for _, c := range contributions {
		m.Add(c)
	}
	return m.Tree(), m.Conflicts()
}
