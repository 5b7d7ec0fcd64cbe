package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"finrep/internal/domain"
)

// AgentRegistryFile is the on-disk shape of the agent registry.
type AgentRegistryFile struct {
	Agents []domain.Agent `yaml:"agents"`
}

// LoadAgents reads the agent registry YAML at path.
func LoadAgents(path string) ([]domain.Agent, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading agent registry %s: %w", path, err)
	}
	return ParseAgents(raw)
}

// ParseAgents decodes an agent registry document.
func ParseAgents(raw []byte) ([]domain.Agent, error) {
	var file AgentRegistryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decoding agent registry: %w", err)
	}
	for i := range file.Agents {
		for j, k := range file.Agents[i].Sections {
			kind, ok := domain.ParseSectionKind(string(k))
			if !ok {
				return nil, fmt.Errorf("agent %s: unknown section kind %q", file.Agents[i].ID, k)
			}
			file.Agents[i].Sections[j] = kind
		}
	}
	return file.Agents, nil
}
