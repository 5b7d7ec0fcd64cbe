package llm

import (
	"fmt"
	"sort"
	"sync"

	"finrep/internal/config"
	"finrep/internal/port"
)

// ProviderFactory creates a ModelClient from a backend config.
type ProviderFactory func(cfg *config.BackendConfig) (port.ModelClient, error)

var (
	providersMu sync.RWMutex
	providers   = map[string]ProviderFactory{}
)

// RegisterProvider registers a model provider factory by name.
func RegisterProvider(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// Providers lists registered provider names.
func Providers() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for n := range providers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewClient creates a ModelClient from a backend config using the registered factory.
func NewClient(cfg *config.BackendConfig) (port.ModelClient, error) {
	providersMu.RLock()
	factory, ok := providers[cfg.Provider]
	providersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown model provider: %s", cfg.Provider)
	}
	return factory(cfg)
}
