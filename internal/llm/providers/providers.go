// Package providers registers the concrete model providers and assembles the decorated
// client chain used by the pipeline.
package providers

import (
	"fmt"
	"time"

	"finrep/internal/config"
	"finrep/internal/domain"
	"finrep/internal/llm"
	"finrep/internal/llm/claude"
	"finrep/internal/llm/gemini"
	"finrep/internal/llm/openai"
	"finrep/internal/metrics"
	"finrep/internal/port"
	"finrep/internal/receipt"
)

// RegisterAll registers every built-in provider with the llm factory.
func RegisterAll() {
	llm.RegisterProvider("claude", claude.Factory)
	llm.RegisterProvider("gemini", gemini.Factory)
	llm.RegisterProvider("openai", openai.Factory)
	llm.RegisterProvider("local", openai.Factory)
	llm.RegisterProvider("ollama", openai.Factory)
}

// ChainDeps are the shared collaborators of every backend chain.
type ChainDeps struct {
	Signer      *receipt.Signer
	Receipts    port.ReceiptRepository
	Metrics     *metrics.Metrics
	CallTimeout time.Duration
}

// Build wraps one backend as provider -> rate limit -> device lock -> receipt.
func Build(cfg *config.BackendConfig, deps ChainDeps) (port.ModelClient, error) {
	base, err := llm.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	var c port.ModelClient = llm.NewRateLimitedClient(base, cfg.RequestsPerMinute)
	transport := domain.TransportHTTP
	if cfg.Local {
		c = llm.NewDeviceLockedClient(c, cfg.BaseURL)
		transport = domain.TransportLocal
	}
	timeout := deps.CallTimeout
	if cfg.TimeoutSecs > 0 && (timeout == 0 || time.Duration(cfg.TimeoutSecs)*time.Second < timeout) {
		timeout = time.Duration(cfg.TimeoutSecs) * time.Second
	}
	return receipt.NewClient(c, deps.Signer, deps.Receipts, receipt.Options{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		Transport: transport,
		Timeout:   timeout,
		Metrics:   deps.Metrics,
	}), nil
}

// BuildFallback builds every configured backend and joins them in a FallbackClient.
// A single backend is returned unwrapped.
func BuildFallback(cfgs []*config.BackendConfig, deps ChainDeps) (port.ModelClient, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no model backends configured")
	}
	clients := make([]port.ModelClient, 0, len(cfgs))
	names := make([]string, 0, len(cfgs))
	for _, cfg := range cfgs {
		c, err := Build(cfg, deps)
		if err != nil {
			return nil, fmt.Errorf("building %s backend: %w", cfg.Provider, err)
		}
		clients = append(clients, c)
		names = append(names, cfg.Provider)
	}
	if len(clients) == 1 {
		return clients[0], nil
	}
	return llm.NewFallbackClient(clients, names), nil
}
