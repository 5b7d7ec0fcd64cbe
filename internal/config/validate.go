package config

import (
	"fmt"
	"strings"

	"finrep/internal/domain"
)

// RequiredSections must be served by at least one agent.
var RequiredSections = []domain.SectionKind{
	domain.SectionManagementReport,
	domain.SectionIncomeStatement,
	domain.SectionBalanceSheet,
	domain.SectionNotes,
}

// localProviders do not need an API key.
var localProviders = map[string]bool{"local": true, "ollama": true}

// Validate is the startup preflight. It reports every problem found, not just the first.
func (c *Config) Validate(agents []domain.Agent) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		add("store.driver %q must be postgres or sqlite", c.Store.Driver)
	}

	if !c.Backends.Primary.Configured() {
		add("backends.primary.provider is required")
	}
	for i, b := range c.Backends.Ordered() {
		checkBackend(fmt.Sprintf("backends[%d]", i), b, add)
	}
	if !c.Evaluator.Configured() {
		add("evaluator.provider is required")
	} else {
		checkBackend("evaluator", &c.Evaluator, add)
	}

	if c.Receipts.SigningSecret == "" {
		add("receipts.signing_secret is required")
	}
	switch c.Classifier.Strategy {
	case "keyword", "vision":
	default:
		add("classifier.strategy %q must be keyword or vision", c.Classifier.Strategy)
	}
	if c.Coaching.MaxRounds < 1 {
		add("coaching.max_rounds must be at least 1")
	}
	if c.Coaching.TargetAccuracy <= 0 || c.Coaching.TargetAccuracy > 1 {
		add("coaching.target_accuracy must be in (0, 1]")
	}
	if c.Orchestrator.MaxParallelAgents < 1 {
		add("orchestrator.max_parallel_agents must be at least 1")
	}
	if c.Orchestrator.CallTimeoutSecs < 1 {
		add("orchestrator.call_timeout_secs must be at least 1")
	}
	if c.Gate.RelTolerance < 0 || c.Gate.AbsTolerance < 0 {
		add("gate tolerances must not be negative")
	}
	switch c.Notify.Provider {
	case "noop":
	case "ses":
		if c.Notify.FromAddress == "" || len(c.Notify.Recipients) == 0 {
			add("notify: ses needs from_address and recipients")
		}
	default:
		add("notify.provider %q must be noop or ses", c.Notify.Provider)
	}

	problems = append(problems, ValidateAgents(agents)...)

	if len(problems) > 0 {
		return &domain.ConfigurationError{Problems: problems}
	}
	return nil
}

func checkBackend(name string, b *BackendConfig, add func(string, ...any)) {
	if b.APIKey == "" && !b.Local && !localProviders[b.Provider] {
		add("%s (%s): api_key is required for remote providers", name, b.Provider)
	}
	if b.Local && b.BaseURL == "" {
		add("%s (%s): base_url is required for local backends", name, b.Provider)
	}
}

// ValidateAgents checks the registry for missing or malformed agents.
func ValidateAgents(agents []domain.Agent) []string {
	var problems []string
	if len(agents) == 0 {
		return []string{"agent registry is empty"}
	}
	seen := map[string]bool{}
	covered := map[domain.SectionKind]bool{}
	for _, a := range agents {
		if a.ID == "" {
			problems = append(problems, "agent with empty id")
			continue
		}
		if seen[a.ID] {
			problems = append(problems, fmt.Sprintf("duplicate agent id %s", a.ID))
		}
		seen[a.ID] = true
		if strings.TrimSpace(a.BasePrompt) == "" {
			problems = append(problems, fmt.Sprintf("agent %s has no prompt", a.ID))
		}
		if len(a.ExpectedFields) == 0 {
			problems = append(problems, fmt.Sprintf("agent %s has no expected fields", a.ID))
		}
		if len(a.Sections) == 0 {
			problems = append(problems, fmt.Sprintf("agent %s declares no sections", a.ID))
		}
		if a.ConfidenceThreshold < 0 || a.ConfidenceThreshold > 1 {
			problems = append(problems, fmt.Sprintf("agent %s confidence_threshold out of range", a.ID))
		}
		for _, k := range a.Sections {
			if !k.Valid() {
				problems = append(problems, fmt.Sprintf("agent %s: unknown section %q", a.ID, k))
				continue
			}
			covered[k] = true
		}
	}
	for _, k := range RequiredSections {
		if !covered[k] {
			problems = append(problems, fmt.Sprintf("no agent handles section %s", k))
		}
	}
	return problems
}
