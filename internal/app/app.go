// Package app assembles the pipeline from configuration. Commands share it so the CLI and
// the API server run exactly the same wiring.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"finrep/internal/agent"
	"finrep/internal/classifier"
	"finrep/internal/coaching"
	"finrep/internal/config"
	"finrep/internal/domain"
	"finrep/internal/extraction"
	"finrep/internal/gate"
	"finrep/internal/headers"
	"finrep/internal/llm/providers"
	"finrep/internal/metrics"
	noopnotify "finrep/internal/notify/noop"
	sesnotify "finrep/internal/notify/ses"
	"finrep/internal/orchestrator"
	"finrep/internal/pdfpages"
	"finrep/internal/port"
	"finrep/internal/receipt"
	"finrep/internal/repository/sqlstore"
	"finrep/internal/service"
	s3storage "finrep/internal/storage/s3"
)

// App holds the long-lived collaborators of one process.
type App struct {
	Config   *config.Config
	DB       *sqlx.DB
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Agents   *agent.Registry
	Signer   *receipt.Signer
	Runs     port.RunRepository
	Receipts port.ReceiptRepository
	Service  service.RunService
}

// OpenStore connects to the configured SQL store and applies pending migrations.
func OpenStore(cfg *config.Config) (*sqlx.DB, error) {
	db, err := sqlstore.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := sqlstore.Migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Preflight loads the agent file and validates it together with cfg. It is the first thing
// every document-processing command does.
func Preflight(cfg *config.Config) ([]domain.Agent, error) {
	agents, err := config.LoadAgents(cfg.Agents.Path)
	if err != nil {
		return nil, &domain.ConfigurationError{Problems: []string{err.Error()}}
	}
	if err := cfg.Validate(agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// New wires the whole pipeline. Preflight must have passed.
func New(ctx context.Context, cfg *config.Config, defaults []domain.Agent) (*App, error) {
	db, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	a, err := build(ctx, cfg, db, defaults)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, db *sqlx.DB, defaults []domain.Agent) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	signer, err := receipt.NewSigner(cfg.Receipts.SigningSecret)
	if err != nil {
		return nil, err
	}

	agentRepo := sqlstore.NewAgentRepo(db)
	historyRepo := sqlstore.NewCoachingHistoryRepo(db)
	receiptRepo := sqlstore.NewReceiptRepo(db)
	runRepo := sqlstore.NewRunRepo(db)

	agents, err := agent.Load(ctx, agentRepo, defaults)
	if err != nil {
		return nil, fmt.Errorf("loading agents: %w", err)
	}

	providers.RegisterAll()
	deps := providers.ChainDeps{
		Signer:      signer,
		Receipts:    receiptRepo,
		Metrics:     m,
		CallTimeout: cfg.Orchestrator.CallTimeout(),
	}
	extractClient, err := providers.BuildFallback(cfg.Backends.Ordered(), deps)
	if err != nil {
		return nil, fmt.Errorf("building extraction backends: %w", err)
	}
	evalClient, err := providers.Build(&cfg.Evaluator, deps)
	if err != nil {
		return nil, fmt.Errorf("building evaluator backend: %w", err)
	}

	pages := pdfpages.NewSource()
	raster := pdfpages.NewRasterizer("", "")

	var strategy classifier.Strategy
	switch cfg.Classifier.Strategy {
	case "vision":
		strategy = classifier.NewVisionStrategy(extractClient, raster, cfg.Classifier.DPI)
	default:
		strategy = classifier.NewKeywordStrategy(pages)
	}
	cls := classifier.New(strategy, pages, headers.NewFilter(), cfg.Classifier.MinConfidence)

	loop := coaching.NewLoop(
		extraction.NewModelExtractor(extractClient, raster, cfg.Coaching.DPI),
		extraction.NewModelEvaluator(evalClient),
		historyRepo,
		agents,
		m,
		coaching.Options{
			MaxRounds:      cfg.Coaching.MaxRounds,
			TargetAccuracy: cfg.Coaching.TargetAccuracy,
			MinUseful:      cfg.Coaching.MinUseful,
		},
	)
	orch := orchestrator.New(loop, pages, m, orchestrator.Options{
		MaxParallelAgents: cfg.Orchestrator.MaxParallelAgents,
		AgentPriority:     cfg.Orchestrator.AgentPriority,
	})

	var objects port.ObjectStorage
	if cfg.S3.Bucket != "" || cfg.S3.Endpoint != "" {
		objects, err = s3storage.NewS3Client(ctx, &cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
		}
	}

	var notifier port.RunNotifier
	switch cfg.Notify.Provider {
	case "ses":
		notifier, err = sesnotify.NewSESNotifier(ctx, &cfg.Notify)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SES notifier: %w", err)
		}
	default:
		notifier = noopnotify.NewNoopNotifier(cfg.Notify.DashboardURL)
	}

	svc := service.NewRunService(service.RunServiceDeps{
		Fetcher:      s3storage.NewFetcher(objects, cfg.S3.Bucket),
		Classifier:   cls,
		Orchestrator: orch,
		Agents:       agents,
		Gate:         gate.New(cfg.Gate.RelTolerance, cfg.Gate.AbsTolerance),
		Runs:         runRepo,
		Receipts:     receiptRepo,
		Signer:       signer,
		Releasers:    []service.Releaser{pages, raster},
		Metrics:      m,
		Notifier:     notifier,
	})

	zap.L().Info("app.New: pipeline ready",
		zap.String("store", db.DriverName()),
		zap.String("classifier", strategy.Name()),
		zap.Int("agents", len(agents.Snapshot())),
	)

	return &App{
		Config:   cfg,
		DB:       db,
		Registry: reg,
		Metrics:  m,
		Agents:   agents,
		Signer:   signer,
		Runs:     runRepo,
		Receipts: receiptRepo,
		Service:  svc,
	}, nil
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}
