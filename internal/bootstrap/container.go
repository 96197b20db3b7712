package bootstrap

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	chclient "marketpulse/internal/adapters/clickhouse"
	"marketpulse/internal/adapters/config"
	"marketpulse/internal/adapters/gdelt"
	"marketpulse/internal/adapters/kafka"
	pgclient "marketpulse/internal/adapters/postgres"
	redisclient "marketpulse/internal/adapters/redis"
	"marketpulse/internal/api"
	"marketpulse/internal/api/health"
	"marketpulse/internal/cache"
	"marketpulse/internal/domain/market_data"
	"marketpulse/internal/domain/sentiment"
	"marketpulse/internal/domain/signal"
	"marketpulse/internal/ingest"
	"marketpulse/internal/pipeline"
	chrepo "marketpulse/internal/repository/clickhouse"
	"marketpulse/internal/scoring"
	"marketpulse/internal/signals"
	"marketpulse/internal/stream"
	"marketpulse/internal/workers"
	"marketpulse/internal/workers/news"
	chbatch "marketpulse/pkg/clickhouse"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
)

// Container holds all application dependencies and their lifecycle
// Components are organized in initialization order
type Container struct {
	// Core configuration & logging
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker
	Clock        clockwork.Clock

	// Infrastructure Layer (Data stores). CH is nil when the archive is disabled.
	PG    *pgclient.Client
	CH    *chclient.Client
	Redis *redisclient.Client

	Repos       *Repositories
	Adapters    *Adapters
	Core        *Core
	Application *Application
	Background  *Background

	// Lifecycle management
	Lifecycle *Lifecycle
	WG        *sync.WaitGroup
	Context   context.Context
	Cancel    context.CancelFunc
}

// Repositories groups all domain repositories
type Repositories struct {
	Articles   sentiment.ArticleRepository
	Sentiments sentiment.Repository
	Signals    signal.Repository
	Alerts     signal.AlertRepository
	Quotes     *chrepo.QuoteRepository // nil when ClickHouse is disabled
}

// Adapters groups all external adapters
type Adapters struct {
	Cache         cache.Cache
	KafkaProducer *kafka.Producer // nil when Kafka is disabled
	GDELT         *gdelt.Client
	QuoteArchive  *chbatch.BatchWriter[market_data.Quote]
	Scorer        scoring.Scorer
	ONNXScorer    *scoring.ONNXScorer // set only when a model is configured
}

// Core groups the quote processing chain
type Core struct {
	Engine      *signals.Engine
	Policies    *signals.PolicyBook
	Broadcaster *stream.Broadcaster
	Pipeline    *pipeline.Pipeline
}

// Application groups application layer components
type Application struct {
	HTTPServer    *api.Server
	HealthHandler *health.Handler
}

// Background groups all background processing components
type Background struct {
	Sources         *ingest.Supervisor
	WorkerScheduler *workers.Scheduler
	NewsIngestor    *news.Ingestor
}

// NewContainer creates a new dependency container
func NewContainer() *Container {
	ctx, cancel := context.WithCancel(context.Background())

	return &Container{
		Clock:       clockwork.NewRealClock(),
		Repos:       &Repositories{},
		Adapters:    &Adapters{},
		Core:        &Core{},
		Application: &Application{},
		Background:  &Background{},
		Lifecycle:   NewLifecycle(),
		WG:          &sync.WaitGroup{},
		Context:     ctx,
		Cancel:      cancel,
	}
}

// MustInit initializes all components in the correct order
// Panics on any initialization error (fail-fast at startup)
func (c *Container) MustInit() {
	c.MustInitConfig()
	c.MustInitInfrastructure()
	c.MustInitRepositories()
	c.MustInitAdapters()
	c.MustInitCore()
	c.MustInitBackground()
	c.MustInitApplication()
}

// Start starts all background components
func (c *Container) Start() error {
	c.Log.Info("Starting all systems...")

	if c.Adapters.QuoteArchive != nil {
		c.Adapters.QuoteArchive.Start(c.Context)
		c.Log.Info("✓ Quote archive writer started")
	}

	if err := c.Background.Sources.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start sources")
	}
	c.Log.Infow("✓ Sources started",
		"sources", c.Config.Sources.Enabled,
		"mode", c.Config.Sources.Mode,
	)

	if err := c.Background.WorkerScheduler.Start(c.Context); err != nil {
		return errors.Wrap(err, "failed to start workers")
	}

	// Start HTTP server
	c.WG.Add(1)
	go func() {
		defer c.WG.Done()
		if err := c.Application.HTTPServer.Start(); err != nil {
			c.Log.Errorf("HTTP server failed: %v", err)
			c.Cancel() // Trigger shutdown on fatal HTTP error
		}
	}()

	c.Log.Info("✓ All systems operational")
	return nil
}

// Shutdown performs graceful shutdown in the correct order
func (c *Container) Shutdown() {
	c.Log.Info("Initiating graceful shutdown...")

	c.Cancel()

	c.Lifecycle.Shutdown(
		c.WG,
		c.Background.Sources,
		c.Core.Broadcaster,
		c.Application.HTTPServer,
		c.Background.WorkerScheduler,
		c.Adapters.QuoteArchive,
		c.Adapters.KafkaProducer,
		c.Adapters.ONNXScorer,
		c.PG,
		c.CH,
		c.Redis,
		c.ErrorTracker,
		c.Log,
	)
}
