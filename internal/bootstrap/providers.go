package bootstrap

import (
	"context"

	"github.com/jonboulle/clockwork"

	chclient "marketpulse/internal/adapters/clickhouse"
	"marketpulse/internal/adapters/config"
	errnoop "marketpulse/internal/adapters/errors/noop"
	"marketpulse/internal/adapters/errors/sentry"
	"marketpulse/internal/adapters/gdelt"
	"marketpulse/internal/adapters/kafka"
	pgclient "marketpulse/internal/adapters/postgres"
	redisclient "marketpulse/internal/adapters/redis"
	"marketpulse/internal/api"
	"marketpulse/internal/api/health"
	"marketpulse/internal/cache"
	"marketpulse/internal/domain/market_data"
	"marketpulse/internal/features"
	"marketpulse/internal/ingest"
	"marketpulse/internal/metrics"
	"marketpulse/internal/pipeline"
	chrepo "marketpulse/internal/repository/clickhouse"
	pgrepo "marketpulse/internal/repository/postgres"
	"marketpulse/internal/scoring"
	"marketpulse/internal/signals"
	"marketpulse/internal/stream"
	"marketpulse/internal/version"
	chbatch "marketpulse/pkg/clickhouse"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
)

// ========================================
// Phase 1: Configuration & Logging
// ========================================

// MustInitConfig loads configuration and initializes logger
func (c *Container) MustInitConfig() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}
	c.Config = cfg

	if err := logger.Init(cfg.App.LogLevel, cfg.App.Env); err != nil {
		panic("failed to init logger: " + err.Error())
	}

	c.Log = logger.Get()
	c.Log.Infof("Starting %s %s in %s mode", cfg.App.Name, version.Version, cfg.App.Env)

	c.ErrorTracker = provideErrorTracker(cfg, c.Log)
	logger.SetErrorTracker(c.ErrorTracker)

	metrics.Init()
}

// ========================================
// Phase 2: Infrastructure Layer
// ========================================

// MustInitInfrastructure connects the data stores and applies their schemas
func (c *Container) MustInitInfrastructure() {
	var err error

	// PostgreSQL
	c.Log.Info("Connecting to PostgreSQL...")
	c.PG, err = pgclient.NewClient(c.Context, c.Config.Postgres)
	if err != nil {
		c.Log.Fatalf("failed to connect postgres: %v", err)
	}
	if err := pgrepo.EnsureSchema(c.Context, c.PG.DB()); err != nil {
		c.Log.Fatalf("failed to apply postgres schema: %v", err)
	}
	c.Log.Info("✓ PostgreSQL connected")

	// ClickHouse (optional quote archive)
	if c.Config.ClickHouse.Enabled {
		c.Log.Info("Connecting to ClickHouse...")
		c.CH, err = chclient.NewClient(c.Context, c.Config.ClickHouse)
		if err != nil {
			c.Log.Fatalf("failed to connect clickhouse: %v", err)
		}
		c.Log.Info("✓ ClickHouse connected")
	} else {
		c.Log.Info("ClickHouse disabled, quotes will not be archived")
	}

	// Redis. A missing cache degrades to the in-process one.
	c.Log.Info("Connecting to Redis...")
	c.Redis, err = redisclient.NewClient(c.Context, c.Config.Redis)
	if err != nil {
		c.Log.Warnw("Redis unavailable, falling back to in-memory cache", "error", err)
		c.Redis = nil
	} else {
		c.Log.Info("✓ Redis connected")
	}
}

// ========================================
// Phase 3: Repositories
// ========================================

// MustInitRepositories initializes all domain repositories
func (c *Container) MustInitRepositories() {
	db := c.PG.DB()
	c.Repos.Articles = pgrepo.NewArticleRepository(db)
	c.Repos.Sentiments = pgrepo.NewSentimentRepository(db)
	c.Repos.Signals = pgrepo.NewSignalRepository(db)
	c.Repos.Alerts = pgrepo.NewAlertRepository(db)

	if c.CH != nil {
		c.Repos.Quotes = chrepo.NewQuoteRepository(c.CH.Conn(), chrepo.DefaultQuotesTable)
		if err := c.Repos.Quotes.EnsureSchema(c.Context); err != nil {
			c.Log.Fatalf("failed to apply clickhouse schema: %v", err)
		}
	}

	metrics.RegisterStoreCollector(metrics.NewStoreCollector(c.Log, db))

	c.Log.Info("✓ Repositories initialized")
}

// ========================================
// Phase 4: External Adapters
// ========================================

// MustInitAdapters initializes cache, Kafka, GDELT, archive and scorer
func (c *Container) MustInitAdapters() {
	c.Adapters.Cache = provideCache(c.Redis, c.Clock)
	c.Adapters.KafkaProducer = provideKafkaProducer(c.Config, c.Log)
	c.Adapters.GDELT = gdelt.NewClient(gdelt.Config{
		BaseURL:    c.Config.News.GDELTURL,
		MaxRecords: c.Config.News.MaxRecords,
		Timeout:    c.Config.News.RequestTimeout,
	})

	if c.Repos.Quotes != nil {
		c.Adapters.QuoteArchive = provideQuoteArchive(c.Config.ClickHouse, c.Repos.Quotes, c.Log)
	}

	c.Adapters.Scorer = scoring.NewKeywordScorer()
	if path := c.Config.News.ONNXModelPath; path != "" {
		onnx, err := scoring.NewONNXScorer(path)
		if err != nil {
			c.Log.Warnw("ONNX scorer unavailable, using keyword scorer", "model", path, "error", err)
		} else {
			c.Adapters.ONNXScorer = onnx
			c.Adapters.Scorer = onnx
			c.Log.Infow("✓ ONNX scorer loaded", "model", path)
		}
	}

	c.Log.Info("✓ Adapters initialized")
}

// ========================================
// Phase 5: Quote processing chain
// ========================================

// MustInitCore builds the extractor, engine, policies, broadcaster and pipeline
func (c *Container) MustInitCore() {
	c.Core.Engine = signals.NewEngine(signals.Config{
		SentimentThreshold:   c.Config.Signals.SentimentThreshold,
		MomentumThreshold:    c.Config.Signals.MomentumThreshold,
		VolatilityMin:        c.Config.Signals.VolatilityMin,
		VolatilityMax:        c.Config.Signals.VolatilityMax,
		Cooldown:             c.Config.Signals.Cooldown,
		EnableRiskAdjustment: c.Config.Signals.EnableRiskAdjustment,
		EnableMultiTimeframe: c.Config.Signals.EnableMultiTimeframe,
	})

	c.Core.Policies = signals.NewPolicyBook()
	if err := c.Core.Policies.Load(c.Context, c.Repos.Alerts); err != nil {
		c.Log.Warnw("Failed to load alert policies", "error", err)
	}

	c.Core.Broadcaster = stream.NewBroadcaster(c.Log,
		stream.WithClock(c.Clock),
		stream.WithPingInterval(c.Config.Stream.PingInterval),
		stream.WithBufferSize(c.Config.Stream.BufferSize),
	)

	pcfg := pipeline.Config{
		Extractor:   features.NewExtractor(c.Config.Features.HistoryWindow, c.Config.Features.SentimentCapacity),
		Engine:      c.Core.Engine,
		Policies:    c.Core.Policies,
		Broadcaster: c.Core.Broadcaster,
		Signals:     c.Repos.Signals,
	}
	// Typed nils must not reach the interface fields
	if c.Adapters.KafkaProducer != nil {
		pcfg.Events = c.Adapters.KafkaProducer
	}
	if c.Adapters.QuoteArchive != nil {
		pcfg.Archive = c.Adapters.QuoteArchive
	}
	c.Core.Pipeline = pipeline.New(pcfg, c.Log)

	c.Log.Infow("✓ Pipeline initialized", "alert_policies", c.Core.Policies.Len())
}

// ========================================
// Phase 6: Background processing
// ========================================

// MustInitBackground builds the source supervisor and the worker scheduler
func (c *Container) MustInitBackground() {
	runners, err := ingest.BuildRunners(c.Config.Sources, c.Adapters.Cache, c.Core.Pipeline, c.Clock, c.Log)
	if err != nil {
		c.Log.Fatalf("failed to build sources: %v", err)
	}
	c.Background.Sources, err = ingest.NewSupervisor(runners, c.Log)
	if err != nil {
		c.Log.Fatalf("failed to create source supervisor: %v", err)
	}

	c.Background.NewsIngestor = provideNewsIngestor(c)
	c.Background.WorkerScheduler = provideWorkers(c.Clock, c.Log, c.Background.NewsIngestor)
}

// ========================================
// Phase 7: Application Layer
// ========================================

// MustInitApplication initializes health checks and the HTTP server
func (c *Container) MustInitApplication() {
	h := health.New(c.Log, c.Clock, c.Config.App.Name, version.Version)
	h.Register("postgres", c.PG)
	if c.CH != nil {
		h.Register("clickhouse", c.CH)
	}
	if c.Redis != nil {
		h.Register("redis", c.Redis)
	}
	sources := c.Background.Sources
	h.Register("sources", health.CheckerFunc(func(context.Context) error {
		if !sources.Healthy() {
			return errors.Wrap(errors.ErrSourceFailed, "no live sources")
		}
		return nil
	}))
	c.Application.HealthHandler = h

	handlers := api.NewHandlers(api.HandlersConfig{
		Signals:    c.Repos.Signals,
		Alerts:     c.Repos.Alerts,
		Articles:   c.Repos.Articles,
		Sentiments: c.Repos.Sentiments,
		Policies:   c.Core.Policies,
		Sources:    sources,
		Build:      version.Get(c.Config.App.Env),
		Clock:      c.Clock,
	}, c.Log)

	c.Application.HTTPServer = api.NewServer(api.ServerConfig{
		Port:        c.Config.HTTP.Port,
		ServiceName: c.Config.App.Name,
		Version:     version.Version,
		ReadTimeout: c.Config.HTTP.ReadTimeout,
		IdleTimeout: c.Config.HTTP.IdleTimeout,
		Stream:      stream.NewHandler(c.Core.Broadcaster, c.Config.Stream.DefaultSymbols, c.Log),
	}, h, handlers, c.Log)
}

// ========================================
// Providers
// ========================================

func provideErrorTracker(cfg *config.Config, log *logger.Logger) errors.Tracker {
	if !cfg.ErrorTracking.Enabled || cfg.ErrorTracking.SentryDSN == "" {
		log.Info("Error tracking disabled")
		return errnoop.New()
	}

	tracker, err := sentry.New(sentry.Options{
		DSN:         cfg.ErrorTracking.SentryDSN,
		Environment: cfg.ErrorTracking.Environment,
		Release:     version.Version,
		SampleRate:  cfg.ErrorTracking.SampleRate,
	})
	if err != nil {
		log.Warnf("Failed to initialize Sentry: %v", err)
		return errnoop.New()
	}

	log.Info("✓ Error tracking initialized (Sentry)")
	return tracker
}

func provideCache(client *redisclient.Client, clock clockwork.Clock) cache.Cache {
	if client == nil {
		return cache.NewMemoryCache(clock)
	}
	return cache.NewRedisCache(client.Client(), "redis")
}

func provideKafkaProducer(cfg *config.Config, log *logger.Logger) *kafka.Producer {
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) == 0 {
		log.Info("Kafka disabled, events will not be published")
		return nil
	}
	return kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      cfg.Kafka.Brokers,
		Async:        cfg.Kafka.Async,
		WriteTimeout: cfg.Kafka.WriteTimeout,
		Encoding:     cfg.Kafka.Encoding,
	}, log)
}

func provideQuoteArchive(cfg config.ClickHouseConfig, repo *chrepo.QuoteRepository, log *logger.Logger) *chbatch.BatchWriter[market_data.Quote] {
	return chbatch.NewBatchWriter(chbatch.BatchWriterConfig[market_data.Quote]{
		FlushFunc:    repo.InsertQuotes,
		TableName:    chrepo.DefaultQuotesTable,
		MaxBatchSize: cfg.BatchSize,
		MaxAge:       cfg.FlushInterval,
	}, log)
}
