package bootstrap

import (
	"github.com/jonboulle/clockwork"

	"marketpulse/internal/workers"
	"marketpulse/internal/workers/news"
	"marketpulse/pkg/logger"
)

// provideNewsIngestor wires the GDELT ingestion job into the pipeline's
// sentiment history
func provideNewsIngestor(c *Container) *news.Ingestor {
	cfg := news.Config{
		Searcher:       c.Adapters.GDELT,
		Articles:       c.Repos.Articles,
		Sentiments:     c.Repos.Sentiments,
		Cache:          c.Adapters.Cache,
		Scorer:         c.Adapters.Scorer,
		Sink:           c.Core.Pipeline,
		Keywords:       c.Config.News.Keywords,
		Interval:       c.Config.News.Interval,
		Lookback:       c.Config.News.Lookback,
		FingerprintTTL: c.Config.News.FingerprintTTL,
		Enabled:        c.Config.News.Enabled,
		Clock:          c.Clock,
	}
	if c.Adapters.KafkaProducer != nil {
		cfg.Events = c.Adapters.KafkaProducer
	}
	return news.NewIngestor(cfg, c.Log)
}

// provideWorkers registers the scheduled jobs
func provideWorkers(clock clockwork.Clock, log *logger.Logger, ws ...workers.Worker) *workers.Scheduler {
	log.Info("Initializing workers...")

	scheduler := workers.NewScheduler(clock, log)
	for _, w := range ws {
		scheduler.RegisterWorker(w)
	}

	log.Infof("✓ Workers initialized (%d registered)", len(ws))
	return scheduler
}
