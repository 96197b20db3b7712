package bootstrap

import (
	"context"
	"sync"
	"time"

	chclient "marketpulse/internal/adapters/clickhouse"
	"marketpulse/internal/adapters/kafka"
	pgclient "marketpulse/internal/adapters/postgres"
	redisclient "marketpulse/internal/adapters/redis"
	"marketpulse/internal/api"
	"marketpulse/internal/domain/market_data"
	"marketpulse/internal/ingest"
	"marketpulse/internal/scoring"
	"marketpulse/internal/stream"
	"marketpulse/internal/workers"
	chbatch "marketpulse/pkg/clickhouse"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
)

// Lifecycle manages graceful startup and shutdown of components
type Lifecycle struct {
	shutdownTimeout time.Duration
}

// NewLifecycle creates a new lifecycle manager
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		shutdownTimeout: 60 * time.Second,
	}
}

// Shutdown performs coordinated cleanup of all components in order:
// 1. Sources stop, so no new quotes enter the pipeline
// 2. SSE subscribers are released and the HTTP server drains
// 3. Scheduled jobs finish
// 4. The quote archive flushes its last batch
// 5. Producer closes after everything that publishes
// 6. Logs and errors flushed
// 7. Database connections last (other components may need them)
func (l *Lifecycle) Shutdown(
	wg *sync.WaitGroup,
	sources *ingest.Supervisor,
	broadcaster *stream.Broadcaster,
	httpServer *api.Server,
	workerScheduler *workers.Scheduler,
	quoteArchive *chbatch.BatchWriter[market_data.Quote],
	kafkaProducer *kafka.Producer,
	onnxScorer *scoring.ONNXScorer,
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	errorTracker errors.Tracker,
	log *logger.Logger,
) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), l.shutdownTimeout)
	defer shutdownCancel()

	// ========================================
	// Step 1: Stop Sources
	// ========================================
	log.Info("[1/9] Stopping sources...")
	if sources != nil {
		if err := sources.Stop(); err != nil {
			log.Errorw("Sources shutdown failed", "error", err)
		} else {
			log.Info("✓ Sources stopped")
		}
	}

	// ========================================
	// Step 2: Release SSE subscribers, stop HTTP server (5s timeout)
	// ========================================
	log.Info("[2/9] Stopping HTTP server...")
	if broadcaster != nil {
		broadcaster.Close()
	}
	if httpServer != nil {
		httpCtx, httpCancel := context.WithTimeout(shutdownCtx, 5*time.Second)
		if err := httpServer.Shutdown(httpCtx); err != nil {
			log.Errorw("HTTP server shutdown failed", "error", err)
		}
		httpCancel()
	}

	// ========================================
	// Step 3: Stop Background Workers
	// ========================================
	log.Info("[3/9] Stopping background workers...")
	if workerScheduler != nil && workerScheduler.IsRunning() {
		if err := workerScheduler.Stop(); err != nil {
			log.Errorw("Workers shutdown failed", "error", err)
		} else {
			log.Info("✓ Workers stopped")
		}
	}

	// ========================================
	// Step 4: Flush Quote Archive
	// ========================================
	log.Info("[4/9] Flushing quote archive...")
	if quoteArchive != nil {
		flushCtx, flushCancel := context.WithTimeout(shutdownCtx, 10*time.Second)
		if err := quoteArchive.Stop(flushCtx); err != nil {
			log.Errorw("Quote archive flush failed", "error", err)
		} else {
			log.Infow("✓ Quote archive flushed", "stats", quoteArchive.GetStats())
		}
		flushCancel()
	}

	// ========================================
	// Step 5: Wait for Goroutines
	// ========================================
	log.Info("[5/9] Waiting for goroutines...")
	l.waitForGoroutines(wg, 5*time.Second, log)

	// ========================================
	// Step 6: Close Kafka Producer
	// ========================================
	log.Info("[6/9] Closing Kafka producer...")
	if kafkaProducer != nil {
		if err := kafkaProducer.Close(); err != nil {
			log.Errorw("Kafka producer close failed", "error", err)
		} else {
			log.Info("✓ Kafka producer closed")
		}
	}
	if onnxScorer != nil {
		onnxScorer.Close()
	}

	// ========================================
	// Step 7: Flush Error Tracker
	// ========================================
	log.Info("[7/9] Flushing error tracker...")
	l.flushErrorTracker(shutdownCtx, errorTracker, log)

	// ========================================
	// Step 8: Sync Logs
	// ========================================
	log.Info("[8/9] Syncing logs...")
	if err := logger.Sync(); err != nil {
		log.Warn("Log sync completed with warnings")
	}

	// ========================================
	// Step 9: Close Database Connections
	// LAST - other components may need them during shutdown
	// ========================================
	log.Info("[9/9] Closing database connections...")
	l.closeDatabases(pgClient, chClient, redisClient, log)

	log.Info("✅ Graceful shutdown complete")
}

// waitForGoroutines waits for all goroutines with a timeout
func (l *Lifecycle) waitForGoroutines(wg *sync.WaitGroup, timeout time.Duration, log *logger.Logger) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("✓ All goroutines finished")
	case <-time.After(timeout):
		log.Warnw("⚠ Some goroutines did not finish within timeout", "timeout", timeout)
	}
}

// flushErrorTracker flushes the error tracker (Sentry, etc.)
func (l *Lifecycle) flushErrorTracker(ctx context.Context, tracker errors.Tracker, log *logger.Logger) {
	if tracker == nil {
		return
	}

	flushCtx, flushCancel := context.WithTimeout(ctx, 3*time.Second)
	defer flushCancel()

	if err := tracker.Flush(flushCtx); err != nil {
		log.Errorw("Error tracker flush failed", "error", err)
	} else {
		log.Info("✓ Error tracker flushed")
	}
}

// closeDatabases closes all database connections
func (l *Lifecycle) closeDatabases(
	pgClient *pgclient.Client,
	chClient *chclient.Client,
	redisClient *redisclient.Client,
	log *logger.Logger,
) {
	errs := &errors.MultiError{}

	if pgClient != nil {
		if err := pgClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "postgres"))
		}
	}

	if chClient != nil {
		if err := chClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "clickhouse"))
		}
	}

	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			errs.Add(errors.Wrap(err, "redis"))
		}
	}

	if errs.HasErrors() {
		log.Errorw("Database close errors", "error", errs.ToError())
	} else {
		log.Info("✓ Database connections closed")
	}
}
