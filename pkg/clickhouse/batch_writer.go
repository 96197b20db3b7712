package clickhouse

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"marketpulse/pkg/logger"
)

// FlushFunc performs the INSERT for one batch
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriter accumulates rows in memory and flushes them to ClickHouse in
// batches, on size or on age. A failed batch is logged and dropped.
type BatchWriter[T any] struct {
	flushFunc    FlushFunc[T]
	clock        clockwork.Clock
	log          *logger.Logger
	maxBatchSize int
	maxAge       time.Duration
	flushTimeout time.Duration
	tableName    string

	mu        sync.Mutex
	buffer    []T
	lastFlush time.Time
	flushed   int64
	dropped   int64
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// BatchWriterConfig contains configuration for BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	TableName    string
	MaxBatchSize int           // default 500
	MaxAge       time.Duration // default 5s
	FlushTimeout time.Duration // default 5s
	Clock        clockwork.Clock
}

func NewBatchWriter[T any](cfg BatchWriterConfig[T], log *logger.Logger) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		clock:        cfg.Clock,
		log:          log.With("component", "batch_writer", "table", cfg.TableName),
		maxBatchSize: cfg.MaxBatchSize,
		maxAge:       cfg.MaxAge,
		flushTimeout: cfg.FlushTimeout,
		tableName:    cfg.TableName,
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		lastFlush:    cfg.Clock.Now(),
		stopCh:       make(chan struct{}),
	}
}

// Start begins the background age-based flush loop
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return
	}
	bw.running = true
	bw.mu.Unlock()

	ticker := bw.clock.NewTicker(bw.maxAge)

	bw.wg.Add(1)
	go bw.flushLoop(ctx, ticker)

	bw.log.Infof("BatchWriter started (maxBatchSize=%d, maxAge=%v)", bw.maxBatchSize, bw.maxAge)
}

// Add buffers item and flushes when the buffer reaches the batch size
func (bw *BatchWriter[T]) Add(ctx context.Context, item T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, item)
	shouldFlush := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if shouldFlush {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes all buffered items
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxBatchSize)
	bw.lastFlush = bw.clock.Now()
	bw.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, bw.flushTimeout)
	defer cancel()

	start := time.Now()
	err := bw.flushFunc(ctx, batch)
	duration := time.Since(start)

	bw.mu.Lock()
	if err != nil {
		bw.dropped += int64(len(batch))
	} else {
		bw.flushed += int64(len(batch))
	}
	bw.mu.Unlock()

	if err != nil {
		bw.log.Errorw("Batch flush failed, rows dropped",
			"rows", len(batch),
			"error", err,
			"duration", duration,
		)
		return err
	}

	bw.log.Debugw("Batch flushed", "rows", len(batch), "duration", duration)
	return nil
}

func (bw *BatchWriter[T]) flushLoop(ctx context.Context, ticker clockwork.Ticker) {
	defer bw.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.finalFlush()
			return
		case <-bw.stopCh:
			bw.finalFlush()
			return
		case <-ticker.Chan():
			_ = bw.Flush(ctx)
		}
	}
}

func (bw *BatchWriter[T]) finalFlush() {
	if err := bw.Flush(context.Background()); err != nil {
		bw.log.Errorw("Final flush failed", "error", err)
	}
}

// Stop flushes remaining items and waits for the loop to exit
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = false
	bw.mu.Unlock()

	close(bw.stopCh)

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		bw.log.Info("BatchWriter stopped gracefully")
		return nil
	case <-ctx.Done():
		bw.log.Warn("BatchWriter stop timed out")
		return ctx.Err()
	}
}

// BufferSize returns the number of rows waiting for a flush
func (bw *BatchWriter[T]) BufferSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// BatchWriterStats is a snapshot of writer counters
type BatchWriterStats struct {
	BufferSize   int           `json:"buffer_size"`
	LastFlushAge time.Duration `json:"last_flush_age"`
	Flushed      int64         `json:"flushed"`
	Dropped      int64         `json:"dropped"`
	Running      bool          `json:"running"`
}

func (bw *BatchWriter[T]) GetStats() BatchWriterStats {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	return BatchWriterStats{
		BufferSize:   len(bw.buffer),
		LastFlushAge: bw.clock.Since(bw.lastFlush),
		Flushed:      bw.flushed,
		Dropped:      bw.dropped,
		Running:      bw.running,
	}
}
