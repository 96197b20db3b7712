package clickhouse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
)

func testLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

type recorder struct {
	mu      sync.Mutex
	batches [][]int
	err     error
}

func (r *recorder) flush(ctx context.Context, batch []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func stopWriter(t *testing.T, bw *BatchWriter[int]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, bw.Stop(ctx))
}

func TestBatchWriter_FlushOnMaxSize(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		TableName:    "quotes",
		MaxBatchSize: 3,
		MaxAge:       time.Hour,
	}, testLogger())

	ctx := context.Background()
	require.NoError(t, bw.Add(ctx, 1))
	require.NoError(t, bw.Add(ctx, 2))
	assert.Equal(t, 0, rec.count())

	require.NoError(t, bw.Add(ctx, 3))
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, []int{1, 2, 3}, rec.batches[0])
	assert.Equal(t, 0, bw.BufferSize())
	assert.Equal(t, int64(3), bw.GetStats().Flushed)
}

func TestBatchWriter_FlushOnAge(t *testing.T) {
	clock := clockwork.NewFakeClock()
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		TableName:    "quotes",
		MaxBatchSize: 100,
		MaxAge:       5 * time.Second,
		Clock:        clock,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	require.NoError(t, bw.Add(ctx, 1))
	require.NoError(t, bw.Add(ctx, 2))

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	require.NoError(t, clock.BlockUntilContext(waitCtx, 1))

	clock.Advance(5 * time.Second)
	assert.Eventually(t, func() bool { return rec.total() == 2 }, time.Second, 5*time.Millisecond)

	stopWriter(t, bw)
}

func TestBatchWriter_StopFlushesRemaining(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		TableName:    "quotes",
		MaxBatchSize: 100,
		MaxAge:       time.Hour,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, bw.Add(ctx, i))
	}

	stopWriter(t, bw)
	assert.Equal(t, 3, rec.total())
	assert.False(t, bw.GetStats().Running)
}

func TestBatchWriter_FailedFlushDropsBatch(t *testing.T) {
	rec := &recorder{err: errors.New("clickhouse unavailable")}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		TableName:    "quotes",
		MaxBatchSize: 2,
		MaxAge:       time.Hour,
	}, testLogger())

	ctx := context.Background()
	require.NoError(t, bw.Add(ctx, 1))
	assert.Error(t, bw.Add(ctx, 2))

	stats := bw.GetStats()
	assert.Equal(t, 0, stats.BufferSize)
	assert.Equal(t, int64(2), stats.Dropped)
	assert.Zero(t, stats.Flushed)
}

func TestBatchWriter_ConcurrentAdds(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[int]{
		FlushFunc:    rec.flush,
		TableName:    "quotes",
		MaxBatchSize: 10,
		MaxAge:       time.Hour,
	}, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			_ = bw.Add(ctx, idx)
		}(i)
	}
	wg.Wait()

	stopWriter(t, bw)
	assert.Equal(t, 50, rec.total())
}
