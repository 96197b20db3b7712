package reconnect

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketpulse/pkg/errors"
)

func TestNewBackoff_Defaults(t *testing.T) {
	b := NewBackoff(Config{})

	stats := b.GetStats()
	assert.Equal(t, 5, stats.MaxAttempts)
	assert.Equal(t, 0, stats.Attempts)
	assert.Equal(t, time.Second, b.baseDelay)
	assert.Equal(t, time.Minute, b.maxDelay)
}

func TestDelay(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"first", 0, 1 * time.Second},
		{"second", 1, 2 * time.Second},
		{"third", 2, 4 * time.Second},
		{"fifth", 4, 16 * time.Second},
		{"capped", 7, 60 * time.Second},
		{"overflow guard", 100, 60 * time.Second},
		{"negative", -1, 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Delay(time.Second, time.Minute, tt.attempt))
		})
	}
}

func TestBackoff_NextExhaustsBudget(t *testing.T) {
	b := NewBackoff(Config{
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 5,
		Jitter:      NoJitter,
	})

	expected := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}

	for i, want := range expected {
		got, err := b.Next()
		require.NoError(t, err, "attempt %d", i)
		assert.Equal(t, want, got, "attempt %d", i)
	}

	assert.True(t, b.Exhausted())
	_, err := b.Next()
	assert.ErrorIs(t, err, errors.ErrMaxReconnectAttempts)
}

func TestBackoff_JitterAddedWithinBase(t *testing.T) {
	b := NewBackoff(Config{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 3})

	for attempt := 0; attempt < 3; attempt++ {
		d, err := b.Next()
		require.NoError(t, err)

		floor := Delay(time.Second, time.Minute, attempt)
		assert.GreaterOrEqual(t, d, floor)
		assert.Less(t, d, floor+time.Second)
	}
}

func TestBackoff_Reset(t *testing.T) {
	b := NewBackoff(Config{MaxAttempts: 2, Jitter: NoJitter})

	_, err := b.Next()
	require.NoError(t, err)
	_, err = b.Next()
	require.NoError(t, err)
	assert.True(t, b.Exhausted())

	b.Reset()
	assert.Equal(t, 0, b.Attempts())
	assert.Equal(t, 1, b.GetStats().TotalReconnects)

	d, err := b.Next()
	require.NoError(t, err)
	assert.Equal(t, time.Second, d)
}

func TestBackoff_ConcurrentAccess(t *testing.T) {
	b := NewBackoff(Config{MaxAttempts: 1000, Jitter: NoJitter})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, _ = b.Next()
				_ = b.GetStats()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 500, b.Attempts())
}

func TestUniformJitter(t *testing.T) {
	assert.Equal(t, time.Duration(0), UniformJitter(0))
	for i := 0; i < 100; i++ {
		j := UniformJitter(time.Second)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, time.Second)
	}
}
