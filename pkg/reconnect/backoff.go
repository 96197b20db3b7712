package reconnect

import (
	"math/rand"
	"sync"
	"time"

	"marketpulse/pkg/errors"
)

// Config configures the reconnect backoff
type Config struct {
	BaseDelay   time.Duration // Delay before the first retry (default 1s)
	MaxDelay    time.Duration // Upper bound of the exponential part (default 1m)
	MaxAttempts int           // Retries before giving up (default 5)

	// Jitter returns a random duration in [0, max). Defaults to uniform jitter.
	Jitter func(max time.Duration) time.Duration
}

// Backoff tracks consecutive reconnect attempts for one connection and yields
// base * 2^attempt + jitter delays until the attempt budget is spent.
// Safe for concurrent use.
type Backoff struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	jitter      func(max time.Duration) time.Duration

	mu              sync.Mutex
	attempts        int
	totalReconnects int
	lastDelay       time.Duration
}

// NewBackoff creates a new backoff with sensible defaults
func NewBackoff(cfg Config) *Backoff {
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Jitter == nil {
		cfg.Jitter = UniformJitter
	}

	return &Backoff{
		baseDelay:   cfg.BaseDelay,
		maxDelay:    cfg.MaxDelay,
		maxAttempts: cfg.MaxAttempts,
		jitter:      cfg.Jitter,
	}
}

// Next consumes one attempt and returns the delay to wait before it.
// Returns ErrMaxReconnectAttempts once MaxAttempts retries have been handed out.
func (b *Backoff) Next() (time.Duration, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempts >= b.maxAttempts {
		return 0, errors.Wrapf(errors.ErrMaxReconnectAttempts, "%d attempts", b.attempts)
	}

	delay := Delay(b.baseDelay, b.maxDelay, b.attempts) + b.jitter(b.baseDelay)
	b.attempts++
	b.lastDelay = delay

	return delay, nil
}

// Reset clears the attempt counter after a successful connection
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attempts > 0 {
		b.totalReconnects++
	}
	b.attempts = 0
	b.lastDelay = 0
}

// Attempts returns the number of retries consumed since the last Reset
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Exhausted reports whether the next call to Next will fail
func (b *Backoff) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts >= b.maxAttempts
}

// Stats contains reconnection statistics
type Stats struct {
	Attempts        int
	MaxAttempts     int
	TotalReconnects int
	LastDelay       time.Duration
}

// GetStats returns current backoff statistics
func (b *Backoff) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		Attempts:        b.attempts,
		MaxAttempts:     b.maxAttempts,
		TotalReconnects: b.totalReconnects,
		LastDelay:       b.lastDelay,
	}
}

// Delay returns the deterministic part of the backoff: base * 2^attempt capped at max
func Delay(base, max time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return max
	}

	d := base << uint(attempt)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// UniformJitter returns a uniformly random duration in [0, max)
func UniformJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

// NoJitter disables jitter, useful for deterministic tests
func NoJitter(time.Duration) time.Duration {
	return 0
}
