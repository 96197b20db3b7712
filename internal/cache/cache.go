package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value store with per-key expiry.
// Errors are reported so callers can log them, but every caller treats a
// failed read as a miss.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Key prefixes
const (
	TickerPrefix  = "ticker"
	ArticlePrefix = "article"
)

// TickerKey builds ticker:{source}:{symbol}
func TickerKey(source, symbol string) string {
	return TickerPrefix + ":" + source + ":" + symbol
}

// ArticleKey builds article:{fingerprint}
func ArticleKey(fingerprint string) string {
	return ArticlePrefix + ":" + fingerprint
}
