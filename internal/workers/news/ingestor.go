package news

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"marketpulse/internal/adapters/gdelt"
	"marketpulse/internal/adapters/kafka"
	"marketpulse/internal/cache"
	"marketpulse/internal/domain/sentiment"
	"marketpulse/internal/metrics"
	"marketpulse/internal/scoring"
	"marketpulse/internal/workers"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
)

const (
	WorkerName = "news_ingestor"

	DefaultInterval       = 15 * time.Minute
	DefaultLookback       = 15 * time.Minute
	DefaultFingerprintTTL = 24 * time.Hour
)

// DefaultKeywords are the GDELT queries run on each iteration
var DefaultKeywords = []string{"BTC", "ETH", "SOL", "Bitcoin", "Ethereum", "Solana"}

// keywordSymbols maps query keywords to the canonical symbol whose sentiment
// history receives the article scores
var keywordSymbols = map[string]string{
	"BTC":      "BTC-USDT",
	"BITCOIN":  "BTC-USDT",
	"ETH":      "ETH-USDT",
	"ETHEREUM": "ETH-USDT",
	"SOL":      "SOL-USDT",
	"SOLANA":   "SOL-USDT",
}

// SymbolForKeyword returns the canonical symbol a keyword feeds
func SymbolForKeyword(keyword string) string {
	k := strings.ToUpper(strings.TrimSpace(keyword))
	if s, ok := keywordSymbols[k]; ok {
		return s
	}
	return k + "-USDT"
}

// Fingerprint is the hex SHA-256 of url followed by title
func Fingerprint(url, title string) string {
	sum := sha256.Sum256([]byte(url + title))
	return hex.EncodeToString(sum[:])
}

// ArticleSearcher queries a news index for a keyword over [start, end)
type ArticleSearcher interface {
	Search(ctx context.Context, keyword string, start, end time.Time) ([]gdelt.Article, error)
}

// SentimentSink receives scores for a symbol's sentiment history
type SentimentSink interface {
	AddSentiment(symbol string, score float64)
}

// EventPublisher publishes JSON events to the message bus
type EventPublisher interface {
	Publish(ctx context.Context, topic string, key string, event interface{}) error
}

// SentimentEvent is published for every newly scored article
type SentimentEvent struct {
	Fingerprint string    `json:"fingerprint"`
	ArticleID   int64     `json:"article_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Keyword     string    `json:"keyword"`
	Symbol      string    `json:"symbol"`
	Model       string    `json:"model"`
	Score       float64   `json:"score"`
	Confidence  float64   `json:"confidence"`
	PublishedAt time.Time `json:"ts_publish"`
}

// Config wires the ingestor
type Config struct {
	Searcher       ArticleSearcher
	Articles       sentiment.ArticleRepository
	Sentiments     sentiment.Repository
	Cache          cache.Cache
	Scorer         scoring.Scorer
	Sink           SentimentSink
	Events         EventPublisher // optional
	Keywords       []string
	Interval       time.Duration
	Lookback       time.Duration
	FingerprintTTL time.Duration
	Enabled        bool
	Clock          clockwork.Clock
}

// Ingestor polls GDELT for each keyword, stores new articles once per
// fingerprint, scores their titles and feeds the scores into the symbol's
// sentiment history. Each keyword queries the half-open window from its last
// successful run to now.
type Ingestor struct {
	*workers.BaseWorker

	searcher       ArticleSearcher
	articles       sentiment.ArticleRepository
	sentiments     sentiment.Repository
	cache          cache.Cache
	scorer         scoring.Scorer
	sink           SentimentSink
	events         EventPublisher
	keywords       []string
	lookback       time.Duration
	fingerprintTTL time.Duration
	clock          clockwork.Clock

	mu      sync.Mutex
	lastRun map[string]time.Time
}

var _ workers.WorkerWithHealth = (*Ingestor)(nil)

func NewIngestor(cfg Config, log *logger.Logger) *Ingestor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if len(cfg.Keywords) == 0 {
		cfg.Keywords = DefaultKeywords
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = DefaultLookback
	}
	if cfg.FingerprintTTL <= 0 {
		cfg.FingerprintTTL = DefaultFingerprintTTL
	}
	if cfg.Scorer == nil {
		cfg.Scorer = scoring.NewKeywordScorer()
	}

	return &Ingestor{
		BaseWorker:     workers.NewBaseWorker(WorkerName, cfg.Interval, cfg.Enabled, log),
		searcher:       cfg.Searcher,
		articles:       cfg.Articles,
		sentiments:     cfg.Sentiments,
		cache:          cfg.Cache,
		scorer:         cfg.Scorer,
		sink:           cfg.Sink,
		events:         cfg.Events,
		keywords:       cfg.Keywords,
		lookback:       cfg.Lookback,
		fingerprintTTL: cfg.FingerprintTTL,
		clock:          cfg.Clock,
		lastRun:        make(map[string]time.Time),
	}
}

// RunStats summarizes one iteration
type RunStats struct {
	Keywords   int
	Failed     int
	Fetched    int
	Stored     int
	Duplicates int
	Errors     int
}

// Run executes one ingestion pass over all keywords. It fails only when
// every keyword query failed.
func (n *Ingestor) Run(ctx context.Context) error {
	stats, err := n.RunOnce(ctx)
	n.Log().Infow("News ingestion complete",
		"keywords", stats.Keywords,
		"failed_keywords", stats.Failed,
		"fetched", stats.Fetched,
		"stored", stats.Stored,
		"duplicates", stats.Duplicates,
		"errors", stats.Errors,
	)
	return err
}

// RunOnce is Run returning its counters
func (n *Ingestor) RunOnce(ctx context.Context) (RunStats, error) {
	var stats RunStats
	now := n.clock.Now().UTC()

	for _, kw := range n.keywords {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Keywords++

		start := n.windowStart(kw, now)
		articles, err := n.searcher.Search(ctx, kw, start, now)
		if err != nil {
			stats.Failed++
			n.Log().Warnw("News query failed", "keyword", kw, "error", err)
			continue
		}
		n.markRun(kw, now)
		stats.Fetched += len(articles)

		for i := range articles {
			if err := ctx.Err(); err != nil {
				return stats, err
			}

			switch err := n.process(ctx, kw, &articles[i], now); {
			case errors.Is(err, errors.ErrAlreadyExists):
				stats.Duplicates++
				metrics.NewsArticles.WithLabelValues("duplicate").Inc()
			case err != nil:
				stats.Errors++
				metrics.NewsArticles.WithLabelValues("failed").Inc()
				n.Log().Warnw("News article failed", "keyword", kw, "url", articles[i].URL, "error", err)
			default:
				stats.Stored++
				metrics.NewsArticles.WithLabelValues("stored").Inc()
			}
		}
	}

	if stats.Keywords > 0 && stats.Failed == stats.Keywords {
		return stats, errors.Wrapf(errors.ErrUnavailable, "all %d news queries failed", stats.Failed)
	}
	return stats, nil
}

func (n *Ingestor) windowStart(keyword string, now time.Time) time.Time {
	n.mu.Lock()
	defer n.mu.Unlock()

	if last, ok := n.lastRun[keyword]; ok {
		return last
	}
	return now.Add(-n.lookback)
}

func (n *Ingestor) markRun(keyword string, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastRun[keyword] = now
}

// process stores, scores and records one article. It returns
// errors.ErrAlreadyExists for an article seen before.
func (n *Ingestor) process(ctx context.Context, keyword string, a *gdelt.Article, now time.Time) error {
	fp := Fingerprint(a.URL, a.Title)
	key := cache.ArticleKey(fp)

	seen, err := n.cache.Exists(ctx, key)
	if err != nil {
		n.Log().Warnw("Fingerprint cache lookup failed, treating as miss", "key", key, "error", err)
	}
	if seen {
		return errors.ErrAlreadyExists
	}

	published := a.SeenDate
	if published.IsZero() {
		published = now
	}

	article := &sentiment.Article{
		Fingerprint: fp,
		URL:         a.URL,
		Title:       a.Title,
		PublishedAt: published,
		Source:      a.Domain,
		Tickers:     []string{keyword},
		Lang:        a.Language,
		Raw:         a.Raw,
	}
	if err := n.articles.Create(ctx, article); err != nil {
		return err
	}

	result, err := n.scorer.Score(ctx, a.Title)
	if err != nil {
		return errors.Wrap(err, "score article")
	}

	tokens, err := json.Marshal(result.Tokens)
	if err != nil {
		return errors.Wrap(err, "marshal tokens")
	}

	s := &sentiment.Sentiment{
		ArticleID:  article.ID,
		Model:      result.Model,
		Score:      result.Score,
		Confidence: result.Confidence,
		Tokens:     tokens,
		IngestedAt: now,
	}
	if err := n.sentiments.Create(ctx, s); err != nil {
		return err
	}

	symbol := SymbolForKeyword(keyword)
	if n.sink != nil {
		n.sink.AddSentiment(symbol, result.Score)
	}

	if err := n.cache.Set(ctx, key, []byte("1"), n.fingerprintTTL); err != nil {
		n.Log().Warnw("Fingerprint cache write failed", "key", key, "error", err)
	}

	if n.events != nil {
		event := SentimentEvent{
			Fingerprint: fp,
			ArticleID:   article.ID,
			URL:         article.URL,
			Title:       article.Title,
			Keyword:     keyword,
			Symbol:      symbol,
			Model:       s.Model,
			Score:       s.Score,
			Confidence:  s.Confidence,
			PublishedAt: published,
		}
		if err := n.events.Publish(ctx, kafka.TopicSentiments, fp, event); err != nil {
			n.Log().Debugw("Sentiment event publish failed", "fingerprint", fp, "error", err)
		}
	}

	return nil
}
