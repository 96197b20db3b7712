package news

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"marketpulse/internal/adapters/gdelt"
	"marketpulse/internal/cache"
	"marketpulse/internal/domain/sentiment"
	"marketpulse/internal/scoring"
	"marketpulse/pkg/errors"
	"marketpulse/pkg/logger"
)

var t0 = time.Date(2025, 11, 29, 12, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	zapLog, _ := zap.NewDevelopment()
	return &logger.Logger{SugaredLogger: zapLog.Sugar()}
}

type searchCall struct {
	keyword    string
	start, end time.Time
}

type fakeSearcher struct {
	mu       sync.Mutex
	results  map[string][]gdelt.Article
	failures map[string]error
	calls    []searchCall
}

func (s *fakeSearcher) Search(ctx context.Context, keyword string, start, end time.Time) ([]gdelt.Article, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, searchCall{keyword: keyword, start: start, end: end})
	if err := s.failures[keyword]; err != nil {
		return nil, err
	}
	return s.results[keyword], nil
}

type memoryArticles struct {
	mu     sync.Mutex
	byFP   map[string]*sentiment.Article
	nextID int64
}

func newMemoryArticles() *memoryArticles {
	return &memoryArticles{byFP: make(map[string]*sentiment.Article)}
}

func (r *memoryArticles) Create(ctx context.Context, a *sentiment.Article) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byFP[a.Fingerprint]; ok {
		return errors.Wrapf(errors.ErrAlreadyExists, "article %s", a.Fingerprint)
	}
	r.nextID++
	a.ID = r.nextID
	stored := *a
	r.byFP[a.Fingerprint] = &stored
	return nil
}

func (r *memoryArticles) GetByFingerprint(ctx context.Context, fp string) (*sentiment.Article, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byFP[fp]
	if !ok {
		return nil, errors.ErrNotFound
	}
	return a, nil
}

func (r *memoryArticles) ListRecentByTicker(ctx context.Context, ticker string, limit int) ([]sentiment.Article, error) {
	return nil, nil
}

func (r *memoryArticles) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byFP)
}

type memorySentiments struct {
	mu      sync.Mutex
	rows    []sentiment.Sentiment
	failFor map[int64]bool
}

func (r *memorySentiments) Create(ctx context.Context, s *sentiment.Sentiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failFor[s.ArticleID] {
		return errors.New("insert failed")
	}
	r.rows = append(r.rows, *s)
	return nil
}

func (r *memorySentiments) ListByArticle(ctx context.Context, articleID int64) ([]sentiment.Sentiment, error) {
	return nil, nil
}

type recordingSink struct {
	mu     sync.Mutex
	scores map[string][]float64
}

func (s *recordingSink) AddSentiment(symbol string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.scores == nil {
		s.scores = make(map[string][]float64)
	}
	s.scores[symbol] = append(s.scores[symbol], score)
}

type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.ErrUnavailable
}

func (failingCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return errors.ErrUnavailable
}

func (failingCache) Exists(ctx context.Context, key string) (bool, error) {
	return false, errors.ErrUnavailable
}

type fixture struct {
	clock      *clockwork.FakeClock
	searcher   *fakeSearcher
	articles   *memoryArticles
	sentiments *memorySentiments
	sink       *recordingSink
	cache      cache.Cache
	ingestor   *Ingestor
}

func newFixture(keywords []string, c cache.Cache) *fixture {
	f := &fixture{
		clock:      clockwork.NewFakeClockAt(t0),
		searcher:   &fakeSearcher{results: map[string][]gdelt.Article{}, failures: map[string]error{}},
		articles:   newMemoryArticles(),
		sentiments: &memorySentiments{failFor: map[int64]bool{}},
		sink:       &recordingSink{},
	}
	f.cache = c
	if f.cache == nil {
		f.cache = cache.NewMemoryCache(f.clock)
	}
	f.ingestor = NewIngestor(Config{
		Searcher:   f.searcher,
		Articles:   f.articles,
		Sentiments: f.sentiments,
		Cache:      f.cache,
		Scorer:     scoring.NewKeywordScorer(),
		Sink:       f.sink,
		Keywords:   keywords,
		Enabled:    true,
		Clock:      f.clock,
	}, testLogger())
	return f
}

func article(url, title string) gdelt.Article {
	return gdelt.Article{
		URL:      url,
		Title:    title,
		SeenDate: t0.Add(-5 * time.Minute),
		Domain:   "example.com",
		Language: "English",
		Raw:      []byte(`{"url":"` + url + `"}`),
	}
}

func TestFingerprint(t *testing.T) {
	assert.Equal(t,
		"fa1417da5eba68623943947141b5ba65c19a9490a63d14154d1649b9f9c65a38",
		Fingerprint("https://example.com/a", "Title"),
	)
	assert.NotEqual(t, Fingerprint("https://example.com/a", "Title"), Fingerprint("https://example.com/a", "Other"))
}

func TestSymbolForKeyword(t *testing.T) {
	assert.Equal(t, "BTC-USDT", SymbolForKeyword("Bitcoin"))
	assert.Equal(t, "BTC-USDT", SymbolForKeyword("BTC"))
	assert.Equal(t, "ETH-USDT", SymbolForKeyword("ethereum"))
	assert.Equal(t, "SOL-USDT", SymbolForKeyword("Solana"))
	assert.Equal(t, "DOGE-USDT", SymbolForKeyword("doge"))
}

func TestIngestor_DuplicateWithinTTLStoredOnce(t *testing.T) {
	f := newFixture([]string{"BTC"}, nil)
	f.searcher.results["BTC"] = []gdelt.Article{article("https://example.com/btc", "Bitcoin rally as ETF gains")}
	ctx := context.Background()

	stats, err := f.ingestor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stored)

	f.clock.Advance(15 * time.Minute)
	stats, err = f.ingestor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Stored)
	assert.Equal(t, 1, stats.Duplicates)

	assert.Equal(t, 1, f.articles.count())
	require.Len(t, f.sentiments.rows, 1)
	assert.Len(t, f.sink.scores["BTC-USDT"], 1)

	row := f.sentiments.rows[0]
	assert.Equal(t, sentiment.ModelKeyword, row.Model)
	assert.InDelta(t, sentiment.DefaultConfidence, row.Confidence, 1e-12)
	assert.InDelta(t, 0.2, row.Score, 1e-9)

	var tokens map[string][]string
	require.NoError(t, json.Unmarshal(row.Tokens, &tokens))
	assert.ElementsMatch(t, []string{"rally", "gains"}, tokens["positive"])
}

func TestIngestor_StoresArticleFields(t *testing.T) {
	f := newFixture([]string{"Ethereum"}, nil)
	a := article("https://example.com/eth", "Ethereum upgrade ships")
	a.SeenDate = time.Time{}
	f.searcher.results["Ethereum"] = []gdelt.Article{a}

	_, err := f.ingestor.RunOnce(context.Background())
	require.NoError(t, err)

	stored, err := f.articles.GetByFingerprint(context.Background(), Fingerprint(a.URL, a.Title))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ethereum"}, stored.Tickers)
	assert.Equal(t, "example.com", stored.Source)
	assert.Equal(t, "English", stored.Lang)
	assert.Equal(t, t0, stored.PublishedAt)
	assert.JSONEq(t, `{"url":"https://example.com/eth"}`, string(stored.Raw))

	exists, err := f.cache.Exists(context.Background(), cache.ArticleKey(stored.Fingerprint))
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Len(t, f.sink.scores["ETH-USDT"], 1)
}

func TestIngestor_UniqueConflictAfterCacheExpiry(t *testing.T) {
	f := newFixture([]string{"SOL"}, nil)
	f.searcher.results["SOL"] = []gdelt.Article{article("https://example.com/sol", "Solana network growth")}
	ctx := context.Background()

	_, err := f.ingestor.RunOnce(ctx)
	require.NoError(t, err)

	f.clock.Advance(25 * time.Hour)
	stats, err := f.ingestor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Duplicates)

	assert.Equal(t, 1, f.articles.count())
	assert.Len(t, f.sentiments.rows, 1)
}

func TestIngestor_QueryWindow(t *testing.T) {
	f := newFixture([]string{"BTC"}, nil)
	ctx := context.Background()

	_, err := f.ingestor.RunOnce(ctx)
	require.NoError(t, err)
	f.clock.Advance(15 * time.Minute)
	_, err = f.ingestor.RunOnce(ctx)
	require.NoError(t, err)

	require.Len(t, f.searcher.calls, 2)
	assert.Equal(t, t0.Add(-DefaultLookback), f.searcher.calls[0].start)
	assert.Equal(t, t0, f.searcher.calls[0].end)
	assert.Equal(t, t0, f.searcher.calls[1].start)
	assert.Equal(t, t0.Add(15*time.Minute), f.searcher.calls[1].end)
}

func TestIngestor_FailedKeywordKeepsWindowAndContinues(t *testing.T) {
	f := newFixture([]string{"BTC", "ETH"}, nil)
	f.searcher.failures["BTC"] = errors.ErrUpstreamStatus
	f.searcher.results["ETH"] = []gdelt.Article{article("https://example.com/eth", "ETH surge")}
	ctx := context.Background()

	stats, err := f.ingestor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Stored)

	f.clock.Advance(15 * time.Minute)
	delete(f.searcher.failures, "BTC")
	_, err = f.ingestor.RunOnce(ctx)
	require.NoError(t, err)

	// BTC retries its original window, ETH moves on
	require.Len(t, f.searcher.calls, 4)
	assert.Equal(t, "BTC", f.searcher.calls[2].keyword)
	assert.Equal(t, t0.Add(-DefaultLookback), f.searcher.calls[2].start)
	assert.Equal(t, t0, f.searcher.calls[3].start)
}

func TestIngestor_AllKeywordsFail(t *testing.T) {
	f := newFixture([]string{"BTC", "ETH"}, nil)
	f.searcher.failures["BTC"] = errors.ErrUpstreamStatus
	f.searcher.failures["ETH"] = errors.ErrTimeout

	err := f.ingestor.Run(context.Background())
	assert.ErrorIs(t, err, errors.ErrUnavailable)
}

func TestIngestor_ArticleFailureContinues(t *testing.T) {
	f := newFixture([]string{"BTC"}, nil)
	f.searcher.results["BTC"] = []gdelt.Article{
		article("https://example.com/1", "first"),
		article("https://example.com/2", "second"),
	}
	f.sentiments.failFor[1] = true

	stats, err := f.ingestor.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Errors)
	assert.Equal(t, 1, stats.Stored)
	assert.Len(t, f.sentiments.rows, 1)
	assert.Len(t, f.sink.scores["BTC-USDT"], 1)
}

func TestIngestor_CacheFailureTreatedAsMiss(t *testing.T) {
	f := newFixture([]string{"BTC"}, failingCache{})
	f.searcher.results["BTC"] = []gdelt.Article{article("https://example.com/btc", "Bitcoin")}
	ctx := context.Background()

	stats, err := f.ingestor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Stored)

	f.clock.Advance(15 * time.Minute)
	stats, err = f.ingestor.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Len(t, f.sentiments.rows, 1)
}

func TestIngestor_StopsOnCancel(t *testing.T) {
	f := newFixture([]string{"BTC", "ETH"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.ingestor.RunOnce(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.searcher.calls)
}
