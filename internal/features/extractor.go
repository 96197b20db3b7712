package features

import (
	"math"
	"time"

	"marketpulse/internal/domain/market_data"
)

const (
	shortHorizon = time.Second
	longHorizon  = 5 * time.Second
	rvWindow     = 30 * time.Second
)

// Extractor computes micro-structure features from an instrument History
type Extractor struct {
	window            time.Duration
	sentimentCapacity int
}

func NewExtractor(window time.Duration, sentimentCapacity int) *Extractor {
	if window <= 0 {
		window = DefaultWindow
	}
	if sentimentCapacity <= 0 {
		sentimentCapacity = DefaultSentimentCapacity
	}
	return &Extractor{window: window, sentimentCapacity: sentimentCapacity}
}

// NewHistory returns an empty history sized by the extractor's settings
func (e *Extractor) NewHistory() *History {
	return newHistory(e.window, e.sentimentCapacity)
}

// Extract computes the feature set for q, which must already have been added
// to h. Returns nil while h holds fewer than 2 price points.
func (e *Extractor) Extract(h *History, q *market_data.Quote) *market_data.Features {
	if h == nil || len(h.points) < 2 {
		return nil
	}

	now := q.Timestamp

	return &market_data.Features{
		R1s:        periodReturn(h.points, now, shortHorizon),
		R5s:        periodReturn(h.points, now, longHorizon),
		RV30s:      realizedVolatility(h.points, now, rvWindow),
		OFIProxy:   OFIProxy(q),
		SentimentZ: zScore(h.sentiment),
	}
}

// periodReturn compares the newest price with the point closest to now-horizon.
// Ties keep the oldest candidate.
func periodReturn(points []Point, now time.Time, horizon time.Duration) float64 {
	target := now.Add(-horizon)

	closest := 0
	best := absDuration(points[0].Timestamp.Sub(target))
	for i := 1; i < len(points); i++ {
		if d := absDuration(points[i].Timestamp.Sub(target)); d < best {
			closest, best = i, d
		}
	}

	old := points[closest].Price
	current := points[len(points)-1].Price
	if old == 0 || current == 0 {
		return 0
	}
	return (current - old) / old
}

// realizedVolatility is the root of summed squared simple returns over the
// points no older than now-window
func realizedVolatility(points []Point, now time.Time, window time.Duration) float64 {
	start := now.Add(-window)

	var (
		sum  float64
		prev float64
		n    int
	)
	for _, p := range points {
		if p.Timestamp.Before(start) {
			continue
		}
		if n > 0 && prev != 0 {
			r := (p.Price - prev) / prev
			sum += r * r
		}
		prev = p.Price
		n++
	}

	if n < 2 {
		return 0
	}
	return math.Sqrt(sum)
}

// OFIProxy is the bid/ask size imbalance of a single quote, in [-1, 1].
// Missing or zero sizes yield 0.
func OFIProxy(q *market_data.Quote) float64 {
	bid := market_data.Value(q.BidSize)
	ask := market_data.Value(q.AskSize)
	if bid == 0 || ask == 0 {
		return 0
	}

	total := bid + ask
	if total == 0 {
		return 0
	}
	return (bid - ask) / total
}

// zScore is the population z-score of the last value
func zScore(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}

	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(n)

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / float64(n))
	if std == 0 {
		return 0
	}

	return (values[n-1] - mean) / std
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
