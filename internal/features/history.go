package features

import (
	"sort"
	"time"

	"marketpulse/internal/domain/market_data"
)

const (
	DefaultWindow            = 60 * time.Second
	DefaultSentimentCapacity = 100
)

// Point is one (timestamp, price) observation
type Point struct {
	Timestamp time.Time
	Price     float64
}

// History is the mutable state of one instrument: its trailing price window
// and its bounded sentiment history. It is not safe for concurrent use; the
// owner serializes access per symbol.
type History struct {
	window            time.Duration
	sentimentCapacity int

	points    []Point
	sentiment []float64
}

func newHistory(window time.Duration, sentimentCapacity int) *History {
	return &History{
		window:            window,
		sentimentCapacity: sentimentCapacity,
		points:            make([]Point, 0, 64),
		sentiment:         make([]float64, 0, sentimentCapacity),
	}
}

// AddQuote inserts the quote's last price in timestamp order and evicts
// points older than the newest timestamp minus the window. Sources stamp
// quotes with different clocks, so a late quote can land before points that
// arrived earlier; equal timestamps keep arrival order. Quotes without a
// price are ignored.
func (h *History) AddQuote(q *market_data.Quote) {
	if !q.HasPrice() {
		return
	}

	p := Point{Timestamp: q.Timestamp, Price: *q.Last}
	i := sort.Search(len(h.points), func(i int) bool {
		return h.points[i].Timestamp.After(p.Timestamp)
	})
	h.points = append(h.points, Point{})
	copy(h.points[i+1:], h.points[i:])
	h.points[i] = p

	cutoff := h.points[len(h.points)-1].Timestamp.Add(-h.window)
	drop := 0
	for drop < len(h.points) && h.points[drop].Timestamp.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		h.points = append(h.points[:0], h.points[drop:]...)
	}
}

// AddSentiment appends a score, evicting the oldest entry beyond capacity
func (h *History) AddSentiment(score float64) {
	h.sentiment = append(h.sentiment, score)
	if over := len(h.sentiment) - h.sentimentCapacity; over > 0 {
		h.sentiment = append(h.sentiment[:0], h.sentiment[over:]...)
	}
}

// Points returns a copy of the price window
func (h *History) Points() []Point {
	return append([]Point(nil), h.points...)
}

// Sentiment returns a copy of the sentiment history
func (h *History) Sentiment() []float64 {
	return append([]float64(nil), h.sentiment...)
}
