package scoring

import (
	"context"
	"math"
	"strings"

	"marketpulse/internal/domain/sentiment"
)

// Result is the output of one scoring call
type Result struct {
	Score      float64             // in [-1, 1]
	Confidence float64             // in [0, 1]
	Model      string              // recorded on the sentiment row
	Tokens     map[string][]string // token-level detail, stored as JSON
}

// Scorer rates the sentiment of a piece of text
type Scorer interface {
	Score(ctx context.Context, text string) (Result, error)
}

var (
	defaultPositive = []string{"bullish", "surge", "rally", "gains", "up", "rise", "positive", "growth"}
	defaultNegative = []string{"bearish", "crash", "dump", "losses", "down", "fall", "negative", "decline"}
)

const keywordWeight = 0.1

// KeywordScorer adds 0.1 for every positive word present in the text and
// subtracts 0.1 for every negative word present, clamped to [-1, 1]. Words
// match as case-insensitive substrings and count once each.
type KeywordScorer struct {
	positive []string
	negative []string
}

var _ Scorer = (*KeywordScorer)(nil)

func NewKeywordScorer() *KeywordScorer {
	return &KeywordScorer{positive: defaultPositive, negative: defaultNegative}
}

func (s *KeywordScorer) Score(_ context.Context, text string) (Result, error) {
	lower := strings.ToLower(text)

	var (
		score    float64
		pos, neg []string
	)
	for _, w := range s.positive {
		if strings.Contains(lower, w) {
			score += keywordWeight
			pos = append(pos, w)
		}
	}
	for _, w := range s.negative {
		if strings.Contains(lower, w) {
			score -= keywordWeight
			neg = append(neg, w)
		}
	}

	return Result{
		Score:      clamp(score, -1, 1),
		Confidence: sentiment.DefaultConfidence,
		Model:      sentiment.ModelKeyword,
		Tokens: map[string][]string{
			"positive": nonNil(pos),
			"negative": nonNil(neg),
		},
	}, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
