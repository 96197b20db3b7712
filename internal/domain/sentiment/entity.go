package sentiment

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Model names recorded with each sentiment row
const (
	ModelKeyword = "finbert-onnx"
	ModelONNX    = "finbert-onnx-runtime"
)

// DefaultConfidence is recorded for the keyword heuristic
const DefaultConfidence = 0.8

// Article is a news article discovered by the ingestion job.
// Fingerprint is the content hash of URL and title and is unique.
type Article struct {
	ID          int64           `db:"id" json:"id"`
	Fingerprint string          `db:"fingerprint" json:"fingerprint"`
	URL         string          `db:"url" json:"url"`
	Title       string          `db:"title" json:"title"`
	PublishedAt time.Time       `db:"ts_publish" json:"ts_publish"`
	Source      string          `db:"source" json:"source"`
	Tickers     []string        `db:"-" json:"tickers"`
	Lang        string          `db:"lang" json:"lang"`
	Raw         json.RawMessage `db:"raw" json:"raw,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
}

// Sentiment is a score attached to an article by a scoring model
type Sentiment struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	ArticleID  int64           `db:"article_id" json:"article_id"`
	Model      string          `db:"model" json:"model"`
	Score      float64         `db:"score" json:"score"` // -1 to 1
	Confidence float64         `db:"confidence" json:"confidence"`
	Tokens     json.RawMessage `db:"tokens" json:"tokens"`
	IngestedAt time.Time       `db:"ts_ingested" json:"ts_ingested"`
}
