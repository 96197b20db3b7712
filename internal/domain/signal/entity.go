package signal

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"marketpulse/pkg/errors"
)

// Direction of a trade signal
type Direction string

const (
	DirectionBuy  Direction = "buy"
	DirectionSell Direction = "sell"
	// DirectionWatch is reserved. The decision rules never produce it.
	DirectionWatch Direction = "watch"
)

// Trigger labels recorded in Reasons.Trigger
const (
	TriggerPositiveSentimentMomentum = "positive_sentiment_momentum"
	TriggerNegativeSentimentMomentum = "negative_sentiment_momentum"
)

// Signal is a directional decision emitted by the engine
type Signal struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Timestamp time.Time `db:"ts" json:"ts"`
	Symbol    string    `db:"symbol" json:"symbol"`
	Direction Direction `db:"direction" json:"direction"`
	Score     float64   `db:"score" json:"score"` // 0 to 1
	Reasons   Reasons   `db:"reasons" json:"reasons"`
}

// Reasons explains which feature values triggered a signal.
// Stored as JSONB.
type Reasons struct {
	SentimentZ float64  `json:"sentiment_z"`
	Momentum   float64  `json:"momentum"`
	Volatility float64  `json:"volatility"`
	OFI        float64  `json:"ofi"`
	Trigger    string   `json:"trigger"`
	RiskScore  *float64 `json:"risk_score,omitempty"`
	Timeframes []string `json:"timeframes,omitempty"`
}

// Value implements driver.Valuer for JSONB storage
func (r Reasons) Value() (driver.Value, error) {
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB storage
func (r *Reasons) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	case nil:
		*r = Reasons{}
		return nil
	default:
		return errors.Newf("unsupported reasons type %T", src)
	}
}

// DefaultAlertCooldownMinutes applies when a policy omits cooldown_minutes
const DefaultAlertCooldownMinutes = 5

// AlertPolicy is a user-defined rule evaluated against features.
// It has no direction and ignores cooldown during evaluation.
type AlertPolicy struct {
	Symbol             string  `db:"symbol" json:"symbol"`
	SentimentThreshold float64 `db:"sentiment_threshold" json:"sentiment_threshold"`
	MomentumThreshold  float64 `db:"momentum_threshold" json:"momentum_threshold"`
	VolatilityMin      float64 `db:"volatility_min" json:"volatility_min"`
	VolatilityMax      float64 `db:"volatility_max" json:"volatility_max"`
	CooldownMinutes    int     `db:"cooldown_minutes" json:"cooldown_minutes"`
	Description        string  `db:"description" json:"description"`
}

// Normalize fills defaults
func (p *AlertPolicy) Normalize() {
	if p.CooldownMinutes == 0 {
		p.CooldownMinutes = DefaultAlertCooldownMinutes
	}
}

// Validate checks the policy is well formed
func (p *AlertPolicy) Validate() error {
	if p.Symbol == "" {
		return errors.NewValidationError("symbol", "is required", p.Symbol)
	}
	if p.SentimentThreshold < 0 {
		return errors.NewValidationError("sentiment_threshold", "must be non-negative", p.SentimentThreshold)
	}
	if p.MomentumThreshold < 0 {
		return errors.NewValidationError("momentum_threshold", "must be non-negative", p.MomentumThreshold)
	}
	if p.VolatilityMin > p.VolatilityMax {
		return errors.NewValidationError("volatility_min", "must not exceed volatility_max", p.VolatilityMin)
	}
	if p.CooldownMinutes < 0 {
		return errors.NewValidationError("cooldown_minutes", "must be non-negative", p.CooldownMinutes)
	}
	return nil
}

// Alert is a stored policy
type Alert struct {
	ID          uuid.UUID `db:"id" json:"id"`
	AlertPolicy `json:"policy"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
