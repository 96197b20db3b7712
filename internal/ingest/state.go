package ingest

import (
	"context"
	"time"

	"marketpulse/internal/domain/market_data"
)

// State is the connection state of one upstream source
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateBackoff      State = "backoff"
	StateFailed       State = "failed"
	StateStopped      State = "stopped"
)

var allStates = []string{
	string(StateDisconnected),
	string(StateConnecting),
	string(StateConnected),
	string(StateBackoff),
	string(StateFailed),
	string(StateStopped),
}

// Mode selects push or polled ingestion
const (
	ModeWS   = "ws"
	ModeREST = "rest"
)

// QuoteHandler receives every canonical quote a source produces
type QuoteHandler interface {
	HandleQuote(ctx context.Context, q *market_data.Quote)
}

// QuoteHandlerFunc adapts a function to QuoteHandler
type QuoteHandlerFunc func(ctx context.Context, q *market_data.Quote)

func (f QuoteHandlerFunc) HandleQuote(ctx context.Context, q *market_data.Quote) {
	f(ctx, q)
}

// Status is a point-in-time view of a source connection
type Status struct {
	Source          string    `json:"source"`
	Mode            string    `json:"mode"`
	State           State     `json:"state"`
	Attempts        int       `json:"attempts"`
	TotalReconnects int       `json:"total_reconnects"`
	LastError       string    `json:"last_error,omitempty"`
	Since           time.Time `json:"since"`
}

// Runner is one source's ingestion loop, pushed or polled
type Runner interface {
	Source() string
	Start(ctx context.Context) error
	Stop() error
	Status() Status
}
