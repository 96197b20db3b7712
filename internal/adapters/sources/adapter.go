package sources

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/valyala/fastjson"

	"marketpulse/internal/domain/market_data"
	"marketpulse/pkg/errors"
)

// Adapter turns raw upstream payloads of one source into canonical quotes.
// Parse methods never fail: unrecognized or malformed input yields nil.
type Adapter interface {
	Source() string

	// Parse handles a push (WebSocket) message
	Parse(raw []byte) *market_data.Quote

	// SubscribeMessage builds the subscription frame for canonical symbols
	SubscribeMessage(symbols []string) ([]byte, error)

	// TickerURL and ParseTicker serve the REST polling path
	TickerURL(baseURL, symbol string) string
	ParseTicker(raw []byte, symbol string) *market_data.Quote
}

// New returns the adapter registered for source
func New(source string, clock clockwork.Clock) (Adapter, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	switch source {
	case market_data.SourceCoinbase:
		return NewCoinbaseAdapter(clock), nil
	case market_data.SourceBinance:
		return NewBinanceAdapter(clock), nil
	default:
		return nil, errors.Wrapf(errors.ErrUnknownSource, "source %q", source)
	}
}

var parserPool fastjson.ParserPool

// parse decodes raw into a JSON object, returning nil on any failure.
// The returned release func must be called once v is no longer used.
func parse(raw []byte) (v *fastjson.Value, release func()) {
	p := parserPool.Get()
	v, err := p.ParseBytes(raw)
	if err != nil || v.Type() != fastjson.TypeObject {
		parserPool.Put(p)
		return nil, func() {}
	}
	return v, func() { parserPool.Put(p) }
}

// number reads a numeric field that may be encoded as a JSON number or a
// decimal string. Missing, empty or unparsable values yield nil.
func number(v *fastjson.Value, key string) *float64 {
	field := v.Get(key)
	if field == nil {
		return nil
	}

	switch field.Type() {
	case fastjson.TypeNumber:
		f, err := field.Float64()
		if err != nil {
			return nil
		}
		return &f
	case fastjson.TypeString:
		s := string(field.GetStringBytes())
		if s == "" {
			return nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil
		}
		f, _ := d.Float64()
		return &f
	default:
		return nil
	}
}

func str(v *fastjson.Value, key string) string {
	return string(v.GetStringBytes(key))
}

// millis reads an epoch-milliseconds field, returning the zero time when absent
func millis(v *fastjson.Value, key string) time.Time {
	field := v.Get(key)
	if field == nil || field.Type() != fastjson.TypeNumber {
		return time.Time{}
	}
	ms, err := field.Int64()
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
