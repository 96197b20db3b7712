package sources

import (
	"strings"

	"marketpulse/internal/domain/market_data"
)

// Canonical symbols use BASE-QUOTE with USDT as the stablecoin quote.
var symbolMaps = map[string]map[string]string{
	market_data.SourceCoinbase: {
		"BTC-USD": "BTC-USDT",
		"ETH-USD": "ETH-USDT",
		"SOL-USD": "SOL-USDT",
	},
	market_data.SourceBinance: {
		"BTCUSDT": "BTC-USDT",
		"ETHUSDT": "ETH-USDT",
		"SOLUSDT": "SOL-USDT",
	},
}

// Normalize maps an exchange-native symbol to its canonical form.
// Unknown exchanges and unmapped symbols pass through unchanged.
func Normalize(exchange, symbol string) string {
	if table, ok := symbolMaps[exchange]; ok {
		if canonical, ok := table[symbol]; ok {
			return canonical
		}
	}
	return symbol
}

// Native maps a canonical symbol back to the exchange-native form used for
// subscriptions and REST paths.
func Native(exchange, canonical string) string {
	for native, c := range symbolMaps[exchange] {
		if c == canonical {
			return native
		}
	}

	if exchange == market_data.SourceBinance {
		return strings.ReplaceAll(canonical, "-", "")
	}
	return canonical
}

// Canonical normalizes a user-supplied symbol of unknown origin against every
// source table. Input is upper-cased and trimmed first.
func Canonical(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	for _, table := range symbolMaps {
		if canonical, ok := table[s]; ok {
			return canonical
		}
	}
	return s
}

// ParseSymbolList splits a pipe-delimited symbol list into unique canonical symbols
func ParseSymbolList(raw string) []string {
	parts := strings.Split(raw, "|")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			continue
		}
		s := Canonical(p)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
