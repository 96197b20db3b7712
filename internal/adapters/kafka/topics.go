package kafka

// Topic definitions for downstream consumers
const (
	// Canonical quotes, keyed by symbol
	TopicQuotes = "marketpulse.quotes"

	// Emitted buy/sell signals, keyed by symbol
	TopicSignals = "marketpulse.signals"

	// Scored news articles, keyed by fingerprint
	TopicSentiments = "marketpulse.sentiments"

	// Alert policy matches, keyed by alert ID
	TopicAlerts = "marketpulse.alerts"
)
