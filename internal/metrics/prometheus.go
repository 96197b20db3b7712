package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Worker metrics
	WorkerExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_worker_executions_total",
			Help: "Total number of worker executions",
		},
		[]string{"worker", "status"}, // status: success|error
	)

	WorkerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketpulse_worker_duration_seconds",
			Help:    "Worker execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"worker"},
	)

	WorkerLastRun = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketpulse_worker_last_run_timestamp",
			Help: "Unix timestamp of last worker execution",
		},
		[]string{"worker"},
	)

	// Source metrics
	SourceState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "marketpulse_source_state",
			Help: "1 for the current connection state of each source, 0 otherwise",
		},
		[]string{"source", "state"},
	)

	SourceReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_source_reconnects_total",
			Help: "Reconnect attempts scheduled per source",
		},
		[]string{"source"},
	)

	QuotesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_quotes_received_total",
			Help: "Canonical quotes produced by source adapters",
		},
		[]string{"source", "symbol"},
	)

	MessagesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_messages_dropped_total",
			Help: "Upstream messages dropped before producing a quote",
		},
		[]string{"source", "reason"}, // reason: unparseable|no_price|rejected
	)

	// Upstream HTTP metrics
	UpstreamCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_upstream_calls_total",
			Help: "Total number of upstream HTTP calls",
		},
		[]string{"upstream", "endpoint", "status"},
	)

	UpstreamLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketpulse_upstream_latency_seconds",
			Help:    "Upstream HTTP latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"upstream", "endpoint"},
	)

	// Cache metrics
	CacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_cache_lookups_total",
			Help: "Cache lookups by result",
		},
		[]string{"cache", "result"}, // result: hit|miss
	)

	// Signal metrics
	FeatureLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketpulse_feature_extraction_seconds",
			Help:    "Time spent appending a quote and extracting its features",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
		[]string{"symbol"},
	)

	SignalsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_signals_emitted_total",
			Help: "Signals emitted by the engine",
		},
		[]string{"symbol", "direction"},
	)

	SignalsRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_signals_rejected_total",
			Help: "Evaluations that produced no signal",
		},
		[]string{"symbol", "reason"}, // reason: cooldown|volatility|disagreement|threshold
	)

	AlertsTriggered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_alerts_triggered_total",
			Help: "Alert policies that matched a feature set",
		},
		[]string{"symbol"},
	)

	// Stream metrics
	StreamSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketpulse_stream_subscribers",
			Help: "Connected SSE subscribers",
		},
	)

	StreamDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_stream_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
		[]string{"type"},
	)

	// News metrics
	NewsArticles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_news_articles_total",
			Help: "News articles processed by outcome",
		},
		[]string{"status"}, // status: stored|duplicate|failed
	)

	// Database metrics
	DBQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"database", "operation", "status"},
	)

	DBQueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketpulse_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"database", "operation"},
	)

	// Kafka metrics
	KafkaMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_kafka_messages_total",
			Help: "Total Kafka messages published",
		},
		[]string{"topic", "status"},
	)
)

// Init registers all metrics with Prometheus
func Init() {
	prometheus.MustRegister(WorkerExecutions)
	prometheus.MustRegister(WorkerDuration)
	prometheus.MustRegister(WorkerLastRun)

	prometheus.MustRegister(SourceState)
	prometheus.MustRegister(SourceReconnects)
	prometheus.MustRegister(QuotesReceived)
	prometheus.MustRegister(MessagesDropped)

	prometheus.MustRegister(UpstreamCalls)
	prometheus.MustRegister(UpstreamLatency)
	prometheus.MustRegister(CacheLookups)

	prometheus.MustRegister(FeatureLatency)
	prometheus.MustRegister(SignalsEmitted)
	prometheus.MustRegister(SignalsRejected)
	prometheus.MustRegister(AlertsTriggered)

	prometheus.MustRegister(StreamSubscribers)
	prometheus.MustRegister(StreamDropped)

	prometheus.MustRegister(NewsArticles)

	prometheus.MustRegister(DBQueries)
	prometheus.MustRegister(DBQueryDuration)
	prometheus.MustRegister(KafkaMessages)
}

// Handler returns Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordWorkerExecution records a worker execution
func RecordWorkerExecution(worker string, duration time.Duration, err error) {
	WorkerExecutions.WithLabelValues(worker, status(err)).Inc()
	WorkerDuration.WithLabelValues(worker).Observe(duration.Seconds())
	WorkerLastRun.WithLabelValues(worker).SetToCurrentTime()
}

// RecordSourceState marks state as the current state of source
func RecordSourceState(source, state string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == state {
			v = 1
		}
		SourceState.WithLabelValues(source, s).Set(v)
	}
}

// RecordUpstreamCall records an upstream HTTP call
func RecordUpstreamCall(upstream, endpoint string, latency time.Duration, err error) {
	UpstreamCalls.WithLabelValues(upstream, endpoint, status(err)).Inc()
	UpstreamLatency.WithLabelValues(upstream, endpoint).Observe(latency.Seconds())
}

// RecordCacheLookup records a cache hit or miss
func RecordCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	CacheLookups.WithLabelValues(cache, result).Inc()
}

// RecordDBQuery records a database query
func RecordDBQuery(database, operation string, duration time.Duration, err error) {
	DBQueries.WithLabelValues(database, operation, status(err)).Inc()
	DBQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// RecordKafkaMessage records a publish attempt
func RecordKafkaMessage(topic string, err error) {
	KafkaMessages.WithLabelValues(topic, status(err)).Inc()
}
