package metrics

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	"marketpulse/pkg/logger"
)

// StoreCollector reports row counts from the Postgres store on scrape
type StoreCollector struct {
	log      *logger.Logger
	postgres *sqlx.DB

	articles     *prometheus.Desc
	sentiments   *prometheus.Desc
	signals      *prometheus.Desc
	activeAlerts *prometheus.Desc
}

// NewStoreCollector creates a new store collector
func NewStoreCollector(log *logger.Logger, postgres *sqlx.DB) *StoreCollector {
	return &StoreCollector{
		log:      log,
		postgres: postgres,

		articles: prometheus.NewDesc(
			"marketpulse_articles",
			"Stored news articles",
			nil, nil,
		),
		sentiments: prometheus.NewDesc(
			"marketpulse_sentiments",
			"Stored sentiment scores",
			nil, nil,
		),
		signals: prometheus.NewDesc(
			"marketpulse_signals",
			"Stored signals by direction",
			[]string{"direction"}, nil,
		),
		activeAlerts: prometheus.NewDesc(
			"marketpulse_active_alerts",
			"Active alert policies",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.articles
	ch <- c.sentiments
	ch <- c.signals
	ch <- c.activeAlerts
}

// Collect implements prometheus.Collector
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectCount(ctx, ch, c.articles, "SELECT COUNT(*) FROM articles")
	c.collectCount(ctx, ch, c.sentiments, "SELECT COUNT(*) FROM sentiments")
	c.collectCount(ctx, ch, c.activeAlerts, "SELECT COUNT(*) FROM alerts WHERE active")
	c.collectSignals(ctx, ch)
}

func (c *StoreCollector) collectCount(ctx context.Context, ch chan<- prometheus.Metric, desc *prometheus.Desc, query string) {
	var count int
	if err := c.postgres.GetContext(ctx, &count, query); err != nil {
		c.log.Errorw("Failed to collect store metric", "query", query, "error", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(count))
}

func (c *StoreCollector) collectSignals(ctx context.Context, ch chan<- prometheus.Metric) {
	var rows []struct {
		Direction string `db:"direction"`
		Count     int    `db:"count"`
	}
	err := c.postgres.SelectContext(ctx, &rows, "SELECT direction, COUNT(*) AS count FROM signals GROUP BY direction")
	if err != nil {
		c.log.Errorw("Failed to collect signal stats", "error", err)
		return
	}

	for _, r := range rows {
		ch <- prometheus.MustNewConstMetric(c.signals, prometheus.GaugeValue, float64(r.Count), r.Direction)
	}
}

// RegisterStoreCollector registers the store collector
func RegisterStoreCollector(collector *StoreCollector) {
	prometheus.MustRegister(collector)
}
