// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ingestion metrics
	TradesIngested    prometheus.Counter
	TradesMalformed   prometheus.Counter
	TradesSkipped     prometheus.Counter
	SnapshotsCreated  prometheus.Counter
	SnapshotsPruned   prometheus.Counter
	UpstreamFailures  *prometheus.CounterVec
	TradesTruncated   prometheus.Counter
	StreamMessages    prometheus.Counter
	StreamReconnects  prometheus.Counter
	CatalogMarketsSet prometheus.Gauge

	// Pipeline metrics
	JobRunsTotal    *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	BarsUpserted    *prometheus.CounterVec
	BaselinesStored prometheus.Counter
	ScoresComputed  *prometheus.CounterVec
	ScoreValue      *prometheus.HistogramVec

	// Prioritizer metrics
	MarketsByTier *prometheus.GaugeVec

	// Read path metrics
	CacheLookups *prometheus.CounterVec
	AlertsSent   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulJob *prometheus.GaugeVec
}

// NewMetrics creates a new Metrics instance with all metrics registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "seismo"
	}
	factory := promauto.With(reg)

	return &Metrics{
		TradesIngested: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "trades_total",
			Help:      "Total number of trades handed to the snapshot builder",
		}),
		TradesMalformed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "malformed_trades_total",
			Help:      "Total number of trades dropped for a missing price, size or timestamp",
		}),
		TradesSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "stale_trades_total",
			Help:      "Total number of trades at or before the market's last snapshot",
		}),
		SnapshotsCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "snapshots_created_total",
			Help:      "Total number of price snapshots written",
		}),
		SnapshotsPruned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "snapshots_pruned_total",
			Help:      "Total number of snapshots deleted past retention",
		}),
		UpstreamFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_failures_total",
			Help:      "Total number of failed upstream feed calls by feed",
		}, []string{"feed"}),
		TradesTruncated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "truncated_trade_fetches_total",
			Help:      "Total number of trade fetches that hit the page cap before the lower bound",
		}),
		StreamMessages: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_total",
			Help:      "Total number of trade messages received over the websocket",
		}),
		StreamReconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total number of websocket reconnects",
		}),
		CatalogMarketsSet: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "catalog",
			Name:      "active_markets",
			Help:      "Number of active markets seen in the last catalog sync",
		}),

		JobRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "job_runs_total",
			Help:      "Total number of job runs by status",
		}, []string{"job", "status"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "job_duration_seconds",
			Help:      "Job execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"job"}),
		BarsUpserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "bars_upserted_total",
			Help:      "Total number of aggregate bars written by granularity",
		}, []string{"granularity"}),
		BaselinesStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "baselines_stored_total",
			Help:      "Total number of baselines computed and stored",
		}),
		ScoresComputed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "scores_computed_total",
			Help:      "Total number of scores appended by window",
		}, []string{"window"}),
		ScoreValue: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "score_value",
			Help:      "Distribution of computed intensity scores",
			Buckets:   []float64{0.5, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10},
		}, []string{"window"}),

		MarketsByTier: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "priority",
			Name:      "markets",
			Help:      "Number of markets per sync tier after the last reprioritization",
		}, []string{"tier"}),

		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Read cache lookups by result (hit, miss)",
		}, []string{"result"}),
		AlertsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alert",
			Name:      "sent_total",
			Help:      "Score alerts by outcome (sent, suppressed, failed)",
		}, []string{"outcome"}),
		LastSuccessfulJob: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_job_timestamp",
			Help:      "Unix timestamp of the last successful run per job",
		}, []string{"job"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", prometheus.DefaultRegisterer)

// RecordIngest records the outcome of one snapshot-builder batch.
func RecordIngest(total, malformed, skipped, created int) {
	DefaultMetrics.TradesIngested.Add(float64(total))
	DefaultMetrics.TradesMalformed.Add(float64(malformed))
	DefaultMetrics.TradesSkipped.Add(float64(skipped))
	DefaultMetrics.SnapshotsCreated.Add(float64(created))
}

// RecordPruned records deleted snapshots.
func RecordPruned(n int) {
	DefaultMetrics.SnapshotsPruned.Add(float64(n))
}

// RecordUpstreamFailure increments the failure counter for a feed.
func RecordUpstreamFailure(feed string) {
	DefaultMetrics.UpstreamFailures.WithLabelValues(feed).Inc()
}

// RecordTradesTruncated counts a trade fetch cut short by the page cap.
func RecordTradesTruncated() {
	DefaultMetrics.TradesTruncated.Inc()
}

// RecordStreamMessage increments the websocket message counter.
func RecordStreamMessage() {
	DefaultMetrics.StreamMessages.Inc()
}

// RecordStreamReconnect increments the websocket reconnect counter.
func RecordStreamReconnect() {
	DefaultMetrics.StreamReconnects.Inc()
}

// SetCatalogMarkets sets the active market gauge.
func SetCatalogMarkets(n int) {
	DefaultMetrics.CatalogMarketsSet.Set(float64(n))
}

// RecordJobRun records a job run.
func RecordJobRun(job, status string, durationSeconds float64, finishedUnix int64) {
	DefaultMetrics.JobRunsTotal.WithLabelValues(job, status).Inc()
	DefaultMetrics.JobDuration.WithLabelValues(job).Observe(durationSeconds)
	if status == "ok" {
		DefaultMetrics.LastSuccessfulJob.WithLabelValues(job).Set(float64(finishedUnix))
	}
}

// RecordBars records upserted bars for a granularity.
func RecordBars(granularity string, n int) {
	DefaultMetrics.BarsUpserted.WithLabelValues(granularity).Add(float64(n))
}

// RecordBaseline increments the stored baselines counter.
func RecordBaseline() {
	DefaultMetrics.BaselinesStored.Inc()
}

// RecordScore records an appended score.
func RecordScore(window string, value float64) {
	DefaultMetrics.ScoresComputed.WithLabelValues(window).Inc()
	DefaultMetrics.ScoreValue.WithLabelValues(window).Observe(value)
}

// SetTierCounts replaces the per-tier market gauges.
func SetTierCounts(counts map[string]int) {
	for tier, n := range counts {
		DefaultMetrics.MarketsByTier.WithLabelValues(tier).Set(float64(n))
	}
}

// RecordCacheLookup counts a read cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	DefaultMetrics.CacheLookups.WithLabelValues(result).Inc()
}

// RecordAlert counts a score alert outcome.
func RecordAlert(outcome string) {
	DefaultMetrics.AlertsSent.WithLabelValues(outcome).Inc()
}
