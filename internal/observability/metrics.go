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
	CandlesIngested     *prometheus.CounterVec
	DuplicatesSkipped   prometheus.Counter
	IngestionErrors     *prometheus.CounterVec
	TickerUpdates       prometheus.Counter
	CandleBufferSize    prometheus.Gauge
	LatestCandleEndTime prometheus.Gauge

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Venue metrics
	VenueCallLatency *prometheus.HistogramVec
	VenueCallErrors  *prometheus.CounterVec

	// Backtest metrics
	BacktestRunsTotal *prometheus.CounterVec
	BacktestDuration  *prometheus.HistogramVec
	EventsEnumerated  prometheus.Counter
	RowsProduced      *prometheus.CounterVec
	LowConfidenceRows prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
	LastSuccessfulRun       prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "bracket_lab"
	}

	return &Metrics{
		// Ingestion metrics
		CandlesIngested: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "candles_ingested_total",
			Help:      "Total number of candles stored by mode",
		}, []string{"mode"}),
		DuplicatesSkipped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of candles skipped as already stored",
		}),
		IngestionErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "errors_total",
			Help:      "Total number of ingestion errors by stage",
		}, []string{"stage"}),
		TickerUpdates: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "ticker_updates_total",
			Help:      "Total number of WebSocket ticker updates received",
		}),
		CandleBufferSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "candle_buffer_size",
			Help:      "Current number of open candle buckets in the follow buffer",
		}),
		LatestCandleEndTime: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "latest_candle_end_timestamp",
			Help:      "End timestamp of the most recent candle stored",
		}),

		// Cache metrics
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "cache_hits_total",
			Help:      "Total number of candle cache hits",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "cache_misses_total",
			Help:      "Total number of candle cache misses",
		}),

		// Venue metrics
		VenueCallLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "call_latency_seconds",
			Help:      "Venue API call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		VenueCallErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "venue",
			Name:      "call_errors_total",
			Help:      "Total number of failed venue API calls",
		}, []string{"endpoint"}),

		// Backtest metrics
		BacktestRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "runs_total",
			Help:      "Total number of backtest runs by status",
		}, []string{"status"}),
		BacktestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "duration_seconds",
			Help:      "Backtest run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"instrument"}),
		EventsEnumerated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "events_enumerated_total",
			Help:      "Total number of market events enumerated",
		}),
		RowsProduced: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "rows_produced_total",
			Help:      "Total number of backtest rows produced by action",
		}, []string{"action"}),
		LowConfidenceRows: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "backtest",
			Name:      "low_confidence_rows_total",
			Help:      "Total number of rows flagged as low-confidence estimates",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulIngestion: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion",
		}),
		LastSuccessfulRun: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of last successful backtest run",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordCandlesIngested increments the candles ingested counter.
func RecordCandlesIngested(mode string, n int) {
	DefaultMetrics.CandlesIngested.WithLabelValues(mode).Add(float64(n))
}

// RecordDuplicatesSkipped increments the duplicates skipped counter.
func RecordDuplicatesSkipped(n int) {
	DefaultMetrics.DuplicatesSkipped.Add(float64(n))
}

// RecordIngestionError records an ingestion error by stage.
func RecordIngestionError(stage string) {
	DefaultMetrics.IngestionErrors.WithLabelValues(stage).Inc()
}

// RecordTickerUpdate increments the ticker updates counter.
func RecordTickerUpdate() {
	DefaultMetrics.TickerUpdates.Inc()
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	DefaultMetrics.CacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	DefaultMetrics.CacheMisses.Inc()
}

// RecordVenueCall records venue API call metrics.
func RecordVenueCall(endpoint string, seconds float64, err error) {
	DefaultMetrics.VenueCallLatency.WithLabelValues(endpoint).Observe(seconds)
	if err != nil {
		DefaultMetrics.VenueCallErrors.WithLabelValues(endpoint).Inc()
	}
}

// RecordBacktestRun records a backtest run.
func RecordBacktestRun(instrument, status string, durationSeconds float64) {
	DefaultMetrics.BacktestRunsTotal.WithLabelValues(status).Inc()
	DefaultMetrics.BacktestDuration.WithLabelValues(instrument).Observe(durationSeconds)
}

// RecordEventsEnumerated adds to the events enumerated counter.
func RecordEventsEnumerated(n int) {
	DefaultMetrics.EventsEnumerated.Add(float64(n))
}

// RecordRowProduced increments the rows produced counter for an action.
func RecordRowProduced(action string) {
	DefaultMetrics.RowsProduced.WithLabelValues(action).Inc()
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
