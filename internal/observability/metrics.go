package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datatalk_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datatalk_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	ingestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datatalk_ingestions_total",
			Help: "Total number of dataset ingestions by outcome.",
		},
		[]string{"outcome"},
	)
	ingestedRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "datatalk_ingested_rows_total",
			Help: "Total number of dataset rows accepted at ingestion.",
		},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "datatalk_sessions_active",
			Help: "Current number of live conversation sessions.",
		},
	)
	turnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datatalk_turns_total",
			Help: "Total number of conversation turns by outcome.",
		},
		[]string{"outcome"},
	)
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datatalk_operations_total",
			Help: "Total number of model-requested operations by name and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	modelLatencyMs = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datatalk_model_latency_ms",
			Help:    "Language model streaming call latency in milliseconds.",
			Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 20000, 60000},
		},
	)
	queryDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "datatalk_query_duration_ms",
			Help:    "Operation execution latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		ingestionsTotal,
		ingestedRowsTotal,
		sessionsActive,
		turnsTotal,
		operationsTotal,
		modelLatencyMs,
		queryDurationMs,
	)
}

func ObserveIngestion(rows int, err error) {
	if err != nil {
		ingestionsTotal.WithLabelValues("failed").Inc()
		return
	}
	ingestionsTotal.WithLabelValues("ok").Inc()
	if rows > 0 {
		ingestedRowsTotal.Add(float64(rows))
	}
}

func SetSessionsActive(count int) {
	if count < 0 {
		count = 0
	}
	sessionsActive.Set(float64(count))
}

func ObserveTurn(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
}

func ObserveOperation(operation, outcome string, elapsed time.Duration) {
	operationsTotal.WithLabelValues(operation, outcome).Inc()
	queryDurationMs.WithLabelValues(operation).Observe(float64(elapsed.Milliseconds()))
}

func ObserveModelLatency(elapsed time.Duration) {
	modelLatencyMs.Observe(float64(elapsed.Milliseconds()))
}
