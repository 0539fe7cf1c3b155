package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_consumed_total",
			Help: "Total number of messages fetched from the broker (count)",
		},
		[]string{"topic"},
	)

	MessagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_messages_processed_total",
			Help: "Total number of messages reaching a terminal decision (count)",
		},
		[]string{"status"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_processing_duration_ms",
			Help:    "End-to-end processing duration per message in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"status"},
	)

	StoreWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_store_writes_total",
			Help: "Total number of store write attempts by outcome (count)",
		},
		[]string{"outcome"},
	)

	StoreWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ingest_store_write_duration_ms",
			Help:    "Store upsert duration in milliseconds",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"outcome"},
	)

	LedgerOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_ledger_ops_total",
			Help: "Total number of dedup ledger operations (count)",
		},
		[]string{"op", "status"},
	)

	DedupHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_dedup_hits_total",
			Help: "Messages skipped because the identity was already applied (count)",
		},
	)

	RetriesScheduledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_retries_scheduled_total",
			Help: "Total number of messages requeued for retry (count)",
		},
		[]string{"stage"},
	)

	DeadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_dead_letters_total",
			Help: "Total number of dead-lettered messages (count)",
		},
		[]string{"stage", "code"},
	)

	CatalogLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_catalog_lookups_total",
			Help: "Variable catalog lookups by result (count)",
		},
		[]string{"result"},
	)

	LedgerEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ingest_ledger_entries",
			Help: "Approximate number of live dedup ledger entries (count)",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)
)

func RegisterPipelineMetrics() {
	prometheus.MustRegister(
		MessagesConsumedTotal,
		MessagesProcessedTotal,
		ProcessingDuration,
		RetriesScheduledTotal,
		DeadLettersTotal,
	)
}

func RegisterStoreMetrics() {
	prometheus.MustRegister(
		StoreWritesTotal,
		StoreWriteDuration,
	)
}

func RegisterLedgerMetrics() {
	prometheus.MustRegister(
		LedgerOpsTotal,
		DedupHitsTotal,
		LedgerEntries,
	)
}

func RegisterCatalogMetrics() {
	prometheus.MustRegister(CatalogLookupsTotal)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerFailures,
	)
}

func ObserveProcessingDuration(d time.Duration, status string) {
	ProcessingDuration.WithLabelValues(status).Observe(float64(d.Milliseconds()))
}

func ObserveStoreWrite(d time.Duration, outcome string) {
	StoreWritesTotal.WithLabelValues(outcome).Inc()
	StoreWriteDuration.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}

func SetLedgerEntries(size int) {
	LedgerEntries.Set(float64(size))
}
