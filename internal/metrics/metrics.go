package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Document intake metrics
	DocumentsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_ingest_documents_total",
			Help: "Total number of documents ingested",
		},
		[]string{"source", "tier"},
	)

	IngestBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docflow_ingest_bytes_total",
			Help: "Total bytes of document payloads ingested",
		},
	)

	// Worker pool metrics
	MessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_worker_messages_total",
			Help: "Total messages settled by workers, by outcome",
		},
		[]string{"stage", "tier", "outcome"},
	)

	ProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_worker_processing_duration_seconds",
			Help:    "Duration of processor invocations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage", "tier"},
	)

	InFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "docflow_worker_in_flight",
			Help: "Messages currently being processed per tier pool",
		},
		[]string{"stage", "tier"},
	)

	// Connection pool metrics
	PoolCheckouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_pool_checkouts_total",
			Help: "Connection pool checkouts, by result (pooled, fallback)",
		},
		[]string{"result"},
	)

	PoolDiscards = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docflow_pool_discards_total",
			Help: "Connections discarded as unhealthy",
		},
	)

	// Routing metrics
	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_router_deliveries_total",
			Help: "Terminal deliveries, by destination and result",
		},
		[]string{"destination", "result"},
	)

	FallbackAlerts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docflow_router_fallback_alerts_total",
			Help: "Times the alert fallback ended a routing chain",
		},
	)

	// Audit channel metrics
	AuditEventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_audit_events_total",
			Help: "Audit events emitted, by status",
		},
		[]string{"status"},
	)

	AuditEventsStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_audit_events_stored_total",
			Help: "Audit events persisted to the event store, by status",
		},
		[]string{"status"},
	)

	AuditEmitFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docflow_audit_emit_failures_total",
			Help: "Best-effort audit publishes that failed",
		},
	)

	// Rate limiting metrics
	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docflow_ingest_rate_limit_hits_total",
			Help: "Uploads rejected by the rate limiter",
		},
	)

	// Dedup metrics
	DuplicatesSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_dedup_duplicates_total",
			Help: "Messages skipped as idempotency-key duplicates",
		},
		[]string{"stage"},
	)
)
