// Package metrics holds the process-wide prometheus collectors for the sync
// engine, the search index outbox and the upstream client.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callsync_sync_runs_total",
			Help: "Completed sync runs by mode and final status",
		},
		[]string{"mode", "status"},
	)

	SyncRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callsync_sync_rejected_total",
			Help: "Sync triggers rejected because a run was already active",
		},
		[]string{"triggered_by"},
	)

	SyncRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callsync_sync_records_total",
			Help: "Fetched records by upsert outcome (created, updated, skipped, error)",
		},
		[]string{"outcome"},
	)

	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callsync_sync_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"mode"},
	)

	SyncWatermark = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callsync_sync_watermark_timestamp",
			Help: "Unix timestamp of the persisted sync watermark",
		},
		[]string{"sync_type"},
	)

	IndexDispatch = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callsync_index_dispatch_total",
			Help: "Search index dispatches by result (ok, error, dropped)",
		},
		[]string{"result"},
	)

	IndexQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callsync_index_queue_depth",
			Help: "Documents waiting in the search index outbox",
		},
	)

	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callsync_upstream_requests_total",
			Help: "Upstream session feed requests by result",
		},
		[]string{"result"},
	)

	UpstreamBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callsync_upstream_breaker_state",
			Help: "Upstream circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)
