// Package metrics holds the Prometheus collectors for the directory.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultOK       = "ok"
	ResultError    = "error"
	ResultDegraded = "degraded"
)

var (
	// Search index

	IndexWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyservers_index_writes_total",
			Help: "Total number of search index writes",
		},
		[]string{"operation", "result"},
	)

	IndexSchemaRecoveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hyservers_index_schema_recoveries_total",
			Help: "Total number of times a missing collection was recreated during a write",
		},
	)

	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyservers_searches_total",
			Help: "Total number of public searches",
		},
		[]string{"result"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyservers_search_duration_seconds",
			Help:    "Search latency in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)

	// Rebuild

	RebuildsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyservers_index_rebuilds_total",
			Help: "Total number of index rebuilds",
		},
		[]string{"result"},
	)

	RebuildDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hyservers_index_rebuild_duration_seconds",
			Help:    "Index rebuild duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		},
	)

	RebuildDocuments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hyservers_index_rebuild_documents",
			Help: "Number of documents written by the last successful rebuild",
		},
	)

	// Records

	ServerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyservers_server_operations_total",
			Help: "Total number of admin server mutations",
		},
		[]string{"operation", "status"},
	)

	// Auth

	LoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hyservers_login_attempts_total",
			Help: "Total number of admin login attempts",
		},
		[]string{"status"},
	)
)
