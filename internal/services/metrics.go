package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all custom Prometheus metrics for the application
type Metrics struct {
	// Linking metrics
	PushEvents           *prometheus.CounterVec // outcome: created|merged|duplicate|failed
	ReasoningSubmissions *prometheus.CounterVec // outcome: attached|uncommitted|failed
	ClaimConflicts       prometheus.Counter
	LinkLatency          prometheus.Histogram

	// Resolution and search metrics
	ResolveRequests prometheus.Counter
	SearchRequests  *prometheus.CounterVec // outcome: answered|insufficient|failed
	SearchLatency   prometheus.Histogram

	// Background metrics
	StaleRecords prometheus.Counter
}

// InitMetrics initializes the Prometheus metrics
func InitMetrics() *Metrics {
	metrics := &Metrics{
		PushEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowsync_push_events_total",
			Help: "Push events processed by outcome",
		}, []string{"outcome"}),

		ReasoningSubmissions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowsync_reasoning_submissions_total",
			Help: "Reasoning submissions processed by outcome",
		}, []string{"outcome"}),

		ClaimConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowsync_claim_conflicts_total",
			Help: "Conditional-write conflicts detected during record claiming",
		}),

		LinkLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowsync_link_duration_seconds",
			Help:    "Push-handling latency including extraction and embedding calls",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}, // extraction dominates
		}),

		ResolveRequests: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowsync_resolve_requests_total",
			Help: "Branch context resolutions served",
		}),

		SearchRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "flowsync_search_requests_total",
			Help: "Semantic search requests by outcome",
		}, []string{"outcome"}),

		SearchLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "flowsync_search_duration_seconds",
			Help:    "Search latency including embedding and generation calls",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		StaleRecords: promauto.NewCounter(prometheus.CounterOpts{
			Name: "flowsync_stale_records_total",
			Help: "Uncommitted records expired by the staleness sweep",
		}),
	}

	return metrics
}
