package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_http_requests_total",
			Help: "Total number of API requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audit_http_request_duration_seconds",
			Help:    "Duration of API requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// FetchesTotal counts outbound fetches; kind is page, link, robots, sitemap or home.
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_fetches_total",
			Help: "Total number of outbound fetches.",
		},
		[]string{"kind", "outcome"}, // outcome: ok, http_error, network_error
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audit_fetch_duration_seconds",
			Help:    "Duration of outbound fetches.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"kind"},
	)

	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_tasks_total",
			Help: "Total number of executed units of work.",
		},
		[]string{"kind", "result"}, // result: success, retry, dropped, dead_letter
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "audit_task_duration_seconds",
			Help:    "Duration of units of work.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	TasksInQueue = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "audit_tasks_in_queue",
			Help: "Current number of queued units of work.",
		},
	)

	AuditsRequested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_requests_total",
			Help: "Total number of audits requested.",
		},
	)

	LinkCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_link_cache_hits_total",
			Help: "Link statuses resolved from the URL status cache without a fetch.",
		},
	)
)

// FetchOutcome buckets a fetch status code for the outcome label.
func FetchOutcome(status int) string {
	switch {
	case status <= 0:
		return "network_error"
	case status >= 200 && status < 300:
		return "ok"
	default:
		return "http_error"
	}
}
