package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OperationsTotal counts dispatched operations by kind and outcome
	// ("ok" or a failure kind such as "not_found").
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbridge_operations_total",
			Help: "Total number of dispatched store operations",
		},
		[]string{"operation", "status"},
	)
	// OperationDuration is the latency of dispatched operations.
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docbridge_operation_duration_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
	// WorkersRetired counts workers abandoned after exceeding the execution ceiling.
	WorkersRetired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docbridge_workers_retired_total",
			Help: "Workers retired after a request exceeded the execution ceiling",
		},
	)
	// QueueDepth is the number of requests waiting for a worker.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docbridge_queue_depth",
			Help: "Requests waiting for a worker",
		},
	)
	// WatchesActive is the number of registered watches.
	WatchesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "docbridge_watches_active",
			Help: "Number of active watches",
		},
	)
	// WatchEventsTotal counts delivered watch events by type.
	WatchEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbridge_watch_events_total",
			Help: "Total number of watch events delivered",
		},
		[]string{"event_type"},
	)
	// WatchEventsCoalesced counts events replaced by a newer event for the same document.
	WatchEventsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docbridge_watch_events_coalesced_total",
			Help: "Watch events superseded before delivery",
		},
	)
	// WatchEventsDropped counts events dropped because the pending buffer was full.
	WatchEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "docbridge_watch_events_dropped_total",
			Help: "Watch events dropped on pending buffer overflow",
		},
	)
	// RequestTotal counts HTTP requests in serve mode.
	RequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docbridge_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
