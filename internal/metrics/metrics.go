package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "signalsync"

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	syncItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_items_total",
			Help:      "Per-entity sync outcomes.",
		},
		[]string{"entity_type", "direction", "outcome"},
	)

	syncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_cycles_total",
			Help:      "Completed sync cycles by mode and result.",
		},
		[]string{"mode", "result"},
	)

	syncCycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_cycle_duration_seconds",
			Help:      "Wall time of a sync cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"mode"},
	)

	remoteRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "remote_requests_total",
			Help:      "Remote store calls by collection, operation and outcome.",
		},
		[]string{"collection", "op", "outcome"},
	)

	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "remote_request_duration_seconds",
			Help:      "Latency of remote store calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"collection", "op"},
	)

	queueClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_claimed_total",
			Help:      "Queue items claimed for processing.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			syncItems,
			syncCycles,
			syncCycleDuration,
			remoteRequests,
			remoteDuration,
			queueClaimed,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncSyncItem(entityType, direction, outcome string) {
	syncItems.WithLabelValues(entityType, direction, outcome).Inc()
}

// ObserveCycle records a finished cycle.
func ObserveCycle(mode string, success bool, d time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	syncCycles.WithLabelValues(mode, result).Inc()
	syncCycleDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func ObserveRemote(collection, op, outcome string, d time.Duration) {
	remoteRequests.WithLabelValues(collection, op, outcome).Inc()
	remoteDuration.WithLabelValues(collection, op).Observe(d.Seconds())
}

func AddClaimed(n int) {
	queueClaimed.Add(float64(n))
}
