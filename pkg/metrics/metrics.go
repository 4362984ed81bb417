package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Lease store metrics
	StoreRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_lease_store_requests_total",
		Help: "Total number of lease store calls, by backend, operation and result",
	}, []string{"backend", "op", "result"})
	StoreRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "conductor_lease_store_request_duration_seconds",
		Help:    "Latency of lease store calls, by backend and operation",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "op"})

	// Election lifecycle metrics
	ElectionAcquired = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_election_acquired_total",
		Help: "Total number of times this process acquired leadership for a lease",
	}, []string{"lease"})
	ElectionLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_election_lost_total",
		Help: "Total number of times this process lost leadership, by reason",
	}, []string{"lease", "reason"})
	ElectionLeading = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conductor_election_leading",
		Help: "1 while this process believes it leads the lease, 0 otherwise",
	}, []string{"lease"})
	// Consecutive failed store attempts driving the current backoff. Reset to
	// zero on every successful call.
	ElectionConsecutiveFailures = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "conductor_election_consecutive_failures",
		Help: "Transient store failures observed in a row by the election loop",
	}, []string{"lease"})

	// Index metrics
	IndexEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_index_events_total",
		Help: "Total number of index cache events delivered to handlers",
	}, []string{"resource", "event"})

	// Requeue metrics
	RequeueScheduled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "conductor_requeue_scheduled_total",
		Help: "Total number of keys scheduled onto a requeue, immediate and deferred",
	}, []string{"queue"})
)

func init() {
	prometheus.MustRegister(StoreRequests)
	prometheus.MustRegister(StoreRequestDuration)
	prometheus.MustRegister(ElectionAcquired)
	prometheus.MustRegister(ElectionLost)
	prometheus.MustRegister(ElectionLeading)
	prometheus.MustRegister(ElectionConsecutiveFailures)
	prometheus.MustRegister(IndexEvents)
	prometheus.MustRegister(RequeueScheduled)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
