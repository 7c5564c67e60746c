// Package metrics holds the Prometheus collectors exported by cbsetup.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is served on /metrics in server mode. A dedicated registry keeps the
// exposition free of collectors registered by imported libraries.
var Registry = prometheus.NewRegistry()

var (
	// Provisioning metrics
	stepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbsetup",
			Subsystem: "provision",
			Name:      "steps_total",
			Help:      "Total number of provisioning steps by step and result",
		},
		[]string{"step", "result"},
	)

	itemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbsetup",
			Subsystem: "provision",
			Name:      "items_total",
			Help:      "Total number of created resources (bucket, scopes, collections, indexes) by step and result",
		},
		[]string{"step", "result"},
	)

	pollAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbsetup",
			Subsystem: "provision",
			Name:      "poll_attempts_total",
			Help:      "Total number of readiness checks issued while waiting for a service",
		},
		[]string{"target"},
	)

	// Couchbase REST API metrics
	apiCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cbsetup",
			Subsystem: "couchbase",
			Name:      "api_calls_total",
			Help:      "Total number of Couchbase REST calls by operation and result",
		},
		[]string{"operation", "result"},
	)

	apiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cbsetup",
			Subsystem: "couchbase",
			Name:      "api_latency_seconds",
			Help:      "Latency of Couchbase REST calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		},
		[]string{"operation"},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		stepsTotal,
		itemsTotal,
		pollAttemptsTotal,
		apiCallsTotal,
		apiLatency,
	)
}

// RecordStep records the outcome of one provisioning step.
func RecordStep(step, result string) {
	stepsTotal.WithLabelValues(step, result).Inc()
}

// RecordItem records the outcome of a single create call within a step.
func RecordItem(step, result string) {
	itemsTotal.WithLabelValues(step, result).Inc()
}

// RecordPollAttempts adds the number of readiness checks issued for target.
func RecordPollAttempts(target string, attempts int) {
	if attempts <= 0 {
		return
	}
	pollAttemptsTotal.WithLabelValues(target).Add(float64(attempts))
}

// RecordAPICall records a Couchbase REST call.
func RecordAPICall(operation, result string, latency float64) {
	apiCallsTotal.WithLabelValues(operation, result).Inc()
	apiLatency.WithLabelValues(operation).Observe(latency)
}
