// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "amlwatch"

var (
	// httpRequests counts served API requests.
	// Labels: method, route (chi route pattern), status
	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests served",
	}, []string{"method", "route", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// upstreamRequests counts calls to the auth, ledger and auditor services.
	// Labels: service, operation, outcome (ok, unauthorized, forbidden, error)
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Total upstream service calls",
	}, []string{"service", "operation", "outcome"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Upstream call latency in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"service", "operation"})

	graphsBuilt = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "built_total",
		Help:      "Transaction graphs built, by shape",
	}, []string{"shape"})

	chainCache = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "chain_cache",
		Name:      "lookups_total",
		Help:      "Chain cache lookups by result (hit, miss, invalidated)",
	}, []string{"result"})

	ledgerEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "new_block_events_total",
		Help:      "new_block events received from the ledger",
	})

	flaggedSynced = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "flagged",
		Name:      "synced_total",
		Help:      "Flagged transactions projected into the graph store",
	}, []string{"outcome"})
)

// ObserveHTTP records one served request.
func ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpLatency.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveUpstream records one upstream call.
func ObserveUpstream(service, operation, outcome string, elapsed time.Duration) {
	upstreamRequests.WithLabelValues(service, operation, outcome).Inc()
	upstreamLatency.WithLabelValues(service, operation).Observe(elapsed.Seconds())
}

// GraphBuilt counts a built graph. shape is "cluster", "path" or "empty".
func GraphBuilt(shape string) {
	graphsBuilt.WithLabelValues(shape).Inc()
}

// ChainCache counts a chain cache lookup result.
func ChainCache(result string) {
	chainCache.WithLabelValues(result).Inc()
}

// LedgerEvent counts a received new_block event.
func LedgerEvent() {
	ledgerEvents.Inc()
}

// FlaggedSynced counts projected flagged transactions.
func FlaggedSynced(outcome string, n int) {
	flaggedSynced.WithLabelValues(outcome).Add(float64(n))
}
