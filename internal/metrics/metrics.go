// Package metrics exposes Prometheus collectors for the wage ETL.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpAttemptsTotal          *prometheus.CounterVec
	httpRetriesTotal           *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	courtesyDelaySeconds       prometheus.Histogram
	entitiesTotal              *prometheus.CounterVec
	recordsTotal               *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	serverRequestsTotal        *prometheus.CounterVec
	serverRequestDurationsSecs *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call multiple times, and every
// Observe helper calls it.
func Init() {
	once.Do(func() {
		httpAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wage_etl_http_requests_total",
				Help: "Upstream HTTP attempts, labeled by host and outcome.",
			},
			[]string{"host", "outcome"},
		)
		httpRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wage_etl_http_retries_total",
				Help: "Upstream HTTP retries scheduled, labeled by host.",
			},
			[]string{"host"},
		)
		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wage_etl_cache_lookups_total",
				Help: "Response cache lookups, labeled by result.",
			},
			[]string{"result"},
		)
		courtesyDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "wage_etl_courtesy_delay_seconds",
				Help:    "Time spent waiting on the shared request pacer.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
		)
		entitiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wage_etl_entities_total",
				Help: "Counties processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wage_etl_records_total",
				Help: "Long-format records, labeled by kind and result.",
			},
			[]string{"kind", "result"},
		)
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wage_etl_runs_total",
				Help: "Completed runs, labeled by final status.",
			},
			[]string{"status"},
		)
		serverRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "wage_etl_server_requests_total",
				Help: "Status server requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		serverRequestDurationsSecs = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "wage_etl_server_request_duration_seconds",
				Help:    "Status server latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// HostOf extracts a lowercase hostname for labeling, or "unknown".
func HostOf(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPAttempt counts one network attempt.
func ObserveHTTPAttempt(rawURL, outcome string) {
	Init()
	httpAttemptsTotal.WithLabelValues(HostOf(rawURL), outcome).Inc()
}

// ObserveRetry counts one scheduled retry.
func ObserveRetry(rawURL string) {
	Init()
	httpRetriesTotal.WithLabelValues(HostOf(rawURL)).Inc()
}

// ObserveCacheLookup counts a cache lookup result (hit, miss, expired, error).
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveCourtesyDelay records a pacer wait.
func ObserveCourtesyDelay(d time.Duration) {
	Init()
	courtesyDelaySeconds.Observe(d.Seconds())
}

// ObserveEntity counts a processed county.
func ObserveEntity(outcome string) {
	Init()
	entitiesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecords adds n records of kind with the given result.
func ObserveRecords(kind, result string, n int) {
	if n <= 0 {
		return
	}
	Init()
	recordsTotal.WithLabelValues(kind, result).Add(float64(n))
}

// ObserveRun counts a closed run.
func ObserveRun(status string) {
	Init()
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveServerRequest records one status server request.
func ObserveServerRequest(method, route string, code int, duration time.Duration) {
	Init()
	serverRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	serverRequestDurationsSecs.WithLabelValues(method, route).Observe(duration.Seconds())
}
