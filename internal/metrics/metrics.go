// Package metrics exposes Prometheus collectors for the run scheduler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsSubmittedTotal         *prometheus.CounterVec
	runsCompletedTotal         *prometheus.CounterVec
	runDurationSeconds         *prometheus.HistogramVec
	runRetriesTotal            *prometheus.CounterVec
	dispatchClaimErrorsTotal   prometheus.Counter
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		runsSubmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_runs_submitted_total",
				Help: "Total number of runs accepted at submission, labeled by type and trigger.",
			},
			[]string{"type", "triggered_by"},
		)

		runsCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_runs_completed_total",
				Help: "Total number of runs reaching a terminal status, labeled by type and status.",
			},
			[]string{"type", "status"},
		)

		runDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scheduler_run_duration_seconds",
				Help:    "Histogram of run execution durations, labeled by type.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
			[]string{"type"},
		)

		runRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scheduler_run_retries_total",
				Help: "Total number of retry reschedules, labeled by type and error classification.",
			},
			[]string{"type", "error_type"},
		)

		dispatchClaimErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scheduler_dispatch_claim_errors_total",
				Help: "Total infrastructure errors hit while claiming the next run.",
			},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scheduler_active_workers",
				Help: "Number of workers currently executing a run.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests, labeled by method and status code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSubmission increments the submission counter.
func ObserveSubmission(runType, triggeredBy string) {
	runsSubmittedTotal.WithLabelValues(runType, triggeredBy).Inc()
}

// ObserveCompletion records a terminal transition and the run duration.
func ObserveCompletion(runType, status string, duration time.Duration) {
	runsCompletedTotal.WithLabelValues(runType, status).Inc()
	if duration > 0 {
		runDurationSeconds.WithLabelValues(runType).Observe(duration.Seconds())
	}
}

// ObserveRetry increments the retry counter for the given classification.
func ObserveRetry(runType, errorType string) {
	runRetriesTotal.WithLabelValues(runType, errorType).Inc()
}

// ObserveClaimError increments the dispatch claim error counter.
func ObserveClaimError() {
	dispatchClaimErrorsTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
