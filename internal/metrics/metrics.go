// Package metrics exposes Prometheus collectors for the discovery service.
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
	fetchTotal                 *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	fetchBytesTotal            *prometheus.CounterVec
	breakerState               *prometheus.GaugeVec
	breakerTransitionsTotal    *prometheus.CounterVec
	pacingDelaySeconds         *prometheus.HistogramVec
	skippedURLsTotal           *prometheus.CounterVec
	discoveriesTotal           *prometheus.CounterVec
	batchFlushTotal            *prometheus.CounterVec
	detectionTotal             *prometheus.CounterVec
	runsTotal                  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Breaker state values reported by the breaker gauge.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supplier_fetch_total",
				Help: "Render calls, labeled by site and outcome (ok or error kind).",
			},
			[]string{"site", "outcome"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "supplier_fetch_duration_seconds",
				Help:    "Latency of resilient fetches including retries, labeled by site.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45, 90},
			},
			[]string{"site"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supplier_fetch_bytes_total",
				Help: "Rendered HTML bytes received, labeled by site.",
			},
			[]string{"site"},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "supplier_breaker_state",
				Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
			},
			[]string{"breaker"},
		)

		breakerTransitionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supplier_breaker_transitions_total",
				Help: "Circuit breaker state changes, labeled by target state.",
			},
			[]string{"breaker", "to"},
		)

		pacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "supplier_pacing_delay_seconds",
				Help:    "Histogram of pre-fetch pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		skippedURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supplier_skipped_urls_total",
				Help: "URLs dequeued but not fetched, labeled by site and reason.",
			},
			[]string{"site", "reason"},
		)

		discoveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supplier_discoveries_total",
				Help: "Discovered pages, labeled by site and type (product or offer).",
			},
			[]string{"site", "type"},
		)

		batchFlushTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supplier_batch_flush_total",
				Help: "Batch persistence attempts, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		detectionTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supplier_detection_total",
				Help: "New-item matcher outcomes, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supplier_runs_total",
				Help: "Total number of runs processed, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "supplier_active_workers",
				Help: "Number of workers currently processing a run.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
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

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
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

// ObserveFetch records one resilient fetch.
func ObserveFetch(site, outcome string, bytes int, duration time.Duration) {
	if fetchTotal == nil {
		return
	}
	sanitized := SanitizeSite(site)
	fetchTotal.WithLabelValues(sanitized, outcome).Inc()
	fetchDurationSeconds.WithLabelValues(sanitized).Observe(duration.Seconds())
	if bytes > 0 {
		fetchBytesTotal.WithLabelValues(sanitized).Add(float64(bytes))
	}
}

// SetBreakerState publishes the breaker's current state.
func SetBreakerState(name string, state int) {
	if breakerState == nil {
		return
	}
	breakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveBreakerTransition counts a breaker state change.
func ObserveBreakerTransition(name, to string) {
	if breakerTransitionsTotal == nil {
		return
	}
	breakerTransitionsTotal.WithLabelValues(name, to).Inc()
}

// ObservePacingDelay records a pacing wait before a fetch.
func ObservePacingDelay(domain string, duration time.Duration) {
	if pacingDelaySeconds == nil {
		return
	}
	pacingDelaySeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveSkip counts a URL that was dequeued but not fetched.
func ObserveSkip(site, reason string) {
	if skippedURLsTotal == nil {
		return
	}
	skippedURLsTotal.WithLabelValues(SanitizeSite(site), reason).Inc()
}

// ObserveDiscovery counts a discovered product or offer page.
func ObserveDiscovery(site, kind string) {
	if discoveriesTotal == nil {
		return
	}
	discoveriesTotal.WithLabelValues(SanitizeSite(site), kind).Inc()
}

// ObserveBatchFlush counts a batch persistence attempt.
func ObserveBatchFlush(site string, ok bool) {
	if batchFlushTotal == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	batchFlushTotal.WithLabelValues(SanitizeSite(site), result).Inc()
}

// ObserveDetection adds n items to a matcher outcome.
func ObserveDetection(outcome string, n int) {
	if detectionTotal == nil || n <= 0 {
		return
	}
	detectionTotal.WithLabelValues(outcome).Add(float64(n))
}

// ObserveRun increments the run counter for the given status.
func ObserveRun(status string) {
	if runsTotal == nil {
		return
	}
	runsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
