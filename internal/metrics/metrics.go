// Package metrics exposes Prometheus collectors for the collector service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchesTotal          *prometheus.CounterVec
	contentIngestedTotal  *prometheus.CounterVec
	remoteCallsTotal      *prometheus.CounterVec
	sourceRunsTotal       *prometheus.CounterVec
	originWaitSeconds     *prometheus.HistogramVec
	rateLimitPauseSeconds prometheus.Histogram
	passDurationSeconds   prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_fetches_total",
				Help: "Total HTTP fetches, labeled by origin and outcome.",
			},
			[]string{"origin", "outcome"},
		)

		contentIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_content_ingested_total",
				Help: "Total content rows written, labeled by source and kind.",
			},
			[]string{"source", "kind"},
		)

		remoteCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_remote_calls_total",
				Help: "Total LLM/transcription calls, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		sourceRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "collector_source_runs_total",
				Help: "Total source fetch runs, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		originWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "collector_origin_wait_seconds",
				Help:    "Histogram of per-origin politeness waits.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"origin"},
		)

		rateLimitPauseSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "collector_rate_limit_pause_seconds",
				Help:    "Histogram of server-directed rate limit pauses.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
			},
		)

		passDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "collector_pass_duration_seconds",
				Help:    "Histogram of full ingestion pass durations.",
				Buckets: []float64{1, 5, 15, 60, 180, 600, 1800},
			},
		)
	})
}

// SanitizeOrigin reduces a URL to a lowercase hostname label.
// It returns "unknown" if the URL is invalid.
func SanitizeOrigin(rawURL string) string {
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

// ObserveFetch counts one HTTP fetch.
func ObserveFetch(rawURL string, outcome string) {
	Init()
	fetchesTotal.WithLabelValues(SanitizeOrigin(rawURL), outcome).Inc()
}

// ObserveContent counts one content row written.
func ObserveContent(sourceID, kind string) {
	Init()
	contentIngestedTotal.WithLabelValues(sourceID, kind).Inc()
}

// ObserveRemoteCall counts one remote enrichment call.
func ObserveRemoteCall(kind, outcome string) {
	Init()
	remoteCallsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveSourceRun counts one source fetch run.
func ObserveSourceRun(sourceID, status string) {
	Init()
	sourceRunsTotal.WithLabelValues(sourceID, status).Inc()
}

// ObserveOriginWait records a politeness wait on an origin queue.
func ObserveOriginWait(origin string, d time.Duration) {
	Init()
	originWaitSeconds.WithLabelValues(origin).Observe(d.Seconds())
}

// ObserveRateLimitPause records a server-directed pause duration.
func ObserveRateLimitPause(d time.Duration) {
	Init()
	rateLimitPauseSeconds.Observe(d.Seconds())
}

// ObservePassDuration records a full ingestion pass duration.
func ObservePassDuration(d time.Duration) {
	Init()
	passDurationSeconds.Observe(d.Seconds())
}
