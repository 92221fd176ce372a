// Package metrics exposes Prometheus collectors for the scraper.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page outcome labels.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

var (
	pagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crawler_pages_total",
			Help: "Total number of catalogue pages processed, labeled by status.",
		},
		[]string{"status"},
	)

	recordsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_records_total",
			Help: "Total number of book records extracted.",
		},
	)

	fetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Histogram of page fetch latencies through the proxy, labeled by site.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"site"},
	)

	fetchRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crawler_fetch_retries_total",
			Help: "Total number of fetch retries after transient failures.",
		},
	)

	inFlightFetches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_inflight_fetches",
			Help: "Number of fetches currently holding a concurrency slot.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crawler_rate_limit_delays_seconds",
			Help:    "Histogram of rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"domain"},
	)

	exportRows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "crawler_export_rows",
			Help: "Number of data rows written by the last export.",
		},
	)
)

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

// ObservePage counts a finished page and the records it produced.
func ObservePage(status string, records int) {
	pagesTotal.WithLabelValues(status).Inc()
	if records > 0 {
		recordsTotal.Add(float64(records))
	}
}

// ObserveFetch records the latency of one fetch attempt.
func ObserveFetch(rawURL string, duration time.Duration) {
	fetchDurationSeconds.WithLabelValues(SanitizeSite(rawURL)).Observe(duration.Seconds())
}

// ObserveRetry increments the retry counter.
func ObserveRetry() {
	fetchRetriesTotal.Inc()
}

// IncInFlight increments the in-flight fetch gauge.
func IncInFlight() {
	inFlightFetches.Inc()
}

// DecInFlight decrements the in-flight fetch gauge.
func DecInFlight() {
	inFlightFetches.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// SetExportRows records the size of the last export.
func SetExportRows(n int) {
	exportRows.Set(float64(n))
}

// WriteTextfile dumps the default registry in the text exposition format, for
// pickup by the node_exporter textfile collector.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
