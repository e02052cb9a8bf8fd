// Package metrics exposes Prometheus collectors for discovery and indexing.
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
	fetchBytesTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	robotsTLSHandshakeTimeouts prometheus.Counter
	robotsFetchTotal           *prometheus.CounterVec
	sitemapDocumentsTotal      *prometheus.CounterVec
	linksTotal                 *prometheus.CounterVec
	discoveryProbesTotal       *prometheus.CounterVec
	fulltextOperationsTotal    *prometheus.CounterVec
	fulltextSearchSeconds      *prometheus.HistogramVec
	fulltextPendingChanges     prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescout_fetch_total",
				Help: "Total number of outbound fetches, labeled by site, method and status.",
			},
			[]string{"site", "method", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescout_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		robotsTLSHandshakeTimeouts = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitescout_robots_tls_handshake_timeout_total",
				Help: "Total TLS handshake timeouts encountered while fetching robots.txt.",
			},
		)

		robotsFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescout_robots_fetch_total",
				Help: "Total robots.txt loads, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		sitemapDocumentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescout_sitemap_documents_total",
				Help: "Total sitemap documents processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		linksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescout_links_total",
				Help: "Candidate links seen by the discoverer, labeled by verdict.",
			},
			[]string{"verdict"},
		)

		discoveryProbesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescout_discovery_probes_total",
				Help: "Deep discovery probes, labeled by category and whether the path exists.",
			},
			[]string{"category", "found"},
		)

		fulltextOperationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescout_fulltext_operations_total",
				Help: "Full-text index operations, labeled by resource and operation.",
			},
			[]string{"resource", "op"},
		)

		fulltextSearchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitescout_fulltext_search_duration_seconds",
				Help:    "Histogram of full-text search latencies, labeled by resource.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"resource"},
		)

		fulltextPendingChanges = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sitescout_fulltext_pending_changes",
				Help: "Index entries waiting to be flushed to the resource store.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sitescout_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
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

// ObserveFetch records an outbound fetch.
func ObserveFetch(site, method string, status int, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchTotal.WithLabelValues(sanitizedSite, method, strconv.Itoa(status)).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeTLSHandshakeTimeout increments the robots handshake timeout counter.
func ObserveProbeTLSHandshakeTimeout() {
	Init()
	robotsTLSHandshakeTimeouts.Inc()
}

// ObserveRobotsFetch records a robots.txt load outcome ("ok", "missing", "error").
func ObserveRobotsFetch(outcome string) {
	Init()
	robotsFetchTotal.WithLabelValues(outcome).Inc()
}

// ObserveSitemapDocument records a sitemap document outcome ("parsed", "error", "skipped").
func ObserveSitemapDocument(outcome string) {
	Init()
	sitemapDocumentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveLink records the verdict for one candidate link.
func ObserveLink(verdict string) {
	Init()
	linksTotal.WithLabelValues(verdict).Inc()
}

// ObserveDiscoveryProbe records one HEAD probe made by deep discovery.
func ObserveDiscoveryProbe(category string, found bool) {
	Init()
	discoveryProbesTotal.WithLabelValues(category, strconv.FormatBool(found)).Inc()
}

// ObserveIndexOperation records a full-text index mutation or flush.
func ObserveIndexOperation(resource, op string) {
	Init()
	fulltextOperationsTotal.WithLabelValues(resource, op).Inc()
}

// ObserveSearch records a full-text search latency.
func ObserveSearch(resource string, duration time.Duration) {
	Init()
	fulltextSearchSeconds.WithLabelValues(resource).Observe(duration.Seconds())
}

// SetPendingIndexChanges reports the number of unflushed index entries.
func SetPendingIndexChanges(n int) {
	Init()
	fulltextPendingChanges.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
