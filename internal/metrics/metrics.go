// Package metrics exposes Prometheus collectors for the archiver service.
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
	mediaDownloadsTotal        *prometheus.CounterVec
	mediaBytesTotal            *prometheus.CounterVec
	itemsFailedTotal           *prometheus.CounterVec
	writeUnitsTotal            *prometheus.CounterVec
	writeUnitDurationSeconds   *prometheus.HistogramVec
	writeQueueDepth            prometheus.Gauge
	relocationsTotal           *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	pacingDelaySeconds         *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		mediaDownloadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_media_downloads_total",
				Help: "Total media downloads, labeled by origin host and status.",
			},
			[]string{"site", "status"},
		)

		mediaBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_media_bytes_total",
				Help: "Total number of media bytes written to the archive, labeled by origin host.",
			},
			[]string{"site"},
		)

		itemsFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_items_failed_total",
				Help: "Feed items skipped because a media file could not be archived, labeled by stage.",
			},
			[]string{"stage"},
		)

		writeUnitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_write_units_total",
				Help: "Mutation units executed by the write serializer, labeled by unit and result.",
			},
			[]string{"unit", "result"},
		)

		writeUnitDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_write_unit_duration_seconds",
				Help:    "Histogram of mutation unit latencies, labeled by unit.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"unit"},
		)

		writeQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_write_queue_depth",
				Help: "Number of mutation units waiting for the write serializer.",
			},
		)

		relocationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_relocations_total",
				Help: "File relocations performed while applying ratings, labeled by outcome.",
			},
			[]string{"outcome"},
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

		pacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_pacing_delay_seconds",
				Help:    "Histogram of crawl pacing waits, labeled by kind.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
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
	Init()
	return promhttp.Handler()
}

// ObserveMediaDownload records a media download attempt.
func ObserveMediaDownload(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	mediaDownloadsTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		mediaBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveItemFailed increments the skipped item counter for the failing stage.
func ObserveItemFailed(stage string) {
	Init()
	itemsFailedTotal.WithLabelValues(stage).Inc()
}

// ObserveWriteUnit records the result and latency of one serializer unit.
func ObserveWriteUnit(unit string, err error, duration time.Duration) {
	Init()
	result := "committed"
	if err != nil {
		result = "rolled_back"
	}
	writeUnitsTotal.WithLabelValues(unit, result).Inc()
	writeUnitDurationSeconds.WithLabelValues(unit).Observe(duration.Seconds())
}

// SetWriteQueueDepth publishes the serializer backlog.
func SetWriteQueueDepth(depth int) {
	Init()
	writeQueueDepth.Set(float64(depth))
}

// ObserveRelocation counts one file resolution outcome.
func ObserveRelocation(outcome string) {
	Init()
	relocationsTotal.WithLabelValues(outcome).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePacingDelay records the duration of a crawl pacing wait.
func ObservePacingDelay(kind string, duration time.Duration) {
	Init()
	pacingDelaySeconds.WithLabelValues(kind).Observe(duration.Seconds())
}
