// Package metrics provides Prometheus metrics for the nxt-media gateway.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nxtmedia_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nxtmedia_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nxtmedia_uploads_total",
			Help: "Total number of upload attempts",
		},
		[]string{"status"},
	)

	uploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nxtmedia_upload_bytes_total",
			Help: "Total payload bytes stored from uploads",
		},
	)

	cachePopulations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nxtmedia_media_cache_populations_total",
			Help: "Media cache repopulations by result",
		},
		[]string{"result"},
	)

	cacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nxtmedia_media_cache_entries",
			Help: "Number of entries in the media cache",
		},
	)

	routesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "nxtmedia_routes",
			Help: "Number of entries in the route table",
		},
	)

	libraryScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nxtmedia_library_scan_duration_seconds",
			Help:    "Time to re-index the media library",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordUpload records an upload attempt and, on success, its payload size.
func RecordUpload(bytes int64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	uploadsTotal.WithLabelValues(status).Inc()
	if success {
		uploadBytes.Add(float64(bytes))
	}
}

// RecordCachePopulation records a media cache repopulation.
func RecordCachePopulation(entries int, degraded bool) {
	result := "ok"
	if degraded {
		result = "degraded"
	}
	cachePopulations.WithLabelValues(result).Inc()
	cacheSize.Set(float64(entries))
}

// SetRoutes sets the current route table size.
func SetRoutes(n int) {
	routesTotal.Set(float64(n))
}

// RecordLibraryScan records a library re-index duration.
func RecordLibraryScan(d time.Duration) {
	libraryScanDuration.Observe(d.Seconds())
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware is a mux middleware that records request metrics labelled by
// the matched route name, keeping label cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := "unmatched"
		if cr := mux.CurrentRoute(r); cr != nil && cr.GetName() != "" {
			route = cr.GetName()
		}
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
