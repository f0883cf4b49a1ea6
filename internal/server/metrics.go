package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the route pattern rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// searchRequestsTotal counts /api/search calls by outcome ("ok", "error").
	searchRequestsTotal *prometheus.CounterVec

	// searchDurationSeconds records the end-to-end search latency.
	searchDurationSeconds *prometheus.HistogramVec

	// searchResults records how many results each successful search returned.
	searchResults prometheus.Histogram

	// ingestRequestsTotal counts ingestions (ingest and upload) by outcome.
	ingestRequestsTotal *prometheus.CounterVec

	// ingestDurationSeconds records the ingestion latency.
	ingestDurationSeconds *prometheus.HistogramVec

	// ingestChunksTotal counts chunks written by successful ingestions.
	ingestChunksTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, path pattern, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrofinder",
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Total number of searches completed, partitioned by outcome.",
		}, []string{"outcome"}),

		searchDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agrofinder",
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search latency including query embedding and vector lookup.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"outcome"}),

		searchResults: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agrofinder",
			Subsystem: "search",
			Name:      "results",
			Help:      "Number of results returned per successful search.",
			Buckets:   []float64{0, 1, 5, 10, 20, 50},
		}),

		ingestRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrofinder",
			Subsystem: "ingest",
			Name:      "requests_total",
			Help:      "Total number of document ingestions, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agrofinder",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a document ingestion.",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"outcome"}),

		ingestChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "agrofinder",
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Total number of chunks written by successful ingestions.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agrofinder",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agrofinder",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

func (m *serverMetrics) observeSearch(outcome string, d time.Duration, results int) {
	m.searchRequestsTotal.WithLabelValues(outcome).Inc()
	m.searchDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
	if outcome == "ok" {
		m.searchResults.Observe(float64(results))
	}
}

func (m *serverMetrics) observeIngest(outcome string, d time.Duration, chunks int) {
	m.ingestRequestsTotal.WithLabelValues(outcome).Inc()
	m.ingestDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
	m.ingestChunksTotal.Add(float64(chunks))
}

// instrument records request counts and latency per route pattern. The mux
// sets r.Pattern on the request it is handed, so next must be the mux itself.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}

		start := time.Now()
		next.ServeHTTP(rw, r)

		handler := r.Pattern
		if handler == "" {
			handler = "unmatched"
		}
		s.metrics.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
		s.metrics.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
	})
}
