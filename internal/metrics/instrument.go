package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Instrumenter counts the service's own HTTP traffic under the same
// http_requests_total metric name the demo workload exports, so one set of
// dashboard queries covers both.
type Instrumenter struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

// NewInstrumenter returns an Instrumenter with its own registry. A private
// registry keeps tests that build multiple servers in one process from
// tripping duplicate-registration panics.
func NewInstrumenter() *Instrumenter {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests served.",
	}, []string{"code", "method"})
	registry.MustRegister(requests)

	return &Instrumenter{registry: registry, requests: requests}
}

// Middleware counts each served request by status code and method.
func (i *Instrumenter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		i.requests.WithLabelValues(strconv.Itoa(sw.code), r.Method).Inc()
	})
}

// Handler serves the scrape endpoint in Prometheus text format.
func (i *Instrumenter) Handler() http.Handler {
	return promhttp.HandlerFor(i.registry, promhttp.HandlerOpts{})
}

type statusWriter struct {
	http.ResponseWriter
	code    int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.code = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(p []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(p)
}
