package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "equipwatch"

// unmatchedRoute labels requests that no route matched.
const unmatchedRoute = "unmatched"

// Registry holds the service collectors.
//
// Thread Safety: safe for concurrent use; Prometheus vectors are synchronised.
type Registry struct {
	reg *prometheus.Registry

	authEvents   *prometheus.CounterVec
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New creates a Registry with all collectors registered.
func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Security audit events by action and outcome.",
		}, []string{"action", "outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
	}

	r.reg.MustRegister(
		r.authEvents,
		r.httpRequests,
		r.httpDuration,
		r.httpInFlight,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// IncAuthEvent counts one audit entry. Satisfies audit.EventCounter.
func (r *Registry) IncAuthEvent(action, outcome string) {
	r.authEvents.WithLabelValues(action, outcome).Inc()
}

// Handler serves the Prometheus exposition format for this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

// Instrument is chi middleware recording request count, latency and
// in-flight gauge per route pattern.
func (r *Registry) Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.httpInFlight.Inc()
		defer r.httpInFlight.Dec()

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, req)

		route := routePattern(req)
		r.httpDuration.WithLabelValues(req.Method, route).Observe(time.Since(start).Seconds())
		r.httpRequests.WithLabelValues(req.Method, route, strconv.Itoa(sw.code)).Inc()
	})
}

// routePattern returns the matched chi pattern. It must be read after the
// router has served the request.
func routePattern(req *http.Request) string {
	if rctx := chi.RouteContext(req.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return unmatchedRoute
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	code        int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.code = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// Hijack lets the WebSocket upgrade take over an instrumented connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	if !w.wroteHeader {
		w.code = http.StatusSwitchingProtocols
		w.wroteHeader = true
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
