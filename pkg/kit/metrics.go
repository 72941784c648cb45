package kit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	labelMethod = "method"
	labelRoute  = "route"
	labelStatus = "status"
)

// HTTPMetrics records request counts, latency and in-flight requests for
// one service. The service name is a constant label so several binaries can
// share a scrape config.
type HTTPMetrics struct {
	Requests *prometheus.CounterVec
	Latency  *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

func NewHTTPMetrics(reg prometheus.Registerer, service string) *HTTPMetrics {
	constLabels := prometheus.Labels{"service": service}

	m := &HTTPMetrics{
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name:        "http_requests_total",
				Help:        "Total HTTP requests",
				ConstLabels: constLabels,
			},
			[]string{labelMethod, labelRoute, labelStatus},
		),
		Latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:        "http_request_duration_seconds",
				Help:        "HTTP latency",
				ConstLabels: constLabels,
				Buckets:     prometheus.DefBuckets,
			},
			[]string{labelMethod, labelRoute},
		),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "HTTP requests currently being served",
			ConstLabels: constLabels,
		}),
	}

	reg.MustRegister(m.Requests, m.Latency, m.InFlight)
	return m
}

func (m *HTTPMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		m.InFlight.Inc()
		start := time.Now()
		next.ServeHTTP(ww, r)
		m.InFlight.Dec()

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		route := RoutePatternOrPath(r)
		m.Latency.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		m.Requests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
	})
}
