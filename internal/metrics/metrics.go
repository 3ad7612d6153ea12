// Package metrics provides Prometheus instrumentation for the settlement core.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts settlements performed, partitioned by outcome.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_settlements_total",
		Help: "Total number of settlement records written",
	}, []string{"outcome"})

	// SettlementDuration tracks end-to-end settlement latency.
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "atmx_settlement_duration_seconds",
		Help:    "Settlement latency (load, fetch, resolve, append) in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// WebhookDeliveriesTotal counts webhook delivery results.
	WebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_webhook_deliveries_total",
		Help: "Webhook delivery attempts by final result",
	}, []string{"result"}) // delivered, rejected, exhausted

	// UpstreamFetchErrors counts failed upstream observation/forecast fetches.
	UpstreamFetchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_upstream_fetch_errors_total",
		Help: "Failed upstream fetches by source",
	}, []string{"source"}) // asos, nws, market_engine

	// ExpiredContractsPending tracks expired contracts awaiting settlement.
	ExpiredContractsPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_expired_contracts_pending",
		Help: "Contracts past expiry without a settlement record",
	})

	// EventStreamClients tracks connected websocket event clients.
	EventStreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_event_stream_clients",
		Help: "Number of connected event stream clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// statusRecorder captures the response status for instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP handlers with request counts and durations.
// routePattern should be the chi route pattern, not the raw URL, to bound
// label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
