// Package metrics provides Prometheus instrumentation for the checkout engine.
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
	// OrdersTotal counts checkout attempts by payment method and outcome.
	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_orders_total",
		Help: "Total checkout attempts",
	}, []string{"method", "outcome"})

	// CheckoutLatency tracks end-to-end checkout duration by payment method.
	CheckoutLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_duration_seconds",
		Help:    "Checkout orchestration latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	// WalletRejections counts deductions refused for insufficient funds.
	WalletRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "checkout_wallet_insufficient_funds_total",
		Help: "Wallet deductions rejected for insufficient funds",
	})

	// TicketsIssued counts lottery tickets issued, partitioned by category.
	TicketsIssued = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_tickets_issued_total",
		Help: "Lottery tickets issued",
	}, []string{"category"})

	// DrawsConducted counts draw conductions by outcome.
	DrawsConducted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_draws_conducted_total",
		Help: "Draw conduction attempts",
	}, []string{"outcome"})

	// SweepResolutions counts orders resolved by the reconciliation sweep.
	SweepResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_sweep_resolutions_total",
		Help: "Stale gateway orders resolved by the reconciliation sweep",
	}, []string{"resolution"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "checkout_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
