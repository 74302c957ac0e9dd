// Package metrics provides Prometheus instrumentation for the match engine.
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
	// MatchRunsTotal counts match runs, partitioned by outcome.
	MatchRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relicx_match_runs_total",
		Help: "Total number of match runs",
	}, []string{"outcome"})

	// BuyOrdersTotal counts pool entries by final result of a match run.
	BuyOrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relicx_buy_orders_total",
		Help: "Buy orders processed by match runs",
	}, []string{"result"})

	// TradeLatency observes per-trade execution time, by supply source.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relicx_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"source"})

	// SettlementPayouts accumulates settled amounts per destination bucket.
	SettlementPayouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relicx_settlement_payout_total",
		Help: "Cumulative settlement payout amounts",
	}, []string{"bucket"})

	// PoolEntriesTotal counts buy orders entering the pool.
	PoolEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relicx_pool_entries_total",
		Help: "Buy orders submitted to the matching pool",
	})

	// AppreciationsTotal counts reference-price step-ups.
	AppreciationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relicx_appreciations_total",
		Help: "Item reference-price appreciations applied",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relicx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relicx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relicx_http_request_duration_seconds",
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

		// Use the raw path for the label; routes here are low-cardinality.
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
