// Package metrics provides Prometheus instrumentation for the rewards engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atmx/rewards-engine/internal/fixed"
)

var (
	// LedgerOpsTotal counts ledger entry point calls by operation and result.
	LedgerOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewards_ledger_ops_total",
		Help: "Total ledger operations by result",
	}, []string{"op", "result"})

	// LedgerOpLatency tracks ledger operation latency including persistence.
	LedgerOpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rewards_ledger_op_latency_seconds",
		Help:    "Ledger operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	// TotalStaked is the current total stake, in tokens.
	TotalStaked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewards_total_staked",
		Help: "Total stake recorded in the ledger (tokens)",
	})

	// RewardRate is the current reward rate, in tokens per second.
	RewardRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewards_reward_rate",
		Help: "Current reward rate (tokens per second)",
	})

	// PeriodFinish is the end of the current distribution period (unix seconds).
	PeriodFinish = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewards_period_finish_timestamp_seconds",
		Help: "End of the current distribution period",
	})

	// Paused is 1 while enrolment is paused.
	Paused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewards_paused",
		Help: "Whether the ledger is paused (1) or not (0)",
	})

	// RewardsFundedTotal is the cumulative reward notified, in tokens.
	RewardsFundedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewards_funded_tokens_total",
		Help: "Cumulative rewards notified to the ledger (tokens)",
	})

	// RewardsPaidTotal is the cumulative reward paid out, in tokens.
	RewardsPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewards_paid_tokens_total",
		Help: "Cumulative rewards paid to accounts (tokens)",
	})

	// PersistFailures counts snapshot/event writes that failed.
	PersistFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewards_persist_failures_total",
		Help: "Failed writes of ledger state or events to the store",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewards_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewards_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rewards_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Tokens converts raw units to a float for gauges and counters. Lossy.
func Tokens(x *uint256.Int) float64 {
	return fixed.ToDecimal(x).InexactFloat64()
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
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

// Hijack passes through to the underlying writer for WebSocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
