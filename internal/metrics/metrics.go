// Package metrics provides Prometheus instrumentation for the market engine.
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
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BetsTotal counts accepted bets, partitioned by mechanism and outcome.
	BetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_bets_total",
		Help: "Total number of bets placed",
	}, []string{"mechanism", "outcome"})

	// BetVolume tracks cumulative principal wagered per mechanism.
	BetVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_bet_volume_total",
		Help: "Cumulative amount wagered",
	}, []string{"mechanism"})

	// BetLatency is the time from request to committed bet.
	BetLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_engine_bet_latency_seconds",
		Help:    "Bet execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"mechanism"})

	// SalesTotal counts bets sold back to the pool.
	SalesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_sales_total",
		Help: "Total number of bets sold",
	}, []string{"mechanism"})

	// ResolutionsTotal counts resolved contracts by kind (YES, NO, MKT,
	// CANCEL, or ANSWER for any multi-outcome answer).
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_resolutions_total",
		Help: "Total number of contracts resolved",
	}, []string{"mechanism", "kind"})

	// PayoutVolume tracks cumulative amount paid out at resolution.
	PayoutVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_payout_volume_total",
		Help: "Cumulative amount paid out at resolution",
	}, []string{"mechanism"})

	// OpenContracts tracks the number of unresolved contracts.
	OpenContracts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_engine_open_contracts",
		Help: "Number of currently unresolved contracts",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "market_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// PositionLimitRejections counts bets rejected by the position limiter.
	PositionLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_engine_position_limit_rejections_total",
		Help: "Bets rejected by position limiter",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ResolutionKind maps a resolution outcome to a bounded label value.
func ResolutionKind(resolution string) string {
	switch resolution {
	case "YES", "NO", "MKT", "CANCEL":
		return resolution
	default:
		return "ANSWER"
	}
}

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

		path := routePattern(r)
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// routePattern returns the matched chi route ("/api/v1/contracts/{contractID}")
// so IDs do not explode label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
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

// Hijack passes through to the underlying writer for websocket upgrades.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
