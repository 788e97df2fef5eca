// Package metrics provides Prometheus instrumentation for the contest engine.
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
	// JoinsTotal counts contest join attempts by outcome.
	JoinsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_contest_joins_total",
		Help: "Total contest join attempts",
	}, []string{"outcome"})

	// TradesOpened counts virtual trades opened.
	TradesOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_trades_opened_total",
		Help: "Total virtual trades opened",
	})

	// TradesClosed counts virtual trades closed, by trigger.
	TradesClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_trades_closed_total",
		Help: "Total virtual trades closed",
	}, []string{"trigger"}) // "user" or "force"

	// TradeRejections counts trade requests rejected by a constraint.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_trade_rejections_total",
		Help: "Trade requests rejected by trading constraints",
	}, []string{"reason"})

	// ContestsCompleted counts contests swept into COMPLETED.
	ContestsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_contests_completed_total",
		Help: "Contests transitioned to COMPLETED",
	})

	// PrizeCredits counts prize payouts applied to wallets.
	PrizeCredits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_prize_credits_total",
		Help: "Prize credits applied to real-money wallets",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "engine_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is small.
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
