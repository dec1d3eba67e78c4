// Package metrics provides Prometheus instrumentation for the wallet engine.
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
	// LedgerMutations counts committed ledger mutations by transaction type.
	LedgerMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sproutfin_ledger_mutations_total",
		Help: "Committed ledger mutations by transaction type",
	}, []string{"type"})

	// InsufficientFundsTotal counts debits and transfers rejected for lack
	// of balance.
	InsufficientFundsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sproutfin_insufficient_funds_total",
		Help: "Operations rejected with insufficient funds",
	})

	// TradesTotal counts buys and sells, partitioned by asset kind and side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sproutfin_trades_total",
		Help: "Total buy/sell operations executed",
	}, []string{"kind", "side"})

	// SimulationRuns counts daily simulation runs, partitioned by outcome.
	SimulationRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sproutfin_simulation_runs_total",
		Help: "Daily simulation triggers by outcome (ok, duplicate, error)",
	}, []string{"outcome"})

	// SimulationDuration tracks how long a full catalog advance takes.
	SimulationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sproutfin_simulation_duration_seconds",
		Help:    "Duration of a full price simulation pass",
		Buckets: prometheus.DefBuckets,
	})

	// NewsApplied counts news events consumed by the price engine.
	NewsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sproutfin_news_applied_total",
		Help: "News events applied to prices",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sproutfin_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sproutfin_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sproutfin_http_request_duration_seconds",
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
