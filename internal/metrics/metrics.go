// Package metrics provides Prometheus instrumentation for the duel server.
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
	// MatchesCreated counts matches opened by a creator.
	MatchesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duel_matches_created_total",
		Help: "Total number of matches created",
	})

	// MatchesCancelled counts waiting matches withdrawn by their creator.
	MatchesCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "duel_matches_cancelled_total",
		Help: "Total number of matches cancelled before start",
	})

	// MatchesSettled counts settlements, partitioned by outcome (win, draw).
	MatchesSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duel_matches_settled_total",
		Help: "Total number of matches settled",
	}, []string{"outcome"})

	// MatchesActive tracks matches currently running against the clock.
	MatchesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duel_matches_active",
		Help: "Number of matches in the active state",
	})

	// MatchesOpen tracks matches waiting for a second player.
	MatchesOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duel_matches_open",
		Help: "Number of matches waiting for an opponent",
	})

	// TradesTotal counts trade attempts by side and result.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duel_trades_total",
		Help: "Total number of trade attempts",
	}, []string{"side", "result"})

	// PriceRefreshes counts feed refreshes by result (ok, error).
	PriceRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duel_price_refreshes_total",
		Help: "Total number of price feed refreshes",
	}, []string{"result"})

	// ConnectedPlayers tracks players with a registered push channel.
	ConnectedPlayers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "duel_connected_players",
		Help: "Number of players with a live WebSocket channel",
	})

	// CommandsTotal counts inbound gateway commands by type and result.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duel_commands_total",
		Help: "Total inbound WebSocket commands",
	}, []string{"type", "result"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duel_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "duel_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency. The chi route pattern is
// used as the path label to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
