// Package metrics exposes the agent's Prometheus instruments.
package metrics

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ufo_cycles_total", Help: "Completed cycles by outcome"},
		[]string{"outcome"},
	)
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "ufo_cycle_duration_seconds", Help: "Wall time of one cycle", Buckets: prometheus.DefBuckets},
	)
	FetchFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ufo_fetch_failures_total", Help: "Bar fetches that returned no data"},
		[]string{"timeframe"},
	)
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ufo_decisions_total", Help: "Decisions produced by role and action"},
		[]string{"role", "action"},
	)
	RejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ufo_rejections_total", Help: "Decisions rejected by the risk gate"},
		[]string{"reason"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ufo_orders_total", Help: "Orders sent to the broker by status"},
		[]string{"symbol", "status"},
	)
	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ufo_equity", Help: "Account equity in account currency"},
	)
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "ufo_open_positions", Help: "Open positions held by the portfolio"},
	)
	Degraded = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "ufo_degraded_cycles_total", Help: "Cycles run on cached or empty signals"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal, CycleDuration, FetchFailures, DecisionsTotal,
		RejectionsTotal, OrdersTotal, Equity, OpenPositions, Degraded,
	)
}

// Serve binds addr and exposes /metrics on it in the background. A bind
// failure is returned; a later serve failure is logged.
func Serve(addr string, log zerolog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics: listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: ln.Addr().String(), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn().Err(err).Str("addr", srv.Addr).Msg("metrics server stopped")
		}
	}()
	return srv, nil
}
