// Package metrics defines the Prometheus instrumentation for the trading
// engine. All collectors are registered on a private registry so multiple
// instances (e.g. in tests) never collide.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles every collector the engine updates during operation.
type Metrics struct {
	registry *prometheus.Registry

	FillsApplied    prometheus.Counter
	DuplicateFills  prometheus.Counter
	PositionsOpened prometheus.Counter
	PositionsClosed prometheus.Counter
	OpenPositions   prometheus.Gauge

	TrailsApplied  prometheus.Counter
	TrailsRejected *prometheus.CounterVec

	ExitDecisions    *prometheus.CounterVec
	ScanCycles       prometheus.Counter
	Opportunities    prometheus.Counter
	EntriesSubmitted *prometheus.CounterVec

	StreamReconnects prometheus.Counter
	StreamState      *prometheus.GaugeVec
}

// New creates the metric set on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,
		FillsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leverbot_fills_applied_total",
			Help: "Fill events reconciled into position state",
		}),
		DuplicateFills: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leverbot_fills_duplicate_total",
			Help: "Fill events dropped by the idempotency ledger",
		}),
		PositionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leverbot_positions_opened_total",
			Help: "Positions transitioned to OPEN",
		}),
		PositionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leverbot_positions_closed_total",
			Help: "Positions transitioned to CLOSED",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leverbot_positions_open",
			Help: "Currently open positions",
		}),
		TrailsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leverbot_trails_applied_total",
			Help: "Accepted trailing adjustments",
		}),
		TrailsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leverbot_trails_rejected_total",
			Help: "Rejected trailing adjustments by reason",
		}, []string{"reason"}),
		ExitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leverbot_exit_decisions_total",
			Help: "Exit arbiter verdicts by trigger",
		}, []string{"trigger"}),
		ScanCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leverbot_scan_cycles_total",
			Help: "Opportunity scan cycles completed",
		}),
		Opportunities: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leverbot_opportunities_total",
			Help: "Trade opportunities produced by scans",
		}),
		EntriesSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leverbot_entries_submitted_total",
			Help: "Entry orders submitted by venue",
		}, []string{"venue"}),
		StreamReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leverbot_stream_reconnects_total",
			Help: "Fill stream reconnection attempts",
		}),
		StreamState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "leverbot_stream_state",
			Help: "Fill stream state per venue (0 disconnected, 1 connecting, 2 connected, 3 reconnecting)",
		}, []string{"venue"}),
	}

	reg.MustRegister(
		m.FillsApplied, m.DuplicateFills,
		m.PositionsOpened, m.PositionsClosed, m.OpenPositions,
		m.TrailsApplied, m.TrailsRejected,
		m.ExitDecisions, m.ScanCycles, m.Opportunities, m.EntriesSubmitted,
		m.StreamReconnects, m.StreamState,
	)
	return m
}

// Handler serves the registry in Prometheus text exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
