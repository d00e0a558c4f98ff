// Package metrics exposes the coordinator's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CallsStarted counts sessions created (not re-attached invites).
	CallsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "call_sessions_started_total",
			Help: "Call sessions created",
		},
	)

	// CallsEnded counts terminal transitions by final status.
	CallsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_sessions_ended_total",
			Help: "Call sessions terminated, by final status",
		},
		[]string{"status"},
	)

	// SignalPublished counts signaling channel publishes by event type.
	SignalPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "signal_published_total",
			Help: "Signaling events published",
		},
		[]string{"type"},
	)

	// WatchdogsActive tracks armed no-answer watchdogs.
	WatchdogsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "call_watchdogs_active",
			Help: "Armed call timeout watchdogs",
		},
	)

	// ConnectionsActive tracks live websocket connections.
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Active websocket connections",
		},
	)

	// HistoryRecorded counts history recorder invocations by outcome.
	HistoryRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_history_recorded_total",
			Help: "History recorder runs, by result (inserted, reused, failed)",
		},
		[]string{"result"},
	)
)
