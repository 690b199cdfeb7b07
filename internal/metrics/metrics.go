// Package metrics provides Prometheus instrumentation for the pairing server.
// It exposes gauges for connection, queue and pair counts, counters for
// message and moderation outcomes, and histograms for latency tracking.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of registered participants.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whisper_connections_total",
		Help: "Current number of registered participants",
	})

	// WaitingParticipants is 1 while the waiting slot is occupied.
	WaitingParticipants = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whisper_waiting_participants",
		Help: "Participants currently waiting for a partner",
	})

	// ActivePairs tracks the current number of paired sessions.
	ActivePairs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whisper_active_pairs",
		Help: "Current number of active pairs",
	})

	// MessagesTotal counts chat messages by outcome.
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_messages_total",
		Help: "Total number of chat messages processed",
	}, []string{"outcome"}) // outcome = "relayed", "spam", "profanity", "invalid", "dropped"

	// SignalsTotal counts relayed signaling payloads by type.
	SignalsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_signals_total",
		Help: "Total number of signaling payloads relayed",
	}, []string{"type"})

	// ViolationsTotal counts abuse score contributions by kind.
	ViolationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_violations_total",
		Help: "Abuse violations by kind",
	}, []string{"kind"}) // kind = "spam", "profanity", "report"

	// ConsequencesTotal counts consequences by action and source.
	ConsequencesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_consequences_total",
		Help: "Moderation consequences applied",
	}, []string{"action", "source"})

	// ConnectRejectedTotal counts refused connections by reason.
	ConnectRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_connect_rejected_total",
		Help: "Connections refused before registration",
	}, []string{"reason"}) // reason = "banned", "rate_limited", "capacity", "duplicate"

	// DisconnectsTotal counts transport-level disconnects by cause.
	DisconnectsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisper_disconnects_total",
		Help: "WebSocket connections removed by the transport",
	}, []string{"reason"}) // reason = "read_error", "write_error", "slow_consumer", "close_frame", "heartbeat", "oversize", "closed", "shutdown"

	// MessageLatency records chat message handling latency in seconds.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "whisper_message_latency_seconds",
		Help:    "Message processing latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	})

	// PairDuration records how long pairs last before teardown.
	PairDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "whisper_pair_duration_seconds",
		Help:    "Lifetime of a pair from match to teardown",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		WaitingParticipants,
		ActivePairs,
		MessagesTotal,
		SignalsTotal,
		ViolationsTotal,
		ConsequencesTotal,
		ConnectRejectedTotal,
		DisconnectsTotal,
		MessageLatency,
		PairDuration,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
