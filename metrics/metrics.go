// Package metrics provides the Prometheus collectors for turnsync sessions.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "turnsync"

var (
	// connectionsActive is a gauge of currently open client sockets.
	connectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Number of currently open voice websocket connections",
		},
	)

	// roomsActive is a gauge of rooms with at least one local member.
	roomsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_rooms_active",
			Help:      "Number of rooms with at least one connection on this instance",
		},
	)

	// disconnectsTotal counts session stops by reason.
	disconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_disconnect_total",
			Help:      "Total number of voice sessions stopped, by reason",
		},
		[]string{"reason"},
	)

	// inboundDropped counts client frames discarded without stopping the session.
	inboundDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_inbound_dropped_total",
			Help:      "Total number of inbound client frames dropped, by reason",
		},
		[]string{"reason"}, // reason: too_large, rate_limited, invalid
	)

	answerStreamsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_streams_started_total",
			Help:      "Total number of answer suggestion streams started",
		},
	)

	answerStreamsCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answer_streams_cancelled_total",
			Help:      "Total number of answer suggestion streams cancelled",
		},
	)

	// answerStreamDuration observes the wall time of a suggestion stream, by outcome.
	answerStreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "answer_stream_duration_seconds",
			Help:      "Duration of answer suggestion streams in seconds",
			Buckets:   []float64{.25, .5, 1, 2, 4, 8, 15, 30, 60},
		},
		[]string{"reason"},
	)

	// fanoutDelay observes publish-to-receive delay for cross-instance room events.
	fanoutDelay = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "room_fanout_delay_seconds",
			Help:      "Delay between bus publish and remote receipt of room events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	redisPublishLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "redis_publish_latency_seconds",
			Help:      "Latency of room event publishes to the distributed bus",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		},
	)

	// finalizeLatency observes how long a turn spends in FINALIZING.
	finalizeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_finalize_latency_seconds",
			Help:      "Time from finalize trigger to completed turn in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"reason"},
	)

	turnsFinalized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_finalized_total",
			Help:      "Total number of turns finalized, by trigger reason",
		},
		[]string{"reason"},
	)

	sttWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_warnings_total",
			Help:      "Total number of transcription warnings sent to clients, by code",
		},
		[]string{"code"},
	)

	// sttReconnects counts upstream transcription reconnect attempts.
	sttReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stt_reconnects_total",
			Help:      "Total number of upstream transcription reconnect attempts, by outcome",
		},
		[]string{"outcome"}, // outcome: success, failure, degraded
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		connectionsActive,
		roomsActive,
		disconnectsTotal,
		inboundDropped,
		answerStreamsStarted,
		answerStreamsCancelled,
		answerStreamDuration,
		fanoutDelay,
		redisPublishLatency,
		finalizeLatency,
		turnsFinalized,
		sttWarnings,
		sttReconnects,
	}
)
