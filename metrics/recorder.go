package metrics

import "time"

// ConnectionOpened increments the active connection gauge.
func ConnectionOpened() {
	connectionsActive.Inc()
}

// ConnectionClosed decrements the active connection gauge and records the stop reason.
func ConnectionClosed(reason string) {
	connectionsActive.Dec()
	if reason == "" {
		reason = "other"
	}
	disconnectsTotal.WithLabelValues(reason).Inc()
}

// InboundDropped counts a discarded client frame.
func InboundDropped(reason string) {
	inboundDropped.WithLabelValues(reason).Inc()
}

// SetRoomsActive sets the number of rooms with local members.
func SetRoomsActive(n int) {
	roomsActive.Set(float64(n))
}

// AnswerStreamStarted counts a new suggestion stream.
func AnswerStreamStarted() {
	answerStreamsStarted.Inc()
}

// AnswerStreamCancelled counts a cancelled suggestion stream.
func AnswerStreamCancelled() {
	answerStreamsCancelled.Inc()
}

// ObserveAnswerStream records the duration of a finished suggestion stream.
func ObserveAnswerStream(reason string, d time.Duration) {
	answerStreamDuration.WithLabelValues(reason).Observe(d.Seconds())
}

// ObserveFanoutDelay records publish-to-receive delay of a remote room event.
// Negative values from clock skew are clamped to zero.
func ObserveFanoutDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	fanoutDelay.Observe(d.Seconds())
}

// ObservePublishLatency records bus publish latency.
func ObservePublishLatency(d time.Duration) {
	redisPublishLatency.Observe(d.Seconds())
}

// ObserveFinalize records a completed turn and its finalize latency.
func ObserveFinalize(reason string, d time.Duration) {
	finalizeLatency.WithLabelValues(reason).Observe(d.Seconds())
	turnsFinalized.WithLabelValues(reason).Inc()
}

// STTWarning counts a transcription warning sent to a client.
func STTWarning(code string) {
	sttWarnings.WithLabelValues(code).Inc()
}

// STTReconnect counts an upstream reconnect attempt outcome.
func STTReconnect(outcome string) {
	sttReconnects.WithLabelValues(outcome).Inc()
}
