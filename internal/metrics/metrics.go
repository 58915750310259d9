// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "wakescribe"

var (
	// framesProduced counts frames the capture hub produced.
	framesProduced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_produced_total",
			Help:      "Total audio frames produced by the capture hub",
		},
	)

	// framesDropped counts frames evicted from a subscriber queue.
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames dropped per subscriber due to backpressure",
		},
		[]string{"subscriber"},
	)

	// stateTransitions counts listener state machine transitions.
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_state_transitions_total",
			Help:      "Total listener state transitions by target state",
		},
		[]string{"state"},
	)

	// utterancesTotal counts finalized utterances by outcome.
	utterancesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_utterances_total",
			Help:      "Total finalized utterances by outcome",
		},
		[]string{"outcome"}, // outcome: ok, error
	)

	// recordingsSaved counts recordings persisted to disk.
	recordingsSaved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_saved_total",
			Help:      "Total recordings persisted to disk",
		},
	)

	// upstreamRequestDuration observes inference upstream call latency.
	upstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of inference upstream calls in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"upstream"}, // upstream: whisper, llm
	)

	// upstreamRequestsTotal counts inference upstream calls.
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Total inference upstream calls",
		},
		[]string{"upstream", "status"}, // status: success, error
	)

	// breakerState tracks each upstream circuit breaker's position.
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstream_breaker_state",
			Help:      "Circuit breaker state per upstream (0 closed, 1 open, 2 half-open)",
		},
		[]string{"upstream"},
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		framesProduced,
		framesDropped,
		stateTransitions,
		utterancesTotal,
		recordingsSaved,
		upstreamRequestDuration,
		upstreamRequestsTotal,
		breakerState,
	}
)

// Register installs all collectors on reg.
func Register(reg prometheus.Registerer) {
	for _, c := range allMetrics {
		reg.MustRegister(c)
	}
}

// FrameProduced records one captured frame.
func FrameProduced() {
	framesProduced.Inc()
}

// FrameDropped records a frame evicted from a subscriber queue.
func FrameDropped(subscriber string) {
	framesDropped.WithLabelValues(subscriber).Inc()
}

// StateTransition records a listener transition into state.
func StateTransition(state string) {
	stateTransitions.WithLabelValues(state).Inc()
}

// UtteranceFinished records a finalized utterance.
func UtteranceFinished(outcome string) {
	utterancesTotal.WithLabelValues(outcome).Inc()
}

// RecordingSaved records a persisted recording.
func RecordingSaved() {
	recordingsSaved.Inc()
}

// UpstreamRequest records one inference upstream call.
func UpstreamRequest(upstream, status string, durationSeconds float64) {
	upstreamRequestDuration.WithLabelValues(upstream).Observe(durationSeconds)
	upstreamRequestsTotal.WithLabelValues(upstream, status).Inc()
}

// BreakerState records an upstream circuit breaker position.
func BreakerState(upstream string, state float64) {
	breakerState.WithLabelValues(upstream).Set(state)
}
