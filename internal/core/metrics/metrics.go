// Package metrics provides Prometheus metrics for the telephony gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "telephony_gateway"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Call metrics
	CallsStarted prometheus.Counter
	CallsEnded   prometheus.Counter
	CallsActive  prometheus.Gauge

	// Dialog metrics
	DialogTransitions *prometheus.CounterVec
	DialogBranches    *prometheus.CounterVec
	WebhookFallbacks  *prometheus.CounterVec

	// Stream metrics
	StreamsTotal    prometheus.Counter
	StreamsActive   prometheus.Gauge
	StreamsRejected *prometheus.CounterVec
	StreamTeardowns *prometheus.CounterVec

	// Audio metrics
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	FramesLate     prometheus.Counter

	// Collaborator metrics
	CollaboratorErrors  *prometheus.CounterVec
	CollaboratorLatency *prometheus.HistogramVec
}

// NewMetrics creates all metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		CallsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Total number of calls seen for the first time",
		}),
		CallsEnded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_ended_total",
			Help:      "Total number of calls marked inactive",
		}),
		CallsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of currently active calls",
		}),
		DialogTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialog_transitions_total",
			Help:      "Dialog state transitions by source and target state",
		}, []string{"from", "to"}),
		DialogBranches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dialog_branches_total",
			Help:      "Responses produced by dialog branch",
		}, []string{"branch"}),
		WebhookFallbacks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_fallbacks_total",
			Help:      "Webhooks answered with the generic failure document",
		}, []string{"event"}),
		StreamsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_total",
			Help:      "Total number of media streams registered",
		}),
		StreamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "streams_active",
			Help:      "Number of currently registered media streams",
		}),
		StreamsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_rejected_total",
			Help:      "Media stream registrations or upgrades refused",
		}, []string{"reason"}),
		StreamTeardowns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_teardowns_total",
			Help:      "Media stream teardowns by trigger",
		}, []string{"reason"}),
		FramesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Audio frames appended to a live stream",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Oldest audio frames evicted from a full stream buffer",
		}),
		FramesLate: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_late_total",
			Help:      "Audio frames that arrived for a call with no live stream",
		}),
		CollaboratorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "collaborator_errors_total",
			Help:      "Failed calls to completion, synthesis or transcription services",
		}, []string{"collaborator"}),
		CollaboratorLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "collaborator_latency_seconds",
			Help:      "Latency of collaborator calls in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"collaborator"}),
	}
}

// Discard returns metrics registered to a private registry, for tests and
// components constructed without a shared registry.
func Discard() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
