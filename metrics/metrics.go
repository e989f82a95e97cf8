package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus instruments for the chat client core.
type Metrics struct {
	// Pipeline metrics
	TextRequests    prometheus.Counter
	AudioRequests   prometheus.Counter
	RequestFailures prometheus.Counter
	RequestDuration prometheus.Histogram
	RejectedBusy    prometheus.Counter

	// Audio metrics
	RecordingsFinished prometheus.Counter
	RecordingDuration  prometheus.Histogram
	PlaybacksStarted   prometheus.Counter
}

// New creates metrics registered on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith creates metrics registered on the given registerer. Tests pass a
// fresh registry so repeated construction does not collide.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TextRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_text_requests_total",
			Help: "Total text turns dispatched to the assistant",
		}),
		AudioRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_audio_requests_total",
			Help: "Total audio turns dispatched to the assistant",
		}),
		RequestFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_request_failures_total",
			Help: "Total assistant requests that failed",
		}),
		RequestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatkit_request_duration_seconds",
			Help:    "Assistant request round-trip time",
			Buckets: prometheus.DefBuckets,
		}),
		RejectedBusy: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_requests_rejected_busy_total",
			Help: "Turns rejected because a request was already in flight",
		}),
		RecordingsFinished: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_recordings_finished_total",
			Help: "Total voice recordings finalized into clips",
		}),
		RecordingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatkit_recording_duration_seconds",
			Help:    "Length of finalized voice clips",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
		}),
		PlaybacksStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "chatkit_playbacks_started_total",
			Help: "Total audio playbacks started",
		}),
	}
}
