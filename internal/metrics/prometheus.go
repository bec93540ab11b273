package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageEventsTotal counts mediation stage completions.
	StageEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mediation_stage_events_total",
			Help: "Total number of mediation stage events",
		},
		[]string{"service", "stage", "outcome"},
	)

	// StageDuration observes mediation stage latency.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mediation_stage_duration_seconds",
			Help:    "Duration of mediation stages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "stage"},
	)
)

// promSink records events into Prometheus collectors.
type promSink struct{}

// NewPromSink returns a sink backed by the package's Prometheus collectors.
func NewPromSink() Sink {
	return promSink{}
}

// Emit implements Sink. Vec lookups and observations never block.
func (promSink) Emit(event Event) {
	service := event.Service
	if service == "" {
		service = "unresolved"
	}
	StageEventsTotal.WithLabelValues(service, string(event.Stage), string(event.Outcome)).Inc()
	StageDuration.WithLabelValues(service, string(event.Stage)).Observe(event.Duration.Seconds())
}
