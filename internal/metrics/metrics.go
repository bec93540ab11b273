// Package metrics defines the per-stage metric events the mediation core
// emits and the fire-and-forget sink that consumes them.
package metrics

import (
	"time"
)

// Stage identifies the mediation stage a metric event describes.
type Stage string

// Mediation stages.
const (
	StageAuth      Stage = "auth"
	StageTransform Stage = "transform"
	StageDispatch  Stage = "dispatch"
	StageRetry     Stage = "retry"
	StageTotal     Stage = "total"
)

// Outcome describes how a stage completed.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Event is one append-only measurement of a mediation stage. Events are
// emitted immediately when a stage completes, not batched, so metrics stay
// accurate even when a later stage aborts the request.
type Event struct {
	// Service is the proxy service name, empty before routing resolved.
	Service string

	// Stage is the mediation stage measured.
	Stage Stage

	// Duration is how long the stage took.
	Duration time.Duration

	// Outcome is the stage result.
	Outcome Outcome

	// FailureKind describes a failure, empty on success.
	FailureKind string

	// Timestamp is when the stage completed.
	Timestamp time.Time
}

// Success creates a success event for a stage.
func Success(service string, stage Stage, duration time.Duration) Event {
	return Event{
		Service:   service,
		Stage:     stage,
		Duration:  duration,
		Outcome:   OutcomeSuccess,
		Timestamp: time.Now().UTC(),
	}
}

// Failure creates a failure event for a stage.
func Failure(service string, stage Stage, duration time.Duration, kind string) Event {
	return Event{
		Service:     service,
		Stage:       stage,
		Duration:    duration,
		Outcome:     OutcomeFailure,
		FailureKind: kind,
		Timestamp:   time.Now().UTC(),
	}
}

// Sink consumes metric events. Emit must never block or fail the request
// path; delivery is best effort.
type Sink interface {
	Emit(event Event)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(Event)

// Emit implements Sink.
func (f SinkFunc) Emit(event Event) {
	f(event)
}

// NopSink returns a sink that discards all events.
func NopSink() Sink {
	return SinkFunc(func(Event) {})
}

// MultiSink fans events out to several sinks.
func MultiSink(sinks ...Sink) Sink {
	return SinkFunc(func(event Event) {
		for _, s := range sinks {
			s.Emit(event)
		}
	})
}
