// Package audit records authorization outcomes as structured, append-only
// events. Recording is fire-and-forget: the request path never blocks on
// the audit trail.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/avmedgw/internal/observability"
)

// Outcome represents the outcome of an audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// Event represents one audit record.
type Event struct {
	// ID is a unique identifier for the event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Subject is the caller the event concerns.
	Subject string `json:"subject"`

	// Service is the proxy service involved, if resolved.
	Service string `json:"service,omitempty"`

	// Outcome is the outcome of the action.
	Outcome Outcome `json:"outcome"`

	// Reason explains a denial or error.
	Reason string `json:"reason,omitempty"`

	// CorrelationID ties the event to the mediated message.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NewEvent creates an audit event with a generated ID and UTC timestamp.
func NewEvent(subject, service string, outcome Outcome, reason, correlationID string) Event {
	return Event{
		ID:            uuid.New().String(),
		Timestamp:     time.Now().UTC(),
		Subject:       subject,
		Service:       service,
		Outcome:       outcome,
		Reason:        reason,
		CorrelationID: correlationID,
	}
}

// Recorder consumes audit events.
type Recorder interface {
	Record(event Event)
	Close()
}

// logRecorder writes audit events through the structured logger from a
// single background goroutine. Events are dropped rather than blocking the
// request path when the buffer is full.
type logRecorder struct {
	mu     sync.Mutex
	closed bool
	events chan Event
	done   chan struct{}
	logger observability.Logger
}

// NewLogRecorder creates a Recorder that emits events via the logger.
func NewLogRecorder(logger observability.Logger, buffer int) Recorder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	if buffer < 1 {
		buffer = 256
	}

	r := &logRecorder{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.run()
	return r
}

// Record enqueues an event, dropping it when the buffer is full or the
// recorder is closed.
func (r *logRecorder) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}

	select {
	case r.events <- event:
	default:
		r.logger.Warn("audit buffer full, event dropped",
			observability.String("subject", event.Subject),
			observability.String("outcome", string(event.Outcome)),
		)
	}
}

// Close drains buffered events and stops the recorder. It is idempotent,
// and a Record racing Close loses its event rather than panicking.
func (r *logRecorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.events)
	r.mu.Unlock()

	<-r.done
}

func (r *logRecorder) run() {
	defer close(r.done)
	for event := range r.events {
		r.logger.Info("audit",
			observability.String("event_id", event.ID),
			observability.String("subject", event.Subject),
			observability.String("service", event.Service),
			observability.String("outcome", string(event.Outcome)),
			observability.String("reason", event.Reason),
			observability.String("correlation_id", event.CorrelationID),
			observability.Time("at", event.Timestamp),
		)
	}
}

// NopRecorder returns a recorder that discards all events.
func NopRecorder() Recorder {
	return nopRecorder{}
}

type nopRecorder struct{}

func (nopRecorder) Record(Event) {}
func (nopRecorder) Close()       {}
