package circuitbreaker

import (
	"errors"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/avmedgw/internal/observability"
)

// ErrOpen is returned when a call is rejected because the circuit is open
// or the half-open trial budget is exhausted. The protected function is not
// invoked in either case.
var ErrOpen = errors.New("circuit breaker is open")

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates calls pass through.
	StateClosed State = iota

	// StateOpen indicates calls fail fast without reaching the backend.
	StateOpen

	// StateHalfOpen indicates a limited number of trial calls probe recovery.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker wraps gobreaker.CircuitBreaker with the gateway's transition
// policy: closed opens after FailureThreshold consecutive failures, open
// admits trial calls after OpenDuration, and half-open closes after
// HalfOpenTrials consecutive successes or reopens on the first failure.
type Breaker struct {
	cb     *gobreaker.CircuitBreaker
	logger observability.Logger
}

// New creates a circuit breaker for the named service.
func New(name string, cfg Config, logger observability.Logger) *Breaker {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = observability.NopLogger()
	}

	b := &Breaker{logger: logger}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.HalfOpenTrials,
		Interval:    cfg.SamplingInterval,
		Timeout:     cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Info("circuit breaker state change",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
			RecordStateChange(name, fromGobreaker(from), fromGobreaker(to))
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(settings)
	RecordState(name, b.State())
	return b
}

// Execute runs fn under circuit breaker protection. When the circuit is
// open, fn is not invoked and ErrOpen is returned. Every completed call
// feeds the breaker's failure counters, so retries of a single logical
// request each count individually.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		RecordRejection(b.cb.Name())
		return nil, ErrOpen
	}
	return result, err
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.cb.Name()
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	return fromGobreaker(b.cb.State())
}

// Counts returns the raw request counters for the current window.
func (b *Breaker) Counts() gobreaker.Counts {
	return b.cb.Counts()
}

// SuccessRate returns the success ratio over the current sampling window.
// It reports 1.0 when no requests have been recorded.
func (b *Breaker) SuccessRate() float64 {
	counts := b.cb.Counts()
	if counts.Requests == 0 {
		return 1.0
	}
	return float64(counts.TotalSuccesses) / float64(counts.Requests)
}

// fromGobreaker maps a gobreaker state onto the gateway state enum.
func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}
