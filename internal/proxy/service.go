package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avmedgw/internal/auth"
	"github.com/vyrodovalexey/avmedgw/internal/backend"
	"github.com/vyrodovalexey/avmedgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/avmedgw/internal/message"
	"github.com/vyrodovalexey/avmedgw/internal/metrics"
	"github.com/vyrodovalexey/avmedgw/internal/observability"
	"github.com/vyrodovalexey/avmedgw/internal/retry"
	"github.com/vyrodovalexey/avmedgw/internal/route"
	"github.com/vyrodovalexey/avmedgw/internal/transform"
)

// Resiliency combines the retry budget and circuit breaker configuration
// guarding a service's backend calls.
type Resiliency struct {
	Retry   retry.Policy
	Breaker circuitbreaker.Config
}

// RateLimit bounds the request rate admitted to a service.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

// Config describes one proxy service. Chains arrive already resolved from
// the transformer registry; the configuration source owns name resolution.
type Config struct {
	// Name is the unique logical service name.
	Name string

	// Target is the backend endpoint URI.
	Target string

	// RequestChain transforms inbound messages before dispatch. Optional.
	RequestChain transform.Unit

	// ResponseChain transforms backend responses. Optional.
	ResponseChain transform.Unit

	// Security is the service's authorization requirement.
	Security auth.Requirement

	// Resiliency guards backend dispatch.
	Resiliency Resiliency

	// Predicate selects this service during content-based routing.
	// Services without a predicate are reachable by name only.
	Predicate *route.Predicate

	// RateLimit optionally bounds admitted request rate.
	RateLimit *RateLimit

	// CallTimeout bounds a single backend attempt. Zero means the caller's
	// deadline alone applies.
	CallTimeout time.Duration
}

// validate checks configuration-time invariants.
func (c Config) validate() error {
	if c.Name == "" {
		return errors.New("service name is required")
	}
	u, err := url.Parse(c.Target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("service %q target %q: %w", c.Name, c.Target, ErrInvalidTarget)
	}
	return nil
}

// Service is a registered proxy service with its live resiliency state.
type Service struct {
	cfg      Config
	endpoint backend.Endpoint
	breaker  *circuitbreaker.Breaker
	limiter  *rate.Limiter
	sink     metrics.Sink
	logger   observability.Logger
}

// newService builds a Service with a fresh, closed circuit breaker.
func newService(cfg Config, endpoint backend.Endpoint, sink metrics.Sink, logger observability.Logger) *Service {
	s := &Service{
		cfg:      cfg,
		endpoint: endpoint,
		breaker:  circuitbreaker.New(cfg.Name, cfg.Resiliency.Breaker, logger),
		sink:     sink,
		logger:   logger.With(observability.String("service", cfg.Name)),
	}
	if cfg.RateLimit != nil && cfg.RateLimit.PerSecond > 0 {
		burst := cfg.RateLimit.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.PerSecond), burst)
	}
	return s
}

// Name returns the service name.
func (s *Service) Name() string { return s.cfg.Name }

// Security returns the service's authorization requirement.
func (s *Service) Security() auth.Requirement { return s.cfg.Security }

// RequestChain returns the request transform, or nil.
func (s *Service) RequestChain() transform.Unit { return s.cfg.RequestChain }

// ResponseChain returns the response transform, or nil.
func (s *Service) ResponseChain() transform.Unit { return s.cfg.ResponseChain }

// matches evaluates the routing predicate against a message. Evaluation
// errors are logged and treated as a non-match so one broken predicate
// cannot wedge routing for every service.
func (s *Service) matches(msg *message.Message) bool {
	if s.cfg.Predicate == nil {
		return false
	}
	matched, err := s.cfg.Predicate.Matches(msg)
	if err != nil {
		s.logger.Warn("routing predicate evaluation failed",
			observability.String("correlation_id", msg.CorrelationID()),
			observability.Error(err),
		)
		return false
	}
	return matched
}

// Dispatch sends the message to the service's backend under the resiliency
// policy. Each attempt runs through the circuit breaker and emits its own
// dispatch-stage metric event; an open circuit fails the call fast without
// touching the backend. Retries back off exponentially and abort when the
// caller's context ends.
func (s *Service) Dispatch(ctx context.Context, msg *message.Message) (*message.Message, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		return nil, fmt.Errorf("service %q: %w", s.cfg.Name, ErrRateLimited)
	}

	var (
		response *message.Message
		attempts int
	)

	attempt := func() error {
		attempts++
		start := time.Now()

		result, err := s.breaker.Execute(func() (any, error) {
			callCtx := ctx
			if s.cfg.CallTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
				defer cancel()
			}
			return s.endpoint.Send(callCtx, s.cfg.Target, msg)
		})

		elapsed := time.Since(start)
		if err != nil {
			s.sink.Emit(metrics.Failure(s.cfg.Name, metrics.StageDispatch, elapsed, failureKind(err)))
			return err
		}

		s.sink.Emit(metrics.Success(s.cfg.Name, metrics.StageDispatch, elapsed))
		response = result.(*message.Message)
		return nil
	}

	opts := &retry.Options{
		ShouldRetry: func(err error) bool {
			// An open circuit stops the remaining retry budget: further
			// attempts would fail fast without probing the backend.
			if errors.Is(err, circuitbreaker.ErrOpen) {
				return false
			}
			return backend.IsRetryable(err)
		},
		OnRetry: func(n int, err error, next time.Duration) {
			s.sink.Emit(metrics.Failure(s.cfg.Name, metrics.StageRetry, 0, failureKind(err)))
			s.logger.Warn("retrying backend dispatch",
				observability.String("correlation_id", msg.CorrelationID()),
				observability.Int("attempt", n),
				observability.Duration("backoff", next),
				observability.Error(err),
			)
		},
	}

	if err := retry.Do(ctx, s.cfg.Resiliency.Retry, attempt, opts); err != nil {
		return nil, &DispatchError{Service: s.cfg.Name, Attempts: attempts, LastCause: err}
	}
	return response, nil
}

// Health is a read-only snapshot of a service's circuit state.
type Health struct {
	State       circuitbreaker.State
	SuccessRate float64
}

// health snapshots the service's circuit without mutating it.
func (s *Service) health() Health {
	return Health{
		State:       s.breaker.State(),
		SuccessRate: s.breaker.SuccessRate(),
	}
}

// failureKind maps a dispatch error onto a stable metric label.
func failureKind(err error) string {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen):
		return "circuit_open"
	case errors.Is(err, backend.ErrTimeout):
		return "timeout"
	case errors.Is(err, backend.ErrConnection):
		return "connection"
	case errors.Is(err, backend.ErrProtocol):
		return "protocol"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}
