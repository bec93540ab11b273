package mediation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vyrodovalexey/avmedgw/internal/audit"
	"github.com/vyrodovalexey/avmedgw/internal/auth"
	"github.com/vyrodovalexey/avmedgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/avmedgw/internal/message"
	"github.com/vyrodovalexey/avmedgw/internal/metrics"
	"github.com/vyrodovalexey/avmedgw/internal/observability"
	"github.com/vyrodovalexey/avmedgw/internal/proxy"
	"github.com/vyrodovalexey/avmedgw/internal/transform"
)

// Mediator orchestrates one mediation per call: authorize, route,
// transform, dispatch, transform back, and report. It holds no per-request
// state, so a single Mediator serves concurrent requests.
type Mediator struct {
	authorizer auth.Authorizer
	manager    *proxy.Manager
	sink       metrics.Sink
	auditor    audit.Recorder
	logger     observability.Logger
}

// Option is a functional option for the Mediator.
type Option func(*Mediator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Mediator) {
		m.logger = logger
	}
}

// WithSink sets the metric event sink.
func WithSink(sink metrics.Sink) Option {
	return func(m *Mediator) {
		m.sink = sink
	}
}

// WithAuditor sets the audit recorder.
func WithAuditor(auditor audit.Recorder) Option {
	return func(m *Mediator) {
		m.auditor = auditor
	}
}

// New creates a Mediator.
func New(authorizer auth.Authorizer, manager *proxy.Manager, opts ...Option) *Mediator {
	m := &Mediator{
		authorizer: authorizer,
		manager:    manager,
		sink:       metrics.NopSink(),
		auditor:    audit.NopRecorder(),
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle mediates one message end to end. When requestedService is empty
// the target is selected by routing predicate. Every stage emits its metric
// event immediately on completion; failures are returned as *Error and
// never crash the process.
//
// The target service is resolved before the authorization check because the
// security requirement is per-service; authorization remains the first
// stage with observable side effects.
func (m *Mediator) Handle(ctx context.Context, msg *message.Message, identity auth.Identity, requestedService string) (*message.Message, error) {
	start := time.Now()
	ctx = observability.ContextWithCorrelationID(ctx, msg.CorrelationID())
	logger := m.logger.WithContext(ctx)

	svc, err := m.manager.Resolve(msg, requestedService)
	if err != nil {
		kind := KindNoRoute
		if errors.Is(err, proxy.ErrServiceNotFound) {
			kind = KindNotFound
		}
		m.sink.Emit(metrics.Failure("", metrics.StageTotal, time.Since(start), string(kind)))
		return nil, newError(kind, StageRouting, requestedService, msg.CorrelationID(), err)
	}
	logger = logger.With(observability.String("service", svc.Name()))

	if handleErr := m.authorize(ctx, svc, msg, identity, start); handleErr != nil {
		return nil, handleErr
	}

	current := msg
	if chain := svc.RequestChain(); chain != nil {
		current, err = m.applyChain(ctx, chain, current, svc.Name(), StageRequestTransform, start)
		if err != nil {
			return nil, err
		}
	}

	response, err := svc.Dispatch(ctx, current)
	if err != nil {
		kind := dispatchKind(err)
		m.sink.Emit(metrics.Failure(svc.Name(), metrics.StageTotal, time.Since(start), string(kind)))
		logger.Error("backend dispatch failed", observability.Error(err))
		return nil, newError(kind, StageDispatch, svc.Name(), msg.CorrelationID(), err)
	}

	// The backend call has succeeded for circuit-state purposes; a
	// response transform failure is a downstream concern.
	if chain := svc.ResponseChain(); chain != nil {
		response, err = m.applyChain(ctx, chain, response, svc.Name(), StageResponseTransform, start)
		if err != nil {
			return nil, err
		}
	}

	m.sink.Emit(metrics.Success(svc.Name(), metrics.StageTotal, time.Since(start)))
	logger.Debug("mediation completed",
		observability.Duration("elapsed", time.Since(start)),
	)
	return response, nil
}

// Health reports the circuit state of a registered service.
func (m *Mediator) Health(name string) (proxy.Health, error) {
	return m.manager.Health(name)
}

// authorize runs the security check, emitting the auth-stage metric and an
// audit record. A nil return means the call may proceed.
func (m *Mediator) authorize(ctx context.Context, svc *proxy.Service, msg *message.Message, identity auth.Identity, start time.Time) *Error {
	authStart := time.Now()
	decision, err := m.authorizer.Authorize(ctx, identity, svc.Security())
	if err != nil {
		decision = auth.Deny(fmt.Sprintf("authorizer error: %v", err))
	}

	if !decision.Allowed {
		m.sink.Emit(metrics.Failure(svc.Name(), metrics.StageAuth, time.Since(authStart), string(KindUnauthorized)))
		m.auditor.Record(audit.NewEvent(identity.Subject, svc.Name(), audit.OutcomeDenied, decision.Reason, msg.CorrelationID()))
		m.sink.Emit(metrics.Failure(svc.Name(), metrics.StageTotal, time.Since(start), string(KindUnauthorized)))
		return newError(KindUnauthorized, StageAuth, svc.Name(), msg.CorrelationID(),
			fmt.Errorf("%w: %s", ErrUnauthorized, decision.Reason))
	}

	m.sink.Emit(metrics.Success(svc.Name(), metrics.StageAuth, time.Since(authStart)))
	m.auditor.Record(audit.NewEvent(identity.Subject, svc.Name(), audit.OutcomeSuccess, "", msg.CorrelationID()))
	return nil
}

// applyChain runs one transform chain, emitting the transform-stage metric.
func (m *Mediator) applyChain(ctx context.Context, chain transform.Unit, msg *message.Message, service string, stage Stage, start time.Time) (*message.Message, error) {
	chainStart := time.Now()
	out, err := chain.Apply(ctx, msg)
	if err != nil {
		m.sink.Emit(metrics.Failure(service, metrics.StageTransform, time.Since(chainStart), string(KindTransformation)))
		m.sink.Emit(metrics.Failure(service, metrics.StageTotal, time.Since(start), string(KindTransformation)))
		return nil, newError(KindTransformation, stage, service, msg.CorrelationID(), err)
	}
	m.sink.Emit(metrics.Success(service, metrics.StageTransform, time.Since(chainStart)))
	return out, nil
}

// dispatchKind classifies a dispatch failure.
func dispatchKind(err error) Kind {
	switch {
	case errors.Is(err, proxy.ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindTimeout
	case errors.Is(err, circuitbreaker.ErrOpen):
		return KindCircuitOpen
	default:
		return KindBackendUnavailable
	}
}
