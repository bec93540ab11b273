package mediation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/avmedgw/internal/audit"
	"github.com/vyrodovalexey/avmedgw/internal/auth"
	"github.com/vyrodovalexey/avmedgw/internal/backend"
	"github.com/vyrodovalexey/avmedgw/internal/circuitbreaker"
	"github.com/vyrodovalexey/avmedgw/internal/message"
	"github.com/vyrodovalexey/avmedgw/internal/metrics"
	"github.com/vyrodovalexey/avmedgw/internal/proxy"
	"github.com/vyrodovalexey/avmedgw/internal/retry"
	"github.com/vyrodovalexey/avmedgw/internal/transform"
)

// captureSink collects metric events for assertions.
type captureSink struct {
	mu     sync.Mutex
	events []metrics.Event
}

func (s *captureSink) Emit(event metrics.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *captureSink) byStage(stage metrics.Stage) []metrics.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []metrics.Event
	for _, e := range s.events {
		if e.Stage == stage {
			out = append(out, e)
		}
	}
	return out
}

// captureRecorder collects audit events.
type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *captureRecorder) Record(event audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *captureRecorder) Close() {}

func (r *captureRecorder) all() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

// scriptedEndpoint fails the first failures calls with the kind error,
// then responds with a fixed JSON body.
type scriptedEndpoint struct {
	mu       sync.Mutex
	failures int
	calls    int
	kind     error
}

func (e *scriptedEndpoint) Send(_ context.Context, target string, msg *message.Message) (*message.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failures {
		return nil, backend.NewError(target, e.kind, errors.New("injected"))
	}
	return msg.WithPayload([]byte(`{"status":"accepted"}`), message.FormatJSON), nil
}

func (e *scriptedEndpoint) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// blockingEndpoint holds every call until the caller's context ends, then
// fails the way the HTTP endpoint classifies an aborted call.
type blockingEndpoint struct{}

func (blockingEndpoint) Send(ctx context.Context, target string, _ *message.Message) (*message.Message, error) {
	<-ctx.Done()
	return nil, backend.NewError(target, backend.ErrTimeout, ctx.Err())
}

type fixture struct {
	mediator *Mediator
	sink     *captureSink
	auditor  *captureRecorder
	endpoint *scriptedEndpoint
}

func newFixture(t *testing.T, authorizer auth.Authorizer, endpoint *scriptedEndpoint, cfgs ...proxy.Config) *fixture {
	t.Helper()

	sink := &captureSink{}
	auditor := &captureRecorder{}
	manager := proxy.NewManager(endpoint, proxy.WithManagerSink(sink))
	for _, cfg := range cfgs {
		require.NoError(t, manager.Register(cfg))
	}

	return &fixture{
		mediator: New(authorizer, manager, WithSink(sink), WithAuditor(auditor)),
		sink:     sink,
		auditor:  auditor,
		endpoint: endpoint,
	}
}

func resiliency(maxRetries uint, failureThreshold uint32) proxy.Resiliency {
	return proxy.Resiliency{
		Retry: retry.Policy{
			MaxRetries:   maxRetries,
			BaseInterval: time.Millisecond,
			Multiplier:   2.0,
			MaxInterval:  5 * time.Millisecond,
		},
		Breaker: circuitbreaker.Config{
			FailureThreshold: failureThreshold,
			OpenDuration:     time.Minute,
			HalfOpenTrials:   1,
			SamplingInterval: time.Minute,
		},
	}
}

func TestHandle_TransformsAndDispatches(t *testing.T) {
	t.Parallel()

	requestChain, err := transform.NewChain("inbound", transform.NewXMLToJSON("to-json"))
	require.NoError(t, err)

	f := newFixture(t, auth.AllowAll(), &scriptedEndpoint{}, proxy.Config{
		Name:         "orders",
		Target:       "http://orders.local",
		RequestChain: requestChain,
		Resiliency:   resiliency(0, 100),
	})

	msg := message.New([]byte(`<order><id>42</id></order>`), message.FormatXML)
	resp, err := f.mediator.Handle(context.Background(), msg, auth.Anonymous(), "orders")
	require.NoError(t, err)

	assert.Equal(t, []byte(`{"status":"accepted"}`), resp.Payload())
	assert.Equal(t, message.FormatJSON, resp.Format())
	assert.Equal(t, msg.CorrelationID(), resp.CorrelationID())

	for _, stage := range []metrics.Stage{metrics.StageAuth, metrics.StageTransform, metrics.StageDispatch, metrics.StageTotal} {
		events := f.sink.byStage(stage)
		require.Len(t, events, 1, "stage %s", stage)
		assert.Equal(t, metrics.OutcomeSuccess, events[0].Outcome, "stage %s", stage)
	}

	records := f.auditor.all()
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeSuccess, records[0].Outcome)
}

func TestHandle_CircuitOpensAndFailsFast(t *testing.T) {
	t.Parallel()

	endpoint := &scriptedEndpoint{failures: 100, kind: backend.ErrConnection}
	f := newFixture(t, auth.AllowAll(), endpoint, proxy.Config{
		Name:       "flaky",
		Target:     "http://flaky.local",
		Resiliency: resiliency(0, 3),
	})

	for i := 0; i < 3; i++ {
		_, err := f.mediator.Handle(context.Background(), message.New(nil, message.FormatRaw), auth.Anonymous(), "flaky")
		require.ErrorIs(t, err, ErrBackendUnavailable)
	}
	require.Equal(t, 3, endpoint.callCount())

	health, err := f.mediator.Health("flaky")
	require.NoError(t, err)
	require.Equal(t, circuitbreaker.StateOpen, health.State)

	// The fourth request is rejected without touching the backend.
	_, err = f.mediator.Handle(context.Background(), message.New(nil, message.FormatRaw), auth.Anonymous(), "flaky")
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, 3, endpoint.callCount())

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, KindCircuitOpen, merr.Kind)
	assert.Equal(t, StageDispatch, merr.Stage)
}

func TestHandle_DeniedCallerNeverReachesPipeline(t *testing.T) {
	t.Parallel()

	requestChain, err := transform.NewChain("inbound", transform.NewXMLToJSON("to-json"))
	require.NoError(t, err)

	endpoint := &scriptedEndpoint{}
	f := newFixture(t, auth.DenyAll("expired token"), endpoint, proxy.Config{
		Name:         "secure",
		Target:       "http://secure.local",
		RequestChain: requestChain,
		Security:     auth.Require(auth.SchemeJWT),
		Resiliency:   resiliency(0, 100),
	})

	msg := message.New([]byte(`<a/>`), message.FormatXML)
	_, err = f.mediator.Handle(context.Background(), msg, auth.Anonymous(), "secure")
	require.ErrorIs(t, err, ErrUnauthorized)

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, KindUnauthorized, merr.Kind)
	assert.Equal(t, msg.CorrelationID(), merr.CorrelationID)
	assert.Contains(t, merr.Error(), "expired token")

	// No transformation or dispatch happened.
	assert.Equal(t, 0, endpoint.callCount())
	assert.Empty(t, f.sink.byStage(metrics.StageTransform))
	assert.Empty(t, f.sink.byStage(metrics.StageDispatch))

	authEvents := f.sink.byStage(metrics.StageAuth)
	require.Len(t, authEvents, 1)
	assert.Equal(t, metrics.OutcomeFailure, authEvents[0].Outcome)

	totals := f.sink.byStage(metrics.StageTotal)
	require.Len(t, totals, 1)
	assert.Equal(t, metrics.OutcomeFailure, totals[0].Outcome)

	records := f.auditor.all()
	require.Len(t, records, 1)
	assert.Equal(t, audit.OutcomeDenied, records[0].Outcome)
	assert.Equal(t, "expired token", records[0].Reason)
}

func TestHandle_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	endpoint := &scriptedEndpoint{failures: 2, kind: backend.ErrConnection}
	f := newFixture(t, auth.AllowAll(), endpoint, proxy.Config{
		Name:       "orders",
		Target:     "http://orders.local",
		Resiliency: resiliency(2, 100),
	})

	resp, err := f.mediator.Handle(context.Background(), message.New(nil, message.FormatRaw), auth.Anonymous(), "orders")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"status":"accepted"}`), resp.Payload())
	assert.Equal(t, 3, endpoint.callCount())

	// One dispatch event per attempt.
	dispatches := f.sink.byStage(metrics.StageDispatch)
	require.Len(t, dispatches, 3)
	assert.Equal(t, metrics.OutcomeFailure, dispatches[0].Outcome)
	assert.Equal(t, metrics.OutcomeFailure, dispatches[1].Outcome)
	assert.Equal(t, metrics.OutcomeSuccess, dispatches[2].Outcome)

	totals := f.sink.byStage(metrics.StageTotal)
	require.Len(t, totals, 1)
	assert.Equal(t, metrics.OutcomeSuccess, totals[0].Outcome)
}

func TestHandle_CallerDeadlineAbortsDispatch(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	manager := proxy.NewManager(blockingEndpoint{}, proxy.WithManagerSink(sink))
	require.NoError(t, manager.Register(proxy.Config{
		Name:       "slow",
		Target:     "http://slow.local",
		Resiliency: resiliency(2, 100),
	}))
	mediator := New(auth.AllowAll(), manager, WithSink(sink))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := mediator.Handle(ctx, message.New(nil, message.FormatRaw), auth.Anonymous(), "slow")
	require.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, KindTimeout, merr.Kind)
	assert.Equal(t, StageDispatch, merr.Stage)

	// The expired deadline cancels the remaining retry budget: one attempt,
	// no backoff sleeps.
	var derr *proxy.DispatchError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, 1, derr.Attempts)
	dispatches := sink.byStage(metrics.StageDispatch)
	require.Len(t, dispatches, 1)
	assert.Equal(t, metrics.OutcomeFailure, dispatches[0].Outcome)
	assert.Empty(t, sink.byStage(metrics.StageRetry))

	// The circuit counted the failure but a single timeout does not open it.
	health, err := mediator.Health("slow")
	require.NoError(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, health.State)
	assert.Zero(t, health.SuccessRate)
}

func TestHandle_UnknownService(t *testing.T) {
	t.Parallel()

	f := newFixture(t, auth.AllowAll(), &scriptedEndpoint{})

	_, err := f.mediator.Handle(context.Background(), message.New(nil, message.FormatRaw), auth.Anonymous(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, StageRouting, merr.Stage)
}

func TestHandle_NoRoute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, auth.AllowAll(), &scriptedEndpoint{}, proxy.Config{
		Name:       "named-only",
		Target:     "http://named.local",
		Resiliency: resiliency(0, 100),
	})

	_, err := f.mediator.Handle(context.Background(), message.New(nil, message.FormatRaw), auth.Anonymous(), "")
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestHandle_RequestTransformFailure(t *testing.T) {
	t.Parallel()

	requestChain, err := transform.NewChain("inbound", transform.NewXMLToJSON("to-json"))
	require.NoError(t, err)

	endpoint := &scriptedEndpoint{}
	f := newFixture(t, auth.AllowAll(), endpoint, proxy.Config{
		Name:         "orders",
		Target:       "http://orders.local",
		RequestChain: requestChain,
		Resiliency:   resiliency(0, 100),
	})

	_, err = f.mediator.Handle(context.Background(),
		message.New([]byte(`<unclosed>`), message.FormatXML), auth.Anonymous(), "orders")
	require.ErrorIs(t, err, ErrTransformation)

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, StageRequestTransform, merr.Stage)

	// The backend was never reached.
	assert.Equal(t, 0, endpoint.callCount())
	assert.Empty(t, f.sink.byStage(metrics.StageDispatch))
}

func TestHandle_ResponseTransformFailure(t *testing.T) {
	t.Parallel()

	// The backend responds with JSON; forcing an XML-input response chain
	// makes the response transform fail after a successful dispatch.
	responseChain, err := transform.NewChain("outbound", transform.NewXMLToJSON("to-json"))
	require.NoError(t, err)

	endpoint := &scriptedEndpoint{}
	f := newFixture(t, auth.AllowAll(), endpoint, proxy.Config{
		Name:          "orders",
		Target:        "http://orders.local",
		ResponseChain: responseChain,
		Resiliency:    resiliency(0, 100),
	})

	_, err = f.mediator.Handle(context.Background(), message.New(nil, message.FormatRaw), auth.Anonymous(), "orders")
	require.ErrorIs(t, err, ErrTransformation)

	var merr *Error
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, StageResponseTransform, merr.Stage)

	// Dispatch succeeded before the response transform failed.
	dispatches := f.sink.byStage(metrics.StageDispatch)
	require.Len(t, dispatches, 1)
	assert.Equal(t, metrics.OutcomeSuccess, dispatches[0].Outcome)
}

func TestHandle_RateLimited(t *testing.T) {
	t.Parallel()

	f := newFixture(t, auth.AllowAll(), &scriptedEndpoint{}, proxy.Config{
		Name:       "limited",
		Target:     "http://limited.local",
		Resiliency: resiliency(0, 100),
		RateLimit:  &proxy.RateLimit{PerSecond: 0.001, Burst: 1},
	})

	_, err := f.mediator.Handle(context.Background(), message.New(nil, message.FormatRaw), auth.Anonymous(), "limited")
	require.NoError(t, err)

	_, err = f.mediator.Handle(context.Background(), message.New(nil, message.FormatRaw), auth.Anonymous(), "limited")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestError_Matching(t *testing.T) {
	t.Parallel()

	err := newError(KindTimeout, StageDispatch, "orders", "corr-1", context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.NotErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "orders")
	assert.Contains(t, err.Error(), "corr-1")
}
