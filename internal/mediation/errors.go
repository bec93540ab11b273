// Package mediation is the composition root of the gateway: it
// authorizes, routes, transforms, dispatches, and reports every inbound
// message.
package mediation

import (
	"errors"
	"fmt"
)

// Kind classifies a mediation failure.
type Kind string

// Failure kinds.
const (
	KindUnauthorized       Kind = "unauthorized"
	KindNoRoute            Kind = "no_route"
	KindNotFound           Kind = "not_found"
	KindTransformation     Kind = "transformation"
	KindRateLimited        Kind = "rate_limited"
	KindCircuitOpen        Kind = "circuit_open"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindTimeout            Kind = "timeout"
)

// Stage identifies where in the pipeline a failure occurred.
type Stage string

// Pipeline stages.
const (
	StageAuth              Stage = "auth"
	StageRouting           Stage = "routing"
	StageRequestTransform  Stage = "request_transform"
	StageDispatch          Stage = "dispatch"
	StageResponseTransform Stage = "response_transform"
)

// Kind sentinels usable with errors.Is.
var (
	ErrUnauthorized       = errors.New("caller not authorized")
	ErrNoRoute            = errors.New("no route for message")
	ErrNotFound           = errors.New("requested service not found")
	ErrTransformation     = errors.New("transformation failed")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrCircuitOpen        = errors.New("service circuit is open")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrTimeout            = errors.New("mediation timed out")
)

// Error is the typed failure returned from Handle. It carries enough
// structure for the caller to decide whether to retry, alert, or surface
// the failure to an end user.
type Error struct {
	Kind          Kind
	Stage         Stage
	Service       string
	CorrelationID string
	Cause         error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("mediation %s at %s stage (service=%s, correlation_id=%s): %v",
			e.Kind, e.Stage, e.Service, e.CorrelationID, e.Cause)
	}
	return fmt.Sprintf("mediation %s at %s stage (correlation_id=%s): %v",
		e.Kind, e.Stage, e.CorrelationID, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels so callers can branch with errors.Is
// without inspecting the struct.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	case ErrNoRoute:
		return e.Kind == KindNoRoute
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrTransformation:
		return e.Kind == KindTransformation
	case ErrRateLimited:
		return e.Kind == KindRateLimited
	case ErrCircuitOpen:
		return e.Kind == KindCircuitOpen
	case ErrBackendUnavailable:
		// An open circuit is a form of backend unavailability.
		return e.Kind == KindBackendUnavailable || e.Kind == KindCircuitOpen
	case ErrTimeout:
		return e.Kind == KindTimeout
	default:
		return false
	}
}

// newError creates a mediation Error.
func newError(kind Kind, stage Stage, service, correlationID string, cause error) *Error {
	return &Error{
		Kind:          kind,
		Stage:         stage,
		Service:       service,
		CorrelationID: correlationID,
		Cause:         cause,
	}
}
