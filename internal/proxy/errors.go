// Package proxy binds logical service names to backend endpoints,
// transformation chains, security requirements, and resiliency policies,
// and routes messages to the right service.
package proxy

import (
	"errors"
	"fmt"
)

// Sentinel errors for proxy operations.
var (
	// ErrDuplicateService indicates a service name is already registered.
	ErrDuplicateService = errors.New("proxy service already registered")

	// ErrServiceNotFound indicates no service is registered under the name.
	ErrServiceNotFound = errors.New("proxy service not found")

	// ErrNoRoute indicates no routing predicate matched the message.
	ErrNoRoute = errors.New("no proxy service matched the message")

	// ErrRateLimited indicates the service's rate limit rejected the call.
	ErrRateLimited = errors.New("service rate limit exceeded")

	// ErrInvalidTarget indicates the configured target URI is invalid.
	ErrInvalidTarget = errors.New("invalid target URI")
)

// DispatchError reports a backend dispatch that failed after the retry
// budget was spent or the circuit rejected it.
type DispatchError struct {
	Service   string
	Attempts  int
	LastCause error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %q failed after %d attempt(s): %v", e.Service, e.Attempts, e.LastCause)
}

// Unwrap returns the last underlying cause.
func (e *DispatchError) Unwrap() error {
	return e.LastCause
}
