// Package backend defines the endpoint contract the mediation core
// dispatches to, and an HTTP implementation of it.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/vyrodovalexey/avmedgw/internal/message"
)

// Sentinel errors classifying endpoint failures.
var (
	// ErrTimeout indicates the call exceeded its deadline.
	ErrTimeout = errors.New("backend call timed out")

	// ErrConnection indicates the endpoint could not be reached.
	ErrConnection = errors.New("backend connection failed")

	// ErrProtocol indicates the endpoint answered with a protocol-level error.
	ErrProtocol = errors.New("backend protocol error")
)

// Endpoint sends a message to a backend target and returns its response.
// This is the only operation in the gateway that performs network I/O.
type Endpoint interface {
	Send(ctx context.Context, target string, msg *message.Message) (*message.Message, error)
}

// EndpointFunc adapts a function into an Endpoint.
type EndpointFunc func(ctx context.Context, target string, msg *message.Message) (*message.Message, error)

// Send implements Endpoint.
func (f EndpointFunc) Send(ctx context.Context, target string, msg *message.Message) (*message.Message, error) {
	return f(ctx, target, msg)
}

// IsRetryable reports whether an endpoint error is transient. Timeouts and
// connection failures are retryable; protocol errors are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection)
}

// Error wraps an endpoint failure with the target it occurred against.
type Error struct {
	Target string
	Kind   error
	Cause  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("backend %s: %v: %v", e.Target, e.Kind, e.Cause)
	}
	return fmt.Sprintf("backend %s: %v", e.Target, e.Kind)
}

// Unwrap returns the error kind so errors.Is matches the sentinels.
func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// NewError creates a classified endpoint error.
func NewError(target string, kind, cause error) *Error {
	return &Error{Target: target, Kind: kind, Cause: cause}
}
