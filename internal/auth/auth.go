// Package auth defines the authorization collaborator contract the
// mediation core consumes. Credential parsing (JWT, OAuth) happens outside
// the gateway; the core only sees authenticated identities and decisions.
package auth

import (
	"context"
	"slices"
)

// Scheme identifies an authentication scheme a service may require.
type Scheme string

// Known schemes.
const (
	SchemeJWT    Scheme = "jwt"
	SchemeAPIKey Scheme = "apikey"
	SchemeBasic  Scheme = "basic"
	SchemeMTLS   Scheme = "mtls"
)

// Identity represents an authenticated caller.
type Identity struct {
	// Subject is the unique identifier for the caller.
	Subject string `json:"sub"`

	// Scheme is the authentication scheme the caller presented.
	Scheme Scheme `json:"scheme,omitempty"`

	// Roles contains the roles assigned to the caller.
	Roles []string `json:"roles,omitempty"`

	// Attributes contains additional caller attributes.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// HasRole checks if the identity has a specific role.
func (i Identity) HasRole(role string) bool {
	return slices.Contains(i.Roles, role)
}

// Anonymous returns the identity used for unauthenticated callers.
func Anonymous() Identity {
	return Identity{Subject: "anonymous"}
}

// Requirement is a proxy service's security requirement.
type Requirement struct {
	// Required indicates whether the service demands authorization.
	Required bool

	// Scheme is the scheme the service accepts when Required is set.
	Scheme Scheme

	// Roles lists roles of which the caller must hold at least one.
	// Empty means any authenticated caller of the right scheme passes.
	Roles []string
}

// None returns a requirement that admits every caller.
func None() Requirement {
	return Requirement{}
}

// Require returns a requirement for the given scheme and roles.
func Require(scheme Scheme, roles ...string) Requirement {
	return Requirement{Required: true, Scheme: scheme, Roles: roles}
}

// Decision is the outcome of an authorization check.
type Decision struct {
	// Allowed indicates whether the call may proceed.
	Allowed bool

	// Reason explains a denial.
	Reason string
}

// Allow returns an allowing decision.
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny returns a denying decision with a reason.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Authorizer decides whether an identity satisfies a service requirement.
// Implementations must be safe for concurrent use.
type Authorizer interface {
	Authorize(ctx context.Context, identity Identity, requirement Requirement) (Decision, error)
}

// AuthorizerFunc adapts a function into an Authorizer.
type AuthorizerFunc func(ctx context.Context, identity Identity, requirement Requirement) (Decision, error)

// Authorize implements Authorizer.
func (f AuthorizerFunc) Authorize(ctx context.Context, identity Identity, requirement Requirement) (Decision, error) {
	return f(ctx, identity, requirement)
}

// AllowAll returns an authorizer that permits every call.
func AllowAll() Authorizer {
	return AuthorizerFunc(func(context.Context, Identity, Requirement) (Decision, error) {
		return Allow(), nil
	})
}

// DenyAll returns an authorizer that denies every call with the reason.
func DenyAll(reason string) Authorizer {
	return AuthorizerFunc(func(context.Context, Identity, Requirement) (Decision, error) {
		return Deny(reason), nil
	})
}
