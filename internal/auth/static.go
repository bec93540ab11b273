package auth

import (
	"context"
	"fmt"

	"github.com/vyrodovalexey/avmedgw/internal/observability"
)

// StaticAuthorizer authorizes against a fixed scheme and role table loaded
// at startup. It covers deployments where an upstream gateway has already
// authenticated the caller and only scheme/role checks remain.
type StaticAuthorizer struct {
	logger observability.Logger
}

// NewStaticAuthorizer creates a StaticAuthorizer.
func NewStaticAuthorizer(logger observability.Logger) *StaticAuthorizer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &StaticAuthorizer{logger: logger}
}

// Authorize checks the identity's scheme and roles against the requirement.
func (a *StaticAuthorizer) Authorize(_ context.Context, identity Identity, requirement Requirement) (Decision, error) {
	if !requirement.Required {
		return Allow(), nil
	}

	if identity.Scheme != requirement.Scheme {
		a.logger.Debug("authorization denied: scheme mismatch",
			observability.String("subject", identity.Subject),
			observability.String("presented", string(identity.Scheme)),
			observability.String("required", string(requirement.Scheme)),
		)
		return Deny(fmt.Sprintf("scheme %q required", requirement.Scheme)), nil
	}

	if len(requirement.Roles) == 0 {
		return Allow(), nil
	}
	for _, role := range requirement.Roles {
		if identity.HasRole(role) {
			return Allow(), nil
		}
	}

	a.logger.Debug("authorization denied: missing role",
		observability.String("subject", identity.Subject),
	)
	return Deny("caller lacks a required role"), nil
}
