package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentity_HasRole(t *testing.T) {
	t.Parallel()

	identity := Identity{Subject: "alice", Roles: []string{"reader", "writer"}}
	assert.True(t, identity.HasRole("writer"))
	assert.False(t, identity.HasRole("admin"))
}

func TestAnonymous(t *testing.T) {
	t.Parallel()

	identity := Anonymous()
	assert.Equal(t, "anonymous", identity.Subject)
	assert.Empty(t, identity.Roles)
}

func TestAllowAll_DenyAll(t *testing.T) {
	t.Parallel()

	decision, err := AllowAll().Authorize(context.Background(), Anonymous(), Require(SchemeJWT))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = DenyAll("maintenance").Authorize(context.Background(), Anonymous(), None())
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "maintenance", decision.Reason)
}

func TestStaticAuthorizer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		identity    Identity
		requirement Requirement
		allowed     bool
	}{
		{
			name:        "no requirement admits anonymous",
			identity:    Anonymous(),
			requirement: None(),
			allowed:     true,
		},
		{
			name:        "scheme mismatch denied",
			identity:    Identity{Subject: "alice", Scheme: SchemeAPIKey},
			requirement: Require(SchemeJWT),
			allowed:     false,
		},
		{
			name:        "scheme match without role requirement",
			identity:    Identity{Subject: "alice", Scheme: SchemeJWT},
			requirement: Require(SchemeJWT),
			allowed:     true,
		},
		{
			name:        "any required role suffices",
			identity:    Identity{Subject: "alice", Scheme: SchemeJWT, Roles: []string{"writer"}},
			requirement: Require(SchemeJWT, "admin", "writer"),
			allowed:     true,
		},
		{
			name:        "missing role denied",
			identity:    Identity{Subject: "alice", Scheme: SchemeJWT, Roles: []string{"reader"}},
			requirement: Require(SchemeJWT, "admin"),
			allowed:     false,
		},
		{
			name:        "anonymous denied when required",
			identity:    Anonymous(),
			requirement: Require(SchemeJWT),
			allowed:     false,
		},
	}

	authorizer := NewStaticAuthorizer(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			decision, err := authorizer.Authorize(context.Background(), tt.identity, tt.requirement)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed)
			if !tt.allowed {
				assert.NotEmpty(t, decision.Reason)
			}
		})
	}
}
