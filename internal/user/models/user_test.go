package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consular/internal/access"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

func TestNewUser(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("normalizes email", func(t *testing.T) {
		u, err := NewUser(id.UserID(uuid.New()), "  Jane.Doe@Example.ORG ", "Jane", "Doe", "", "hash", []access.Role{access.RoleUser}, now)
		require.NoError(t, err)
		assert.Equal(t, "jane.doe@example.org", u.Email)
		assert.Equal(t, StatusActive, u.Status)
		assert.True(t, u.IsActive())
	})

	t.Run("rejects invalid email", func(t *testing.T) {
		_, err := NewUser(id.UserID(uuid.New()), "not-an-email", "", "", "", "hash", []access.Role{access.RoleUser}, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("requires a role", func(t *testing.T) {
		_, err := NewUser(id.UserID(uuid.New()), "a@b.org", "", "", "", "hash", nil, now)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestSoftDelete(t *testing.T) {
	now := time.Now()
	u, err := NewUser(id.UserID(uuid.New()), "a@b.org", "A", "B", "", "hash", []access.Role{access.RoleUser}, now)
	require.NoError(t, err)

	require.NoError(t, u.Delete(now))
	assert.Equal(t, StatusDeleted, u.Status)
	require.NotNil(t, u.DeletedAt)
	assert.False(t, u.IsActive())

	assert.Error(t, u.Delete(now), "second delete must fail")
	assert.Error(t, u.CanAssignRoles([]access.Role{access.RoleAgent}))
}

func TestUserJSONHidesPasswordHash(t *testing.T) {
	u := &User{ID: id.UserID(uuid.New()), Email: "a@b.org", PasswordHash: "secret-hash", Roles: []access.Role{access.RoleUser}}
	b, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret-hash")
	assert.NotContains(t, string(b), "organization_id")
}

func TestAssignRolesRequestValidate(t *testing.T) {
	orgID := uuid.NewString()

	t.Run("staff roles need an organization", func(t *testing.T) {
		req := &AssignRolesRequest{Roles: []string{"AGENT"}}
		err := req.Validate()
		require.Error(t, err)
		assert.Equal(t, "organization_id is required for AGENT", dErrors.MessageOf(err))
	})

	t.Run("parses roles and organization", func(t *testing.T) {
		req := &AssignRolesRequest{Roles: []string{"agent", "USER"}, OrganizationID: orgID}
		require.NoError(t, req.Validate())
		assert.Equal(t, []access.Role{access.RoleAgent, access.RoleUser}, req.ParsedRoles())
		assert.Equal(t, orgID, req.ParsedOrganization().String())
	})

	t.Run("super admin is global", func(t *testing.T) {
		req := &AssignRolesRequest{Roles: []string{"SUPER_ADMIN"}}
		require.NoError(t, req.Validate())
		assert.True(t, req.ParsedOrganization().IsNil())
	})
}
