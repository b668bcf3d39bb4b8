package access

import (
	"context"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/requestcontext"
)

// Actor is the authenticated caller as seen by services.
type Actor struct {
	UserID         id.UserID
	OrganizationID id.OrganizationID
	Roles          []Role
}

// ActorFrom reads the principal set by the auth middleware.
// Returns an unauthorized error for anonymous contexts.
func ActorFrom(ctx context.Context) (Actor, error) {
	userID := requestcontext.UserID(ctx)
	if userID.IsNil() {
		return Actor{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return Actor{
		UserID:         userID,
		OrganizationID: requestcontext.OrganizationID(ctx),
		Roles:          RolesFromStrings(requestcontext.Roles(ctx)),
	}, nil
}

func (a Actor) Has(roles ...Role) bool {
	return HasAnyRole(a.Roles, roles)
}

func (a Actor) IsSuperAdmin() bool {
	return IsSuperAdmin(a.Roles)
}

// CanManageOrganization reports whether the actor holds one of roles inside
// orgID. SUPER_ADMIN passes for every organization.
func (a Actor) CanManageOrganization(orgID id.OrganizationID, roles ...Role) bool {
	if a.IsSuperAdmin() {
		return true
	}
	if a.OrganizationID.IsNil() || a.OrganizationID != orgID {
		return false
	}
	return a.Has(roles...)
}

// RequireOrganization returns a forbidden error unless CanManageOrganization holds.
func (a Actor) RequireOrganization(orgID id.OrganizationID, roles ...Role) error {
	if !a.CanManageOrganization(orgID, roles...) {
		return dErrors.New(dErrors.CodeForbidden, "not allowed for this organization")
	}
	return nil
}
