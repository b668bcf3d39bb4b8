package testutil

import (
	"context"
	"net/http"

	id "consular/pkg/domain"
	"consular/pkg/requestcontext"
)

// WithUserID adds a user ID to the request context, as the auth middleware
// would for an authenticated request. Invalid IDs are silently ignored.
func WithUserID(req *http.Request, userID string) *http.Request {
	if parsedUserID, err := id.ParseUserID(userID); err == nil {
		return req.WithContext(requestcontext.WithUserID(req.Context(), parsedUserID))
	}
	return req
}

// WithPrincipal adds the full principal (user, organization, roles) to the request context.
func WithPrincipal(req *http.Request, userID id.UserID, orgID id.OrganizationID, roles ...string) *http.Request {
	return req.WithContext(requestcontext.WithPrincipal(req.Context(), userID, orgID, roles))
}

// PrincipalContext is the service-test counterpart of WithPrincipal.
func PrincipalContext(ctx context.Context, userID id.UserID, orgID id.OrganizationID, roles ...string) context.Context {
	return requestcontext.WithPrincipal(ctx, userID, orgID, roles)
}

// WithContextValue adds an arbitrary key-value pair to the request context.
func WithContextValue(req *http.Request, key, value any) *http.Request {
	ctx := context.WithValue(req.Context(), key, value)
	return req.WithContext(ctx)
}
