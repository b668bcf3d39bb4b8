// Package auth resolves the session principal for every request. It never
// rejects a request on its own except in RequireAuth; role gating and login
// redirects belong to internal/access.
package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	id "consular/pkg/domain"
	request "consular/pkg/platform/middleware/request"
	"consular/pkg/requestcontext"
)

// JWTValidator validates a session token and returns its claims.
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// TokenRevocationChecker reports whether a token id was revoked at logout.
type TokenRevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// PrincipalLoader loads the live role set and organization for a user.
// It returns an error for unknown, inactive or soft-deleted users.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, userID id.UserID) (*Principal, error)
}

// JWTClaims is the subset of token claims the middleware needs.
type JWTClaims struct {
	UserID    string
	SessionID string
	JTI       string
}

// Principal is the authenticated user as seen by handlers.
type Principal struct {
	UserID         id.UserID
	OrganizationID id.OrganizationID
	Roles          []string
}

// Authenticate reads the bearer token (or the session cookie), validates it,
// checks revocation and loads the principal. Requests without a usable token
// continue anonymously.
func Authenticate(validator JWTValidator, revocation TokenRevocationChecker, loader PrincipalLoader, cookieName string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromRequest(r, cookieName)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			requestID := request.GetRequestID(ctx)
			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "ignoring invalid session token",
					"error", err,
					"request_id", requestID,
				)
				next.ServeHTTP(w, r)
				return
			}

			if revocation != nil {
				revoked, err := revocation.IsRevoked(ctx, claims.JTI)
				if err != nil {
					logger.ErrorContext(ctx, "failed to check token revocation",
						"error", err,
						"request_id", requestID,
					)
					next.ServeHTTP(w, r)
					return
				}
				if revoked {
					logger.InfoContext(ctx, "session token revoked",
						"jti", claims.JTI,
						"request_id", requestID,
					)
					next.ServeHTTP(w, r)
					return
				}
			}

			userID, err := id.ParseUserID(claims.UserID)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			principal, err := loader.LoadPrincipal(ctx, userID)
			if err != nil {
				logger.WarnContext(ctx, "session user not loadable",
					"user_id", claims.UserID,
					"error", err,
					"request_id", requestID,
				)
				next.ServeHTTP(w, r)
				return
			}

			ctx = requestcontext.WithPrincipal(ctx, principal.UserID, principal.OrganizationID, principal.Roles)
			if sessionID, err := id.ParseSessionID(claims.SessionID); err == nil {
				ctx = requestcontext.WithSessionID(ctx, sessionID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects anonymous requests with a JSON 401.
func RequireAuth(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if requestcontext.UserID(ctx).IsNil() {
				logger.WarnContext(ctx, "unauthorized access - missing session",
					"request_id", request.GetRequestID(ctx),
				)
				WriteUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WriteUnauthorized writes the standard 401 body.
func WriteUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"authentication required","code":"unauthorized"}`))
}

// TokenFromRequest reads the bearer token, falling back to the session cookie.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if after, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(after)
	}
	if cookieName == "" {
		return ""
	}
	if c, err := r.Cookie(cookieName); err == nil {
		return c.Value
	}
	return ""
}
