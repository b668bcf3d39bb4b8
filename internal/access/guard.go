package access

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	request "consular/pkg/platform/middleware/request"
	"consular/pkg/requestcontext"
)

const (
	denyUnauthenticated = "unauthenticated"
	denyMissingRole     = "missing_role"
)

// Guard gates route subtrees by role. It relies on the auth middleware having
// placed the session principal in the request context.
type Guard struct {
	loginPath string
	logger    *slog.Logger
	metrics   *Metrics
}

type GuardOption func(*Guard)

func WithGuardMetrics(m *Metrics) GuardOption {
	return func(g *Guard) {
		g.metrics = m
	}
}

// NewGuard builds a guard that sends anonymous browser requests to loginPath.
func NewGuard(loginPath string, logger *slog.Logger, opts ...GuardOption) *Guard {
	if loginPath == "" {
		loginPath = "/login"
	}
	g := &Guard{loginPath: loginPath, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Fallback decides what a user lacking the required roles gets instead of the
// guarded content: a redirect to Route, or the Render handler. With neither,
// the guard answers 403.
type Fallback struct {
	Route  string
	Render http.Handler
}

// Require admits requests whose principal holds any of roles.
func (g *Guard) Require(roles []Role, fallback Fallback) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			userID := requestcontext.UserID(ctx)
			if userID.IsNil() {
				g.metrics.IncDenied(denyUnauthenticated)
				if isAPIRequest(r) {
					writeJSON(w, http.StatusUnauthorized, `{"error":"authentication required","code":"unauthorized"}`)
					return
				}
				http.Redirect(w, r, LoginURL(g.loginPath, r.URL.RequestURI()), http.StatusFound)
				return
			}

			held := RolesFromStrings(requestcontext.Roles(ctx))
			if HasAnyRole(held, roles) {
				next.ServeHTTP(w, r)
				return
			}

			g.metrics.IncDenied(denyMissingRole)
			g.logger.WarnContext(ctx, "access denied - missing role",
				"user_id", userID,
				"required", Strings(roles),
				"path", r.URL.Path,
				"request_id", request.GetRequestID(ctx),
			)
			switch {
			case fallback.Route != "":
				http.Redirect(w, r, fallback.Route, http.StatusFound)
			case fallback.Render != nil:
				fallback.Render.ServeHTTP(w, r)
			case isAPIRequest(r):
				writeJSON(w, http.StatusForbidden, `{"error":"insufficient role","code":"forbidden"}`)
			default:
				http.Error(w, "forbidden", http.StatusForbidden)
			}
		})
	}
}

// LoginURL builds the login redirect target preserving the original URI.
func LoginURL(loginPath, callback string) string {
	return loginPath + "?callbackUrl=" + url.QueryEscape(callback)
}

func isAPIRequest(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
