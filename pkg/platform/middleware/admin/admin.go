package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	request "consular/pkg/platform/middleware/request"
)

// RequireAdminToken gates operator endpoints (bootstrap, maintenance) behind a
// static token. An empty expected token disables the endpoints entirely.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("X-Admin-Token")
			if expectedToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", request.GetRequestID(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"admin token required","code":"unauthorized"}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
