// Package handler serves registration, login, logout and operator bootstrap.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	identitymetrics "consular/internal/identity/metrics"
	"consular/internal/identity/token"
	"consular/internal/user/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	"consular/pkg/platform/httputil"
	adminmw "consular/pkg/platform/middleware/admin"
	authmw "consular/pkg/platform/middleware/auth"
	request "consular/pkg/platform/middleware/request"
	"consular/pkg/requestcontext"
)

type UserService interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	BootstrapSuperAdmin(ctx context.Context, req *models.BootstrapRequest) (*models.User, error)
}

type TokenIssuer interface {
	Issue(userID id.UserID, sessionID id.SessionID, ttl time.Duration) (string, *token.Claims, error)
}

type Revoker interface {
	Revoke(ctx context.Context, jti string, ttl time.Duration) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Config carries the session cookie settings.
type Config struct {
	SessionTTL   time.Duration
	CookieName   string
	CookieSecure bool
	AdminToken   string
}

type Handler struct {
	users     UserService
	issuer    TokenIssuer
	validator authmw.JWTValidator
	revoker   Revoker
	audit     AuditPublisher
	limiter   func(http.Handler) http.Handler
	cfg       Config
	logger    *slog.Logger
	metrics   *identitymetrics.Metrics
}

type Option func(*Handler)

func WithLoginLimiter(mw func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.limiter = mw
	}
}

func WithMetrics(m *identitymetrics.Metrics) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(h *Handler) {
		h.audit = p
	}
}

func New(users UserService, issuer TokenIssuer, validator authmw.JWTValidator, revoker Revoker, cfg Config, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		users:     users,
		issuer:    issuer,
		validator: validator,
		revoker:   revoker,
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/register", h.handleRegister)
		if h.limiter != nil {
			r.With(h.limiter).Post("/login", h.handleLogin)
		} else {
			r.Post("/login", h.handleLogin)
		}
		r.With(authmw.RequireAuth(h.logger)).Post("/logout", h.handleLogout)
	})
	r.With(adminmw.RequireAdminToken(h.cfg.AdminToken, h.logger)).
		Post("/api/admin/bootstrap", h.handleBootstrap)
}

type loginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      *models.User `json:"user"`
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.RegisterRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	user, err := h.users.Register(ctx, req)
	if err != nil {
		h.fail(ctx, w, "registration failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.LoginRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	user, err := h.users.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		h.fail(ctx, w, "login failed", err)
		return
	}

	signed, claims, err := h.issuer.Issue(user.ID, id.SessionID(uuid.New()), h.cfg.SessionTTL)
	if err != nil {
		h.fail(ctx, w, "failed to issue session", err)
		return
	}
	h.metrics.IncSessionsIssued()

	expiresAt := claims.ExpiresAt.Time
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    signed,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	h.logger.InfoContext(ctx, "session issued",
		"user_id", user.ID,
		"session_id", claims.SessionID,
		"request_id", request.GetRequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, loginResponse{Token: signed, ExpiresAt: expiresAt, User: user})
}

// handleLogout revokes the presented token until it would have expired and
// clears the cookie.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raw := authmw.TokenFromRequest(r, h.cfg.CookieName)
	claims, err := h.validator.ValidateToken(raw)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.revoker.Revoke(ctx, claims.JTI, h.cfg.SessionTTL); err != nil {
		h.fail(ctx, w, "failed to revoke session", dErrors.Wrap(err, dErrors.CodeInternal, "failed to revoke session"))
		return
	}
	h.metrics.IncLogouts()
	if h.audit != nil {
		_ = h.audit.Emit(ctx, audit.NewEvent(ctx, audit.EventLoggedOut, requestcontext.UserID(ctx)))
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.BootstrapRequest](w, r, h.logger, ctx, request.GetRequestID(ctx))
	if !ok {
		return
	}
	user, err := h.users.BootstrapSuperAdmin(ctx, req)
	if err != nil {
		h.fail(ctx, w, "bootstrap failed", err)
		return
	}
	h.logger.InfoContext(ctx, "super administrator bootstrapped",
		"user_id", user.ID,
		"request_id", request.GetRequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusCreated, user)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal {
		h.logger.ErrorContext(ctx, msg,
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
	}
	httputil.WriteError(w, err)
}
