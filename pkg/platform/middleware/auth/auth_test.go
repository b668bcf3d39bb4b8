package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "consular/pkg/domain"
	"consular/pkg/requestcontext"
)

type stubValidator struct {
	claims *JWTClaims
	err    error
}

func (v stubValidator) ValidateToken(string) (*JWTClaims, error) { return v.claims, v.err }

type stubRevocation struct {
	revoked map[string]bool
}

func (s stubRevocation) IsRevoked(_ context.Context, jti string) (bool, error) {
	return s.revoked[jti], nil
}

type stubLoader struct {
	principals map[id.UserID]*Principal
}

func (l stubLoader) LoadPrincipal(_ context.Context, userID id.UserID) (*Principal, error) {
	if p, ok := l.principals[userID]; ok {
		return p, nil
	}
	return nil, errors.New("user deleted")
}

type AuthMiddlewareSuite struct {
	suite.Suite
	logger *slog.Logger
	userID id.UserID
	orgID  id.OrganizationID
}

func TestAuthMiddlewareSuite(t *testing.T) {
	suite.Run(t, new(AuthMiddlewareSuite))
}

func (s *AuthMiddlewareSuite) SetupTest() {
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.userID = id.UserID(uuid.New())
	s.orgID = id.OrganizationID(uuid.New())
}

func (s *AuthMiddlewareSuite) run(mw func(http.Handler) http.Handler, r *http.Request) (id.UserID, []string) {
	var gotUser id.UserID
	var gotRoles []string
	h := mw(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = requestcontext.UserID(r.Context())
		gotRoles = requestcontext.Roles(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), r)
	return gotUser, gotRoles
}

func (s *AuthMiddlewareSuite) middleware(revoked bool, known bool) func(http.Handler) http.Handler {
	claims := &JWTClaims{UserID: s.userID.String(), SessionID: uuid.NewString(), JTI: "jti-1"}
	principals := map[id.UserID]*Principal{}
	if known {
		principals[s.userID] = &Principal{UserID: s.userID, OrganizationID: s.orgID, Roles: []string{"AGENT"}}
	}
	return Authenticate(
		stubValidator{claims: claims},
		stubRevocation{revoked: map[string]bool{"jti-1": revoked}},
		stubLoader{principals: principals},
		"consular_session",
		s.logger,
	)
}

func (s *AuthMiddlewareSuite) TestAuthenticate() {
	s.Run("bearer token populates principal", func() {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer abc")
		user, roles := s.run(s.middleware(false, true), r)
		s.Equal(s.userID, user)
		s.Equal([]string{"AGENT"}, roles)
	})

	s.Run("session cookie populates principal", func() {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.AddCookie(&http.Cookie{Name: "consular_session", Value: "abc"})
		user, _ := s.run(s.middleware(false, true), r)
		s.Equal(s.userID, user)
	})

	s.Run("revoked token stays anonymous", func() {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer abc")
		user, _ := s.run(s.middleware(true, true), r)
		s.True(user.IsNil())
	})

	s.Run("soft-deleted user stays anonymous", func() {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer abc")
		user, _ := s.run(s.middleware(false, false), r)
		s.True(user.IsNil())
	})

	s.Run("invalid token stays anonymous", func() {
		mw := Authenticate(stubValidator{err: errors.New("bad signature")}, nil, stubLoader{}, "", s.logger)
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("Authorization", "Bearer abc")
		user, _ := s.run(mw, r)
		s.True(user.IsNil())
	})
}

func (s *AuthMiddlewareSuite) TestRequireAuth() {
	h := RequireAuth(s.logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	s.Run("anonymous gets 401", func() {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/me", nil))
		s.Equal(http.StatusUnauthorized, w.Code)
		s.JSONEq(`{"error":"authentication required","code":"unauthorized"}`, w.Body.String())
	})

	s.Run("authenticated passes", func() {
		r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
		r = r.WithContext(requestcontext.WithUserID(r.Context(), s.userID))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		s.Equal(http.StatusNoContent, w.Code)
	})
}
