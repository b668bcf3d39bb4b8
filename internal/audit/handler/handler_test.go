package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"consular/internal/access"
	"consular/internal/audit/handler/mocks"
	id "consular/pkg/domain"
	audit "consular/pkg/platform/audit"
	"consular/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service
type HandlerSuite struct {
	suite.Suite
	svc    *mocks.MockService
	router chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.svc = mocks.NewMockService(ctrl)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.router = chi.NewRouter()
	New(s.svc, access.NewGuard("/login", logger), logger).Register(s.router)
}

func (s *HandlerSuite) as(path string, roles ...string) *http.Request {
	return testutil.WithPrincipal(testutil.NewRequest(s.T(), http.MethodGet, path),
		id.UserID(uuid.New()), id.OrganizationID(uuid.New()), roles...)
}

func (s *HandlerSuite) TestList() {
	s.Run("admins list recent events by category", func() {
		s.svc.EXPECT().ListRecent(gomock.Any(), 50).Return([]audit.Event{
			{Category: audit.CategoryCompliance, Action: string(audit.EventRequestReviewed)},
			{Category: audit.CategorySecurity, Action: string(audit.EventLoginFailed)},
		}, nil)
		rr := testutil.DoRequest(s.router, s.as("/api/audit?category=security", "ADMIN"))
		testutil.AssertStatusOK(s.T(), rr)
		body := *testutil.UnmarshalResponse[map[string][]map[string]any](s.T(), rr)
		s.Require().Len(body["events"], 1)
		s.Equal("login_failed", body["events"][0]["action"])
	})

	s.Run("filters by user and caps the limit", func() {
		userID := id.UserID(uuid.New())
		s.svc.EXPECT().ListByUser(gomock.Any(), userID, 500).Return(nil, nil)
		rr := testutil.DoRequest(s.router, s.as("/api/audit?limit=9000&user_id="+userID.String(), "SUPER_ADMIN"))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "events", []any{})
	})

	s.Run("malformed user id", func() {
		rr := testutil.DoRequest(s.router, s.as("/api/audit?user_id=bob", "ADMIN"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})

	s.Run("store failure is internal", func() {
		s.svc.EXPECT().ListRecent(gomock.Any(), 10).Return(nil, errors.New("connection reset"))
		rr := testutil.DoRequest(s.router, s.as("/api/audit?limit=10", "ADMIN"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusInternalServerError, "internal_error")
	})

	s.Run("managers are forbidden", func() {
		rr := testutil.DoRequest(s.router, s.as("/api/audit", "MANAGER"))
		testutil.AssertStatus(s.T(), rr, http.StatusForbidden)
	})
}
