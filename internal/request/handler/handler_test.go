package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"consular/internal/access"
	"consular/internal/request/handler/mocks"
	"consular/internal/request/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/testutil"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service
type HandlerSuite struct {
	suite.Suite
	svc    *mocks.MockService
	router chi.Router
	user   id.UserID
	org    id.OrganizationID
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
	s.user = id.UserID(uuid.New())
	s.org = id.OrganizationID(uuid.New())
}

func (s *HandlerSuite) as(req *http.Request, roles ...string) *http.Request {
	return testutil.WithPrincipal(req, s.user, s.org, roles...)
}

func (s *HandlerSuite) TestCreate() {
	s.Run("citizen opens a draft", func() {
		serviceID := uuid.New()
		s.svc.EXPECT().Create(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req *models.CreateRequest) (*models.ServiceRequest, error) {
				s.Equal(id.ServiceID(serviceID), req.ParsedServiceID())
				return &models.ServiceRequest{ID: id.RequestID(uuid.New()), Reference: "REQ-1", Status: models.StatusDraft}, nil
			})

		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/requests", map[string]any{
			"service_id": serviceID.String(), "form_data": map[string]any{"reason": "expired"},
		})
		rr := testutil.DoRequest(s.router, s.as(req, "USER"))
		testutil.AssertStatus(s.T(), rr, http.StatusCreated)
		testutil.AssertJSONContains(s.T(), rr, "status", "DRAFT")
	})

	s.Run("missing service is a validation error", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/requests", map[string]any{})
		rr := testutil.DoRequest(s.router, s.as(req, "USER"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
		testutil.AssertErrorMessage(s.T(), rr, "service_id is required")
	})

	s.Run("active registration conflicts", func() {
		s.svc.EXPECT().Create(gomock.Any(), gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "profile already has an active registration request"))
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/requests", map[string]any{"service_id": uuid.NewString()})
		rr := testutil.DoRequest(s.router, s.as(req, "USER"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
		testutil.AssertErrorMessage(s.T(), rr, "profile already has an active registration request")
	})

	s.Run("anonymous caller is unauthorized", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/requests", map[string]any{})
		rr := testutil.DoRequest(s.router, req)
		testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
	})
}

func (s *HandlerSuite) TestList() {
	s.Run("passes filters through", func() {
		s.svc.EXPECT().List(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, f models.ListFilter) ([]*models.ServiceRequest, error) {
				s.Equal(models.StatusSubmitted, f.Status)
				s.Equal(10, f.Limit)
				return []*models.ServiceRequest{{Reference: "REQ-1"}}, nil
			})
		req := testutil.NewRequest(s.T(), http.MethodGet, "/api/requests?status=submitted&limit=10")
		rr := testutil.DoRequest(s.router, s.as(req, "AGENT"))
		testutil.AssertStatusOK(s.T(), rr)
	})

	s.Run("unknown status is a bad request", func() {
		req := testutil.NewRequest(s.T(), http.MethodGet, "/api/requests?status=LOST")
		rr := testutil.DoRequest(s.router, s.as(req, "USER"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	})
}

func (s *HandlerSuite) TestSubmit() {
	requestID := id.RequestID(uuid.New())
	s.svc.EXPECT().Submit(gomock.Any(), requestID).
		Return(&models.ServiceRequest{ID: requestID, Status: models.StatusSubmitted}, nil)

	req := testutil.NewRequest(s.T(), http.MethodPost, "/api/requests/"+requestID.String()+"/submit")
	rr := testutil.DoRequest(s.router, s.as(req, "USER"))
	testutil.AssertStatusOK(s.T(), rr)
	testutil.AssertJSONContains(s.T(), rr, "status", "SUBMITTED")
}

func (s *HandlerSuite) TestInvalidRequestID() {
	req := testutil.NewRequest(s.T(), http.MethodGet, "/api/requests/not-a-uuid")
	rr := testutil.DoRequest(s.router, s.as(req, "USER"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")
	testutil.AssertErrorMessage(s.T(), rr, "invalid request id")
}

func (s *HandlerSuite) TestReview() {
	requestID := id.RequestID(uuid.New())

	s.Run("citizens cannot review", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/requests/"+requestID.String()+"/review", map[string]any{"status": "APPROVED"})
		rr := testutil.DoRequest(s.router, s.as(req, "USER"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusForbidden, "forbidden")
	})

	s.Run("additional info needs a note", func() {
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/requests/"+requestID.String()+"/review", map[string]any{"status": "ADDITIONAL_INFO_NEEDED"})
		rr := testutil.DoRequest(s.router, s.as(req, "AGENT"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")
	})

	s.Run("agent approves", func() {
		s.svc.EXPECT().Review(gomock.Any(), requestID, gomock.Any()).
			DoAndReturn(func(_ context.Context, _ id.RequestID, req *models.ReviewRequest) (*models.ServiceRequest, error) {
				s.Equal(models.StatusApproved, req.Outcome())
				return &models.ServiceRequest{ID: requestID, Status: models.StatusApproved}, nil
			})
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/requests/"+requestID.String()+"/review", map[string]any{"status": "approved"})
		rr := testutil.DoRequest(s.router, s.as(req, "AGENT"))
		testutil.AssertStatusOK(s.T(), rr)
		testutil.AssertJSONContains(s.T(), rr, "status", "APPROVED")
	})

	s.Run("illegal transition conflicts", func() {
		s.svc.EXPECT().Review(gomock.Any(), requestID, gomock.Any()).
			Return(nil, dErrors.New(dErrors.CodeConflict, "cannot move request from COMPLETED to REJECTED"))
		req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/requests/"+requestID.String()+"/review", map[string]any{"status": "REJECTED"})
		rr := testutil.DoRequest(s.router, s.as(req, "AGENT"))
		testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
	})
}

func (s *HandlerSuite) TestAssignRequiresManager() {
	requestID := id.RequestID(uuid.New())
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/requests/"+requestID.String()+"/assign", map[string]any{"agent_id": uuid.NewString()})
	rr := testutil.DoRequest(s.router, s.as(req, "AGENT"))
	testutil.AssertStatus(s.T(), rr, http.StatusForbidden)

	s.svc.EXPECT().Assign(gomock.Any(), requestID, gomock.Any()).
		Return(&models.ServiceRequest{ID: requestID, Status: models.StatusSubmitted}, nil)
	req = testutil.NewJSONRequest(s.T(), http.MethodPost, "/api/requests/"+requestID.String()+"/assign", map[string]any{"agent_id": uuid.NewString()})
	rr = testutil.DoRequest(s.router, s.as(req, "MANAGER"))
	testutil.AssertStatusOK(s.T(), rr)
}

func (s *HandlerSuite) TestDelete() {
	requestID := id.RequestID(uuid.New())

	s.svc.EXPECT().Delete(gomock.Any(), requestID).Return(nil)
	req := testutil.NewRequest(s.T(), http.MethodDelete, "/api/requests/"+requestID.String())
	rr := testutil.DoRequest(s.router, s.as(req, "USER"))
	testutil.AssertStatus(s.T(), rr, http.StatusNoContent)

	s.svc.EXPECT().Delete(gomock.Any(), requestID).
		Return(dErrors.New(dErrors.CodeConflict, "only a draft request can be deleted"))
	req = testutil.NewRequest(s.T(), http.MethodDelete, "/api/requests/"+requestID.String())
	rr = testutil.DoRequest(s.router, s.as(req, "USER"))
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "conflict")
}
