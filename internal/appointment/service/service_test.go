package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	apptmetrics "consular/internal/appointment/metrics"
	"consular/internal/appointment/models"
	"consular/internal/appointment/store"
	notifmodels "consular/internal/notification/models"
	requestmodels "consular/internal/request/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	auditmemory "consular/pkg/platform/audit/store/memory"
	"consular/pkg/platform/sentinel"
	"consular/pkg/requestcontext"
	ctxutil "consular/pkg/testutil"
)

type orgStub map[id.OrganizationID]bool

func (o orgStub) RequireActive(_ context.Context, orgID id.OrganizationID) error {
	active, ok := o[orgID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "organization not found")
	}
	if !active {
		return dErrors.New(dErrors.CodeConflict, "organization is inactive")
	}
	return nil
}

type requestLookup map[id.RequestID]*requestmodels.ServiceRequest

func (l requestLookup) FindByID(_ context.Context, requestID id.RequestID) (*requestmodels.ServiceRequest, error) {
	if r, ok := l[requestID]; ok {
		return r, nil
	}
	return nil, sentinel.ErrNotFound
}

type notifyRecorder struct {
	mu     sync.Mutex
	drafts []notifmodels.Draft
}

func (n *notifyRecorder) Notify(_ context.Context, d notifmodels.Draft) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drafts = append(n.drafts, d)
}

type auditStorePublisher struct{ store *auditmemory.InMemoryStore }

func (p auditStorePublisher) Emit(ctx context.Context, e audit.Event) error {
	return p.store.Append(ctx, e)
}

type ServiceSuite struct {
	suite.Suite
	svc         *Service
	notified    *notifyRecorder
	audit       *auditmemory.InMemoryStore
	metrics     *apptmetrics.Metrics
	orgID       id.OrganizationID
	inactiveOrg id.OrganizationID
	ownerID     id.UserID
	requestID   id.RequestID
	owner       context.Context
	agent       context.Context
	outsider    context.Context
	citizen     context.Context
	now         time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.orgID = id.OrganizationID(uuid.New())
	s.inactiveOrg = id.OrganizationID(uuid.New())
	s.ownerID = id.UserID(uuid.New())
	s.requestID = id.RequestID(uuid.New())
	s.notified = &notifyRecorder{}
	s.audit = auditmemory.NewInMemoryStore()
	s.metrics = apptmetrics.New(prometheus.NewRegistry())
	s.svc = New(store.NewInMemory(),
		orgStub{s.orgID: true, s.inactiveOrg: false},
		requestLookup{s.requestID: {ID: s.requestID, UserID: s.ownerID, OrganizationID: s.orgID}},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithNotifier(s.notified),
		WithAuditPublisher(auditStorePublisher{s.audit}),
	)

	s.now = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	base := requestcontext.WithTime(context.Background(), s.now)
	s.owner = ctxutil.PrincipalContext(base, s.ownerID, id.OrganizationID{}, "USER")
	s.citizen = ctxutil.PrincipalContext(base, id.UserID(uuid.New()), id.OrganizationID{}, "USER")
	s.agent = ctxutil.PrincipalContext(base, id.UserID(uuid.New()), s.orgID, "AGENT")
	s.outsider = ctxutil.PrincipalContext(base, id.UserID(uuid.New()), id.OrganizationID(uuid.New()), "AGENT")
}

func (s *ServiceSuite) bookReq(start time.Time) *models.BookRequest {
	return &models.BookRequest{OrganizationID: s.orgID.String(), StartsAt: start.Format(time.RFC3339)}
}

func (s *ServiceSuite) book(ctx context.Context, start time.Time) *models.Appointment {
	a, err := s.svc.Book(ctx, s.bookReq(start))
	s.Require().NoError(err)
	return a
}

func (s *ServiceSuite) TestBook() {
	start := s.now.Add(48 * time.Hour)

	s.Run("books a free slot and notifies the owner", func() {
		req := s.bookReq(start)
		req.RequestID = s.requestID.String()
		a, err := s.svc.Book(s.owner, req)
		s.Require().NoError(err)
		s.Equal(models.StatusScheduled, a.Status)
		s.Equal(s.requestID, a.RequestID)
		s.Equal(30*time.Minute, a.Duration)
		s.Require().Len(s.notified.drafts, 1)
		s.Equal(notifmodels.TypeAppointmentBooked, s.notified.drafts[0].Type)
		s.Equal(s.ownerID, s.notified.drafts[0].UserID)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Booked))
	})

	s.Run("rejects a taken slot", func() {
		_, err := s.svc.Book(s.citizen, s.bookReq(start))
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Equal("slot is already booked", dErrors.MessageOf(err))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.SlotConflicts))
	})

	s.Run("rejects a past start", func() {
		_, err := s.svc.Book(s.owner, s.bookReq(s.now.Add(-time.Hour)))
		s.Equal("starts_at must be in the future", dErrors.MessageOf(err))
	})

	s.Run("rejects an inactive organization", func() {
		req := s.bookReq(start)
		req.OrganizationID = s.inactiveOrg.String()
		_, err := s.svc.Book(s.owner, req)
		s.Equal("organization is inactive", dErrors.MessageOf(err))
	})

	s.Run("rejects a request owned by someone else", func() {
		req := s.bookReq(start.Add(time.Hour))
		req.RequestID = s.requestID.String()
		_, err := s.svc.Book(s.citizen, req)
		s.Equal("request_id is invalid", dErrors.MessageOf(err))
	})

	s.Run("requires a principal", func() {
		_, err := s.svc.Book(context.Background(), s.bookReq(start))
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestCancel() {
	start := s.now.Add(24 * time.Hour)

	s.Run("owner cancels and the slot frees up", func() {
		a := s.book(s.owner, start)
		cancelled, err := s.svc.Cancel(s.owner, a.ID, &models.CancelRequest{Reason: " travel "})
		s.Require().NoError(err)
		s.Equal(models.StatusCancelled, cancelled.Status)
		s.Equal("travel", cancelled.Reason)
		s.Require().NotNil(cancelled.CancelledAt)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Cancelled.WithLabelValues("owner")))

		last := s.notified.drafts[len(s.notified.drafts)-1]
		s.Equal(notifmodels.TypeAppointmentCancelled, last.Type)

		s.book(s.citizen, start)
	})

	s.Run("staff of the organization can cancel", func() {
		a := s.book(s.owner, start.Add(time.Hour))
		_, err := s.svc.Cancel(s.agent, a.ID, &models.CancelRequest{Reason: "closed"})
		s.Require().NoError(err)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Cancelled.WithLabelValues("staff")))

		events, err := s.audit.ListRecent(context.Background(), 0)
		s.Require().NoError(err)
		var decisions []string
		for _, e := range events {
			if e.Action == string(audit.EventAppointmentCancelled) {
				decisions = append(decisions, e.Decision)
			}
		}
		s.ElementsMatch([]string{"owner", "staff"}, decisions)
	})

	s.Run("others see not found", func() {
		a := s.book(s.owner, start.Add(2*time.Hour))
		_, err := s.svc.Cancel(s.outsider, a.ID, &models.CancelRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		_, err = s.svc.Cancel(s.citizen, a.ID, &models.CancelRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("twice is a conflict", func() {
		a := s.book(s.owner, start.Add(3*time.Hour))
		_, err := s.svc.Cancel(s.owner, a.ID, &models.CancelRequest{})
		s.Require().NoError(err)
		_, err = s.svc.Cancel(s.owner, a.ID, &models.CancelRequest{})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

func (s *ServiceSuite) TestComplete() {
	start := s.now.Add(time.Hour)
	a := s.book(s.owner, start)

	_, err := s.svc.Complete(s.owner, a.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.svc.Complete(s.agent, a.ID)
	s.Equal("appointment has not started yet", dErrors.MessageOf(err))

	later := requestcontext.WithTime(s.agent, start.Add(10*time.Minute))
	_, err = s.svc.Complete(ctxutil.PrincipalContext(requestcontext.WithTime(context.Background(), start.Add(10*time.Minute)),
		id.UserID(uuid.New()), id.OrganizationID(uuid.New()), "AGENT"), a.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	done, err := s.svc.Complete(later, a.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, done.Status)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Completed))
}

func (s *ServiceSuite) TestListing() {
	first := s.book(s.owner, s.now.Add(2*time.Hour))
	second := s.book(s.owner, s.now.Add(time.Hour))
	s.book(s.citizen, s.now.Add(3*time.Hour))

	mine, err := s.svc.ListMine(s.owner, models.ListFilter{UserID: id.UserID(uuid.New())})
	s.Require().NoError(err)
	s.Require().Len(mine, 2)
	s.Equal(second.ID, mine[0].ID)
	s.Equal(first.ID, mine[1].ID)

	org, err := s.svc.ListOrganization(s.agent, s.orgID, models.ListFilter{})
	s.Require().NoError(err)
	s.Len(org, 3)

	_, err = s.svc.ListOrganization(s.outsider, s.orgID, models.ListFilter{})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	upcoming, err := s.svc.Upcoming(s.citizen, 5)
	s.Require().NoError(err)
	s.Len(upcoming, 1)

	got, err := s.svc.Get(s.agent, first.ID)
	s.Require().NoError(err)
	s.Equal(first.ID, got.ID)
	_, err = s.svc.Get(s.citizen, first.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
