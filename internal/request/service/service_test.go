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

	"consular/internal/access"
	apptmodels "consular/internal/appointment/models"
	catalogmodels "consular/internal/catalog/models"
	notifmodels "consular/internal/notification/models"
	profilemodels "consular/internal/profile/models"
	requestmetrics "consular/internal/request/metrics"
	"consular/internal/request/models"
	"consular/internal/request/store"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	auditmemory "consular/pkg/platform/audit/store/memory"
	"consular/pkg/platform/sentinel"
	"consular/pkg/requestcontext"
	ctxutil "consular/pkg/testutil"
)

type catalogStub struct {
	services map[id.ServiceID]*catalogmodels.Service
}

func (c *catalogStub) Get(_ context.Context, serviceID id.ServiceID) (*catalogmodels.Service, error) {
	svc, ok := c.services[serviceID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "service not found")
	}
	return svc, nil
}

func (c *catalogStub) RequireAvailable(ctx context.Context, serviceID id.ServiceID) (*catalogmodels.Service, error) {
	svc, err := c.Get(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	if !svc.Active {
		return nil, dErrors.New(dErrors.CodeConflict, "service is not available")
	}
	return svc, nil
}

type profileStub struct {
	byUser map[id.UserID]*profilemodels.Profile
}

func (p *profileStub) OwnedBy(_ context.Context, userID id.UserID) (*profilemodels.Profile, error) {
	profile, ok := p.byUser[userID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "profile not found")
	}
	return profile, nil
}

type documentStub struct {
	types map[id.DocumentID]id.DocumentType
}

func (d *documentStub) AttachedTypes(_ context.Context, _ id.UserID, docIDs []id.DocumentID) ([]id.DocumentType, error) {
	out := make([]id.DocumentType, 0, len(docIDs))
	for _, docID := range docIDs {
		t, ok := d.types[docID]
		if !ok {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown document")
		}
		out = append(out, t)
	}
	return out, nil
}

type appointmentStub map[id.AppointmentID]*apptmodels.Appointment

func (a appointmentStub) FindByID(_ context.Context, apptID id.AppointmentID) (*apptmodels.Appointment, error) {
	if appt, ok := a[apptID]; ok {
		return appt, nil
	}
	return nil, sentinel.ErrNotFound
}

type staffStub struct {
	agents map[id.UserID]id.OrganizationID
}

func (s *staffStub) RequireStaffMember(_ context.Context, userID id.UserID, orgID id.OrganizationID, _ ...access.Role) error {
	if s.agents[userID] != orgID {
		return dErrors.New(dErrors.CodeValidation, "assignee is not a member of this organization")
	}
	return nil
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

func (n *notifyRecorder) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.drafts)
}

func (n *notifyRecorder) last() notifmodels.Draft {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.drafts[len(n.drafts)-1]
}

type auditStorePublisher struct{ store *auditmemory.InMemoryStore }

func (p auditStorePublisher) Emit(ctx context.Context, e audit.Event) error {
	return p.store.Append(ctx, e)
}

type ServiceSuite struct {
	suite.Suite
	svc       *Service
	requests  *store.InMemory
	notified  *notifyRecorder
	audit     *auditmemory.InMemoryStore
	metrics   *requestmetrics.Metrics
	docs      *documentStub
	appts     appointmentStub
	orgID     id.OrganizationID
	passport  *catalogmodels.Service
	register  *catalogmodels.Service
	ownerID   id.UserID
	owner     context.Context
	agentID   id.UserID
	agent     context.Context
	manager   context.Context
	outsider  context.Context
	passDocID id.DocumentID
	photoID   id.DocumentID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	base := requestcontext.WithTime(context.Background(), time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	s.orgID = id.OrganizationID(uuid.New())
	s.passport = &catalogmodels.Service{
		ID: id.ServiceID(uuid.New()), OrganizationID: s.orgID, Name: "Passport renewal",
		Category: catalogmodels.CategoryPassport, Active: true,
		RequiredDocuments: []id.DocumentType{id.DocPassport, id.DocPhoto},
		Steps:             []catalogmodels.Step{{Key: "travel", Fields: []catalogmodels.Field{{Name: "reason", Required: true}}}},
	}
	s.register = &catalogmodels.Service{
		ID: id.ServiceID(uuid.New()), OrganizationID: s.orgID, Name: "Consular registration",
		Category: catalogmodels.CategoryRegistration, Active: true,
	}
	catalog := &catalogStub{services: map[id.ServiceID]*catalogmodels.Service{
		s.passport.ID: s.passport,
		s.register.ID: s.register,
	}}

	s.ownerID = id.UserID(uuid.New())
	profiles := &profileStub{byUser: map[id.UserID]*profilemodels.Profile{
		s.ownerID: {ID: id.ProfileID(uuid.New()), UserID: s.ownerID},
	}}
	s.passDocID = id.DocumentID(uuid.New())
	s.photoID = id.DocumentID(uuid.New())
	s.docs = &documentStub{types: map[id.DocumentID]id.DocumentType{
		s.passDocID: id.DocPassport,
		s.photoID:   id.DocPhoto,
	}}
	s.agentID = id.UserID(uuid.New())
	s.appts = appointmentStub{}

	s.requests = store.NewInMemory()
	s.notified = &notifyRecorder{}
	s.audit = auditmemory.NewInMemoryStore()
	s.metrics = requestmetrics.New(prometheus.NewRegistry())
	s.svc = New(s.requests, catalog, profiles, s.docs,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithNotifier(s.notified),
		WithAuditPublisher(auditStorePublisher{s.audit}),
		WithStaff(&staffStub{agents: map[id.UserID]id.OrganizationID{s.agentID: s.orgID}}),
		WithAppointments(s.appts),
	)

	s.owner = ctxutil.PrincipalContext(base, s.ownerID, id.OrganizationID{}, "USER")
	s.agent = ctxutil.PrincipalContext(base, s.agentID, s.orgID, "AGENT")
	s.manager = ctxutil.PrincipalContext(base, id.UserID(uuid.New()), s.orgID, "MANAGER")
	s.outsider = ctxutil.PrincipalContext(base, id.UserID(uuid.New()), id.OrganizationID(uuid.New()), "AGENT")
}

func (s *ServiceSuite) draftPassport() *models.ServiceRequest {
	r, err := s.svc.Create(s.owner, &models.CreateRequest{
		ServiceID:   s.passport.ID.String(),
		FormData:    map[string]any{"reason": "expired"},
		DocumentIDs: []string{s.passDocID.String(), s.photoID.String()},
	})
	s.Require().NoError(err)
	return r
}

func (s *ServiceSuite) submitted() *models.ServiceRequest {
	r, err := s.svc.Submit(s.owner, s.draftPassport().ID)
	s.Require().NoError(err)
	return r
}

func (s *ServiceSuite) TestCreate() {
	s.Run("opens a draft with a reference", func() {
		r := s.draftPassport()
		s.Equal(models.StatusDraft, r.Status)
		s.Equal(s.orgID, r.OrganizationID)
		s.Regexp(`^REQ-[0-9A-Z]{26}$`, r.Reference)
		s.Nil(r.SubmittedAt)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Created.WithLabelValues("PASSPORT")))
		s.Zero(s.notified.count())
	})

	s.Run("requires a profile", func() {
		stranger := ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), id.OrganizationID{}, "USER")
		_, err := s.svc.Create(stranger, &models.CreateRequest{ServiceID: s.passport.ID.String()})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("inactive service is unavailable", func() {
		s.register.Active = false
		defer func() { s.register.Active = true }()
		_, err := s.svc.Create(s.owner, &models.CreateRequest{ServiceID: s.register.ID.String()})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("missing service id", func() {
		_, err := s.svc.Create(s.owner, &models.CreateRequest{})
		s.Equal("service_id is required", dErrors.MessageOf(err))
	})
}

func (s *ServiceSuite) TestSingleActiveRegistration() {
	first, err := s.svc.Create(s.owner, &models.CreateRequest{ServiceID: s.register.ID.String()})
	s.Require().NoError(err)

	_, err = s.svc.Create(s.owner, &models.CreateRequest{ServiceID: s.register.ID.String()})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal("profile already has an active registration request", dErrors.MessageOf(err))

	s.Require().NoError(s.svc.Delete(s.owner, first.ID))
	_, err = s.svc.Create(s.owner, &models.CreateRequest{ServiceID: s.register.ID.String()})
	s.NoError(err)
}

func (s *ServiceSuite) TestSubmit() {
	s.Run("stamps submittedAt and notifies the owner once", func() {
		r := s.submitted()
		s.Equal(models.StatusSubmitted, r.Status)
		s.Require().NotNil(r.SubmittedAt)
		s.Equal(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC), *r.SubmittedAt)

		s.Require().Equal(1, s.notified.count())
		n := s.notified.last()
		s.Equal(s.ownerID, n.UserID)
		s.Equal(notifmodels.TypeRequestStatusChanged, n.Type)
		s.Equal("SUBMITTED", n.Data["status"])
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Transitions.WithLabelValues("DRAFT", "SUBMITTED")))
	})

	s.Run("missing documents are listed", func() {
		r, err := s.svc.Create(s.owner, &models.CreateRequest{
			ServiceID:   s.passport.ID.String(),
			FormData:    map[string]any{"reason": "lost"},
			DocumentIDs: []string{s.photoID.String()},
		})
		s.Require().NoError(err)
		_, err = s.svc.Submit(s.owner, r.ID)
		s.Equal("missing required documents: PASSPORT", dErrors.MessageOf(err))
	})

	s.Run("missing form field", func() {
		r, err := s.svc.Create(s.owner, &models.CreateRequest{
			ServiceID:   s.passport.ID.String(),
			DocumentIDs: []string{s.passDocID.String(), s.photoID.String()},
		})
		s.Require().NoError(err)
		_, err = s.svc.Submit(s.owner, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal("missing required field: reason", dErrors.MessageOf(err))
	})

	s.Run("someone else's request is not found", func() {
		r := s.draftPassport()
		stranger := ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), id.OrganizationID{}, "USER")
		_, err := s.svc.Submit(stranger, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestReviewLifecycle() {
	r := s.submitted()

	_, err := s.svc.StartReview(s.outsider, r.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	r, err = s.svc.StartReview(s.agent, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusInReview, r.Status)
	s.Equal(s.agentID, r.AssignedAgentID)

	r, err = s.svc.Review(s.agent, r.ID, &models.ReviewRequest{Status: "APPROVED"})
	s.Require().NoError(err)
	s.Equal(models.StatusApproved, r.Status)
	s.Equal(s.agentID, r.ReviewedBy)
	s.Contains(s.notified.last().Channels, notifmodels.ChannelEmail)

	r, err = s.svc.Complete(s.agent, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, r.Status)
	s.NotNil(r.CompletedAt)

	s.Equal(4, s.notified.count())
	events, _ := s.audit.ListRecent(context.Background(), 0)
	actions := make([]string, 0, len(events))
	for _, e := range events {
		actions = append(actions, e.Action)
	}
	s.ElementsMatch([]string{string(audit.EventRequestReviewed), string(audit.EventRequestCompleted)}, actions)

	_, err = s.svc.Review(s.agent, r.ID, &models.ReviewRequest{Status: "REJECTED"})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Equal(4, s.notified.count())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Rejected.WithLabelValues("review")))
}

func (s *ServiceSuite) TestAdditionalInfoLoop() {
	r := s.submitted()

	r, err := s.svc.Review(s.agent, r.ID, &models.ReviewRequest{Status: "ADDITIONAL_INFO_NEEDED", Note: "photo is blurry"})
	s.Require().NoError(err)
	s.Equal(models.StatusAdditionalInfoNeeded, r.Status)
	s.Equal("photo is blurry", s.notified.last().Message)

	r, err = s.svc.Update(s.owner, r.ID, &models.UpdateRequest{FormData: map[string]any{"reason": "damaged"}})
	s.Require().NoError(err)
	s.Equal("damaged", r.FormData["reason"])

	r, err = s.svc.Resubmit(s.owner, r.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSubmitted, r.Status)
	s.Equal(3, s.notified.count())
}

func (s *ServiceSuite) appointment(owner id.UserID, orgID id.OrganizationID, status apptmodels.Status) id.AppointmentID {
	apptID := id.AppointmentID(uuid.New())
	s.appts[apptID] = &apptmodels.Appointment{ID: apptID, UserID: owner, OrganizationID: orgID, Status: status}
	return apptID
}

func (s *ServiceSuite) TestLinkAppointment() {
	r := s.draftPassport()
	link := func(apptID id.AppointmentID) (*models.ServiceRequest, error) {
		raw := apptID.String()
		return s.svc.Update(s.owner, r.ID, &models.UpdateRequest{AppointmentID: &raw})
	}

	s.Run("rejects appointments the owner cannot link", func() {
		for name, apptID := range map[string]id.AppointmentID{
			"unknown":           id.AppointmentID(uuid.New()),
			"someone else's":    s.appointment(id.UserID(uuid.New()), s.orgID, apptmodels.StatusScheduled),
			"other consulate":   s.appointment(s.ownerID, id.OrganizationID(uuid.New()), apptmodels.StatusScheduled),
			"already cancelled": s.appointment(s.ownerID, s.orgID, apptmodels.StatusCancelled),
		} {
			_, err := link(apptID)
			s.True(dErrors.HasCode(err, dErrors.CodeValidation), name)
		}
		got, err := s.svc.Get(s.owner, r.ID)
		s.Require().NoError(err)
		s.True(got.AppointmentID.IsNil())
	})

	s.Run("links a scheduled appointment at the request's organization", func() {
		apptID := s.appointment(s.ownerID, s.orgID, apptmodels.StatusScheduled)
		got, err := link(apptID)
		s.Require().NoError(err)
		s.Equal(apptID, got.AppointmentID)
	})

	s.Run("empty value clears the link", func() {
		empty := ""
		got, err := s.svc.Update(s.owner, r.ID, &models.UpdateRequest{AppointmentID: &empty})
		s.Require().NoError(err)
		s.True(got.AppointmentID.IsNil())
	})
}

func (s *ServiceSuite) TestAssign() {
	r := s.submitted()

	_, err := s.svc.Assign(s.agent, r.ID, &models.AssignRequest{AgentID: s.agentID.String()})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.svc.Assign(s.manager, r.ID, &models.AssignRequest{AgentID: uuid.NewString()})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	r, err = s.svc.Assign(s.manager, r.ID, &models.AssignRequest{AgentID: s.agentID.String()})
	s.Require().NoError(err)
	s.Equal(s.agentID, r.AssignedAgentID)

	n := s.notified.last()
	s.Equal(s.agentID, n.UserID)
	s.Equal(notifmodels.TypeAgentAssigned, n.Type)
}

func (s *ServiceSuite) TestDelete() {
	s.Run("owner deletes a draft", func() {
		r := s.draftPassport()
		s.Require().NoError(s.svc.Delete(s.owner, r.ID))
		_, err := s.svc.Get(s.owner, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Deleted))
	})

	s.Run("submitted request cannot be deleted", func() {
		r := s.submitted()
		err := s.svc.Delete(s.owner, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("non-owners cannot tell a draft exists", func() {
		r := s.draftPassport()
		err := s.svc.Delete(s.manager, r.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		err = s.svc.Delete(s.owner, id.RequestID(uuid.New()))
		s.Equal("request not found", dErrors.MessageOf(err))

		_, err = s.svc.Get(s.owner, r.ID)
		s.NoError(err)
	})
}

func (s *ServiceSuite) TestListScoping() {
	s.submitted()
	other := ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), id.OrganizationID{}, "USER")

	mine, err := s.svc.List(s.owner, models.ListFilter{})
	s.Require().NoError(err)
	s.Len(mine, 1)

	theirs, err := s.svc.List(other, models.ListFilter{})
	s.Require().NoError(err)
	s.Empty(theirs)

	staff, err := s.svc.List(s.agent, models.ListFilter{Status: models.StatusSubmitted})
	s.Require().NoError(err)
	s.Len(staff, 1)

	outside, err := s.svc.List(s.outsider, models.ListFilter{})
	s.Require().NoError(err)
	s.Empty(outside)

	_, err = s.svc.Get(s.outsider, staff[0].ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}
