package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	notifmodels "consular/internal/notification/models"
	profilemetrics "consular/internal/profile/metrics"
	"consular/internal/profile/models"
	"consular/internal/profile/store"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	auditmemory "consular/pkg/platform/audit/store/memory"
	ctxutil "consular/pkg/testutil"
)

type linkRecorder struct {
	links map[id.UserID]id.ProfileID
}

func (l *linkRecorder) LinkProfile(_ context.Context, userID id.UserID, profileID id.ProfileID) error {
	l.links[userID] = profileID
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

type auditStorePublisher struct{ store *auditmemory.InMemoryStore }

func (p auditStorePublisher) Emit(ctx context.Context, e audit.Event) error {
	return p.store.Append(ctx, e)
}

type ServiceSuite struct {
	suite.Suite
	svc      *Service
	links    *linkRecorder
	notified *notifyRecorder
	audit    *auditmemory.InMemoryStore
	metrics  *profilemetrics.Metrics
	owner    context.Context
	ownerID  id.UserID
	agent    context.Context
	intel    context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.links = &linkRecorder{links: map[id.UserID]id.ProfileID{}}
	s.notified = &notifyRecorder{}
	s.audit = auditmemory.NewInMemoryStore()
	s.metrics = profilemetrics.New(prometheus.NewRegistry())
	s.svc = New(store.NewInMemory(), s.links,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithNotifier(s.notified),
		WithAuditPublisher(auditStorePublisher{s.audit}),
	)
	s.ownerID = id.UserID(uuid.New())
	s.owner = ctxutil.PrincipalContext(context.Background(), s.ownerID, id.OrganizationID{}, "USER")
	s.agent = ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), id.OrganizationID(uuid.New()), "AGENT")
	s.intel = ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), id.OrganizationID{}, "INTEL_AGENT")
}

func validRequest() *models.ProfileRequest {
	return &models.ProfileRequest{FirstName: "Amina", LastName: "Diallo", BirthDate: "1990-04-12", Nationality: "FR"}
}

func (s *ServiceSuite) createAndSubmit() *models.Profile {
	p, err := s.svc.Create(s.owner, validRequest())
	s.Require().NoError(err)
	p, err = s.svc.Submit(s.owner, p.ID)
	s.Require().NoError(err)
	return p
}

func (s *ServiceSuite) TestCreate() {
	s.Run("links the profile to its owner", func() {
		p, err := s.svc.Create(s.owner, validRequest())
		s.Require().NoError(err)
		s.Equal(models.StatusDraft, p.Status)
		s.Equal(p.ID, s.links.links[s.ownerID])
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Created))
	})

	s.Run("second profile conflicts", func() {
		_, err := s.svc.Create(s.owner, validRequest())
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("validation message surfaces", func() {
		other := ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), id.OrganizationID{}, "USER")
		_, err := s.svc.Create(other, &models.ProfileRequest{LastName: "X"})
		s.Equal("first_name is required", dErrors.MessageOf(err))
	})
}

func (s *ServiceSuite) TestGetVisibility() {
	p, err := s.svc.Create(s.owner, validRequest())
	s.Require().NoError(err)

	_, err = s.svc.Get(s.owner, p.ID)
	s.NoError(err)
	_, err = s.svc.Get(s.intel, p.ID)
	s.NoError(err)

	stranger := ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), id.OrganizationID{}, "USER")
	_, err = s.svc.Get(stranger, p.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestReviewLifecycleNotifiesOwner() {
	p := s.createAndSubmit()
	s.Require().NotNil(p.SubmittedAt)

	_, err := s.svc.StartReview(s.owner, p.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	_, err = s.svc.StartReview(s.agent, p.ID)
	s.Require().NoError(err)

	p, err = s.svc.Decide(s.agent, p.ID, &models.DecisionRequest{Status: "VALIDATED"})
	s.Require().NoError(err)
	s.True(p.IsValidated())
	s.False(p.ValidatedBy.IsNil())

	s.Require().Len(s.notified.drafts, 3)
	last := s.notified.drafts[2]
	s.Equal(s.ownerID, last.UserID)
	s.Equal(notifmodels.TypeProfileStatusChanged, last.Type)
	s.Equal("VALIDATED", last.Data["status"])
	s.Contains(last.Channels, notifmodels.ChannelEmail)

	events, _ := s.audit.ListRecent(context.Background(), 0)
	s.Require().Len(events, 1)
	s.Equal(string(audit.EventProfileReviewed), events[0].Action)
	s.Equal("VALIDATED", events[0].Decision)
}

func (s *ServiceSuite) TestRejectedProfileCanBeEditedBackToDraft() {
	p := s.createAndSubmit()
	_, err := s.svc.StartReview(s.agent, p.ID)
	s.Require().NoError(err)
	_, err = s.svc.Decide(s.agent, p.ID, &models.DecisionRequest{Status: "REJECTED", Reason: "photo unreadable"})
	s.Require().NoError(err)

	p, err = s.svc.Update(s.owner, p.ID, validRequest())
	s.Require().NoError(err)
	s.Equal(models.StatusDraft, p.Status)
	s.Len(s.notified.drafts, 4)
}

func (s *ServiceSuite) TestInvalidTransitionsConflict() {
	p, err := s.svc.Create(s.owner, validRequest())
	s.Require().NoError(err)

	_, err = s.svc.StartReview(s.agent, p.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.svc.Submit(s.owner, p.ID)
	s.Require().NoError(err)
	_, err = s.svc.Update(s.owner, p.ID, validRequest())
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	s.Len(s.notified.drafts, 1)
}

func (s *ServiceSuite) TestListAndCount() {
	s.createAndSubmit()

	list, err := s.svc.List(s.agent, models.ListFilter{Status: models.StatusSubmitted})
	s.Require().NoError(err)
	s.Len(list, 1)

	_, err = s.svc.List(s.owner, models.ListFilter{})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))

	n, err := s.svc.CountAwaitingReview(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)
}
