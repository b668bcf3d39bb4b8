package service

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	orgmetrics "consular/internal/organization/metrics"
	"consular/internal/organization/models"
	"consular/internal/organization/store"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	auditmemory "consular/pkg/platform/audit/store/memory"
	ctxutil "consular/pkg/testutil"
)

type auditStorePublisher struct{ store *auditmemory.InMemoryStore }

func (p auditStorePublisher) Emit(ctx context.Context, e audit.Event) error {
	return p.store.Append(ctx, e)
}

type ServiceSuite struct {
	suite.Suite
	svc     *Service
	audit   *auditmemory.InMemoryStore
	metrics *orgmetrics.Metrics
	super   context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.audit = auditmemory.NewInMemoryStore()
	s.metrics = orgmetrics.New(prometheus.NewRegistry())
	s.svc = New(store.NewInMemory(),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithAuditPublisher(auditStorePublisher{s.audit}),
	)
	s.super = ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), id.OrganizationID{}, "SUPER_ADMIN")
}

func (s *ServiceSuite) create(name string, countries ...string) *models.Organization {
	o, err := s.svc.Create(s.super, &models.CreateOrganizationRequest{Name: name, Countries: countries})
	s.Require().NoError(err)
	return o
}

func (s *ServiceSuite) TestCreate() {
	s.Run("super admin creates", func() {
		o := s.create("Consulate of Lyon", "fr")
		s.True(o.IsActive())
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Created))
		events, _ := s.audit.ListRecent(context.Background(), 0)
		s.Require().Len(events, 1)
		s.Equal(string(audit.EventOrganizationCreated), events[0].Action)
	})

	s.Run("duplicate name", func() {
		_, err := s.svc.Create(s.super, &models.CreateOrganizationRequest{Name: "consulate of lyon"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("admin cannot create", func() {
		ctx := ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), id.OrganizationID(uuid.New()), "ADMIN")
		_, err := s.svc.Create(ctx, &models.CreateOrganizationRequest{Name: "Rogue"})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}

func (s *ServiceSuite) TestActivation() {
	o := s.create("Embassy in Bern", "CH")

	s.Require().NoError(s.svc.RequireActive(context.Background(), o.ID))

	_, err := s.svc.Deactivate(s.super, o.ID)
	s.Require().NoError(err)
	err = s.svc.RequireActive(context.Background(), o.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.svc.Deactivate(s.super, o.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	_, err = s.svc.Reactivate(s.super, o.ID)
	s.Require().NoError(err)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.StatusChanges.WithLabelValues("active")))

	_, err = s.svc.Deactivate(s.super, id.OrganizationID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestListByCountry() {
	s.create("Consulate of Lyon", "FR")
	s.create("Embassy in Bern", "CH", "LI")

	all, err := s.svc.List(context.Background(), "")
	s.Require().NoError(err)
	s.Len(all, 2)

	swiss, err := s.svc.List(context.Background(), "LI")
	s.Require().NoError(err)
	s.Require().Len(swiss, 1)
	s.Equal("Embassy in Bern", swiss[0].Name)
}

func (s *ServiceSuite) TestUpdateCountries() {
	o := s.create("Consulate of Lyon", "FR")
	admin := ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), o.ID, "ADMIN")

	got, err := s.svc.UpdateCountries(admin, o.ID, &models.UpdateCountriesRequest{Countries: []string{"FR", "MC"}})
	s.Require().NoError(err)
	s.Equal([]id.CountryCode{"FR", "MC"}, got.Countries)

	other := ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), id.OrganizationID(uuid.New()), "ADMIN")
	_, err = s.svc.UpdateCountries(other, o.ID, &models.UpdateCountriesRequest{Countries: []string{"DE"}})
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestEnsureIsIdempotent() {
	first, err := s.svc.Ensure(context.Background(), "Embassy in Bern", []string{"CH"})
	s.Require().NoError(err)
	second, err := s.svc.Ensure(context.Background(), " embassy in bern", nil)
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID)

	n, err := s.svc.Count(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)
}
