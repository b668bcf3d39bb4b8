package service

import (
	"context"
	"errors"
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
	usermetrics "consular/internal/user/metrics"
	"consular/internal/user/models"
	"consular/internal/user/store"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	audit "consular/pkg/platform/audit"
	"consular/pkg/requestcontext"
	ctxutil "consular/pkg/testutil"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (p *recordingPublisher) Emit(_ context.Context, e audit.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Action
	}
	return out
}

type ServiceSuite struct {
	suite.Suite
	store   *store.InMemory
	audit   *recordingPublisher
	metrics *usermetrics.Metrics
	svc     *Service
	ctx     context.Context
	orgA    id.OrganizationID
	orgB    id.OrganizationID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.audit = &recordingPublisher{}
	s.metrics = usermetrics.New(prometheus.NewRegistry())
	s.svc = New(s.store,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithAuditPublisher(s.audit),
	)
	s.ctx = requestcontext.WithTime(context.Background(), time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	s.orgA = id.OrganizationID(uuid.New())
	s.orgB = id.OrganizationID(uuid.New())
}

func (s *ServiceSuite) register(email string) *models.User {
	u, err := s.svc.Register(s.ctx, &models.RegisterRequest{Email: email, Password: "correct-horse"})
	s.Require().NoError(err)
	return u
}

func (s *ServiceSuite) superAdmin() context.Context {
	return ctxutil.PrincipalContext(s.ctx, id.UserID(uuid.New()), id.OrganizationID{}, "SUPER_ADMIN")
}

func (s *ServiceSuite) adminOf(orgID id.OrganizationID) context.Context {
	return ctxutil.PrincipalContext(s.ctx, id.UserID(uuid.New()), orgID, "ADMIN")
}

func (s *ServiceSuite) TestRegister() {
	s.Run("creates a citizen account with a derived name", func() {
		u, err := s.svc.Register(s.ctx, &models.RegisterRequest{Email: " Jane.Doe@Example.org ", Password: "correct-horse"})
		s.Require().NoError(err)
		s.Equal("jane.doe@example.org", u.Email)
		s.Equal([]access.Role{access.RoleUser}, u.Roles)
		s.Equal("Jane", u.FirstName)
		s.Equal("Doe", u.LastName)
		s.NotEqual("correct-horse", u.PasswordHash)
		s.Contains(s.audit.actions(), string(audit.EventUserRegistered))
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Registered))
	})

	s.Run("duplicate email conflicts", func() {
		_, err := s.svc.Register(s.ctx, &models.RegisterRequest{Email: "jane.doe@example.org", Password: "correct-horse"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("short password is a validation error", func() {
		_, err := s.svc.Register(s.ctx, &models.RegisterRequest{Email: "short@example.org", Password: "abc"})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("audit failure fails registration", func() {
		s.audit.err = errors.New("audit down")
		defer func() { s.audit.err = nil }()
		_, err := s.svc.Register(s.ctx, &models.RegisterRequest{Email: "audit@example.org", Password: "correct-horse"})
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func (s *ServiceSuite) TestAuthenticate() {
	u := s.register("login@example.org")

	s.Run("valid credentials", func() {
		got, err := s.svc.Authenticate(s.ctx, "LOGIN@example.org", "correct-horse")
		s.Require().NoError(err)
		s.Equal(u.ID, got.ID)
	})

	s.Run("wrong password and unknown email look the same", func() {
		_, err1 := s.svc.Authenticate(s.ctx, "login@example.org", "wrong-password")
		_, err2 := s.svc.Authenticate(s.ctx, "nobody@example.org", "correct-horse")
		s.True(dErrors.HasCode(err1, dErrors.CodeUnauthorized))
		s.Equal(dErrors.MessageOf(err1), dErrors.MessageOf(err2))
		s.Equal(2.0, testutil.ToFloat64(s.metrics.Logins.WithLabelValues("failure")))
	})

	s.Run("deleted account cannot log in", func() {
		s.Require().NoError(s.svc.SoftDelete(s.superAdmin(), u.ID))
		_, err := s.svc.Authenticate(s.ctx, "login@example.org", "correct-horse")
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestLoadPrincipal() {
	u := s.register("principal@example.org")

	p, err := s.svc.LoadPrincipal(s.ctx, u.ID)
	s.Require().NoError(err)
	s.Equal([]string{"USER"}, p.Roles)
	s.True(p.OrganizationID.IsNil())

	s.Require().NoError(s.svc.SoftDelete(s.superAdmin(), u.ID))
	_, err = s.svc.LoadPrincipal(s.ctx, u.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))

	_, err = s.svc.LoadPrincipal(s.ctx, id.UserID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *ServiceSuite) TestAssignRoles() {
	s.Run("admin staffs its own organization", func() {
		u := s.register("agent@example.org")
		got, err := s.svc.AssignRoles(s.adminOf(s.orgA), u.ID, &models.AssignRolesRequest{
			Roles: []string{"agent"}, OrganizationID: s.orgA.String(),
		})
		s.Require().NoError(err)
		s.Equal([]access.Role{access.RoleAgent}, got.Roles)
		s.Equal(s.orgA, got.OrganizationID)
	})

	s.Run("admin cannot grant ADMIN", func() {
		u := s.register("wannabe@example.org")
		_, err := s.svc.AssignRoles(s.adminOf(s.orgA), u.ID, &models.AssignRolesRequest{
			Roles: []string{"ADMIN"}, OrganizationID: s.orgA.String(),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("admin cannot staff another organization", func() {
		u := s.register("other@example.org")
		_, err := s.svc.AssignRoles(s.adminOf(s.orgA), u.ID, &models.AssignRolesRequest{
			Roles: []string{"MANAGER"}, OrganizationID: s.orgB.String(),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("admin cannot take staff from another organization", func() {
		u := s.register("poached@example.org")
		_, err := s.svc.AssignRoles(s.superAdmin(), u.ID, &models.AssignRolesRequest{
			Roles: []string{"AGENT"}, OrganizationID: s.orgB.String(),
		})
		s.Require().NoError(err)

		_, err = s.svc.AssignRoles(s.adminOf(s.orgA), u.ID, &models.AssignRolesRequest{
			Roles: []string{"AGENT"}, OrganizationID: s.orgA.String(),
		})
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("super admin grants ADMIN and records audit", func() {
		u := s.register("boss@example.org")
		got, err := s.svc.AssignRoles(s.superAdmin(), u.ID, &models.AssignRolesRequest{
			Roles: []string{"ADMIN", "USER"}, OrganizationID: s.orgB.String(),
		})
		s.Require().NoError(err)
		s.True(got.HasRole(access.RoleAdmin))
		s.Contains(s.audit.actions(), string(audit.EventRolesAssigned))
	})

	s.Run("staff roles need an organization", func() {
		u := s.register("orphan@example.org")
		_, err := s.svc.AssignRoles(s.superAdmin(), u.ID, &models.AssignRolesRequest{Roles: []string{"AGENT"}})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("anonymous caller is unauthorized", func() {
		u := s.register("anon@example.org")
		_, err := s.svc.AssignRoles(s.ctx, u.ID, &models.AssignRolesRequest{Roles: []string{"USER"}})
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

func (s *ServiceSuite) TestSoftDelete() {
	u := s.register("gone@example.org")

	s.Run("admin of another organization is forbidden", func() {
		err := s.svc.SoftDelete(s.adminOf(s.orgA), u.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("cannot delete yourself", func() {
		ctx := ctxutil.PrincipalContext(s.ctx, u.ID, id.OrganizationID{}, "SUPER_ADMIN")
		err := s.svc.SoftDelete(ctx, u.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("super admin deletes once", func() {
		s.Require().NoError(s.svc.SoftDelete(s.superAdmin(), u.ID))
		stored, err := s.store.FindByID(s.ctx, u.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusDeleted, stored.Status)
		s.NotNil(stored.DeletedAt)

		err = s.svc.SoftDelete(s.superAdmin(), u.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("deleted users are hidden from reads", func() {
		_, err := s.svc.Get(s.superAdmin(), u.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestGet() {
	u := s.register("reader@example.org")

	s.Run("self read", func() {
		ctx := ctxutil.PrincipalContext(s.ctx, u.ID, id.OrganizationID{}, "USER")
		got, err := s.svc.Get(ctx, u.ID)
		s.Require().NoError(err)
		s.Equal(u.Email, got.Email)
	})

	s.Run("another citizen cannot read", func() {
		ctx := ctxutil.PrincipalContext(s.ctx, id.UserID(uuid.New()), id.OrganizationID{}, "USER")
		_, err := s.svc.Get(ctx, u.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestBootstrapSuperAdmin() {
	req := &models.BootstrapRequest{Email: "root@consulate.example", Password: "correct-horse"}
	u, err := s.svc.BootstrapSuperAdmin(s.ctx, req)
	s.Require().NoError(err)
	s.True(u.HasRole(access.RoleSuperAdmin))

	_, err = s.svc.BootstrapSuperAdmin(s.ctx, &models.BootstrapRequest{Email: "second@consulate.example", Password: "correct-horse"})
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestListByOrganization() {
	u := s.register("staff@example.org")
	_, err := s.svc.AssignRoles(s.superAdmin(), u.ID, &models.AssignRolesRequest{
		Roles: []string{"AGENT"}, OrganizationID: s.orgA.String(),
	})
	s.Require().NoError(err)

	users, err := s.svc.ListByOrganization(s.adminOf(s.orgA), s.orgA, 0, 0)
	s.Require().NoError(err)
	s.Len(users, 1)

	_, err = s.svc.ListByOrganization(s.adminOf(s.orgB), s.orgA, 10, 0)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestLinkProfile() {
	u := s.register("profile@example.org")
	p1 := id.ProfileID(uuid.New())

	s.Require().NoError(s.svc.LinkProfile(s.ctx, u.ID, p1))
	s.Require().NoError(s.svc.LinkProfile(s.ctx, u.ID, p1))

	err := s.svc.LinkProfile(s.ctx, u.ID, id.ProfileID(uuid.New()))
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
}

func (s *ServiceSuite) TestRequireStaffMember() {
	agent := s.register("assignee@example.org")
	_, err := s.svc.AssignRoles(s.adminOf(s.orgA), agent.ID, &models.AssignRolesRequest{
		Roles: []string{"AGENT"}, OrganizationID: s.orgA.String(),
	})
	s.Require().NoError(err)

	s.NoError(s.svc.RequireStaffMember(s.ctx, agent.ID, s.orgA, access.RoleAgent))

	err = s.svc.RequireStaffMember(s.ctx, agent.ID, s.orgB, access.RoleAgent)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	err = s.svc.RequireStaffMember(s.ctx, agent.ID, s.orgA, access.RoleManager)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	err = s.svc.RequireStaffMember(s.ctx, id.UserID(uuid.New()), s.orgA, access.RoleAgent)
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}
