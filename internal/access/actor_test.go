package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/requestcontext"
)

type ActorSuite struct {
	suite.Suite
	orgA id.OrganizationID
	orgB id.OrganizationID
}

func TestActorSuite(t *testing.T) {
	suite.Run(t, new(ActorSuite))
}

func (s *ActorSuite) SetupTest() {
	s.orgA = id.OrganizationID(uuid.New())
	s.orgB = id.OrganizationID(uuid.New())
}

func (s *ActorSuite) TestActorFrom() {
	s.Run("anonymous context is unauthorized", func() {
		_, err := ActorFrom(context.Background())
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	s.Run("reads principal", func() {
		userID := id.UserID(uuid.New())
		ctx := requestcontext.WithPrincipal(context.Background(), userID, s.orgA, []string{"AGENT"})
		actor, err := ActorFrom(ctx)
		s.Require().NoError(err)
		s.Equal(userID, actor.UserID)
		s.Equal(s.orgA, actor.OrganizationID)
		s.True(actor.Has(RoleAgent))
	})
}

func (s *ActorSuite) TestOrganizationScope() {
	agent := Actor{UserID: id.UserID(uuid.New()), OrganizationID: s.orgA, Roles: []Role{RoleAgent}}
	super := Actor{UserID: id.UserID(uuid.New()), Roles: []Role{RoleSuperAdmin}}
	citizen := Actor{UserID: id.UserID(uuid.New()), Roles: []Role{RoleUser}}

	s.Run("staff acts inside own organization", func() {
		s.True(agent.CanManageOrganization(s.orgA, StaffRoles...))
	})

	s.Run("staff cannot cross organizations", func() {
		s.False(agent.CanManageOrganization(s.orgB, StaffRoles...))
		err := agent.RequireOrganization(s.orgB, StaffRoles...)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("role must match inside organization", func() {
		s.False(agent.CanManageOrganization(s.orgA, ManagerRoles...))
	})

	s.Run("super admin spans organizations", func() {
		s.True(super.CanManageOrganization(s.orgB, RoleAdmin))
	})

	s.Run("citizen without organization is denied", func() {
		s.False(citizen.CanManageOrganization(id.OrganizationID{}, StaffRoles...))
	})
}
