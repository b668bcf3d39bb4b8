package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"consular/internal/access"
	"consular/internal/user/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/sentinel"
)

type InMemoryUserStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
	orgID id.OrganizationID
}

func TestInMemoryUserStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryUserStoreSuite))
}

func (s *InMemoryUserStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
	s.orgID = id.OrganizationID(uuid.New())
}

func (s *InMemoryUserStoreSuite) newUser(email string, roles ...access.Role) *models.User {
	u, err := models.NewUser(id.UserID(uuid.New()), email, "First", "Last", "", "hash", roles, time.Now())
	s.Require().NoError(err)
	return u
}

func (s *InMemoryUserStoreSuite) TestLookups() {
	u := s.newUser("jane.doe@example.org", access.RoleUser)
	s.Require().NoError(s.store.Create(s.ctx, u))

	s.Run("by id", func() {
		found, err := s.store.FindByID(s.ctx, u.ID)
		s.Require().NoError(err)
		s.Equal(u.Email, found.Email)
	})

	s.Run("by email case-insensitively", func() {
		found, err := s.store.FindByEmail(s.ctx, "Jane.Doe@Example.org")
		s.Require().NoError(err)
		s.Equal(u.ID, found.ID)
	})

	s.Run("unknown id", func() {
		_, err := s.store.FindByID(s.ctx, id.UserID(uuid.New()))
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("duplicate email", func() {
		err := s.store.Create(s.ctx, s.newUser("jane.doe@example.org", access.RoleUser))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("returned copies are detached", func() {
		found, err := s.store.FindByID(s.ctx, u.ID)
		s.Require().NoError(err)
		found.Roles[0] = access.RoleSuperAdmin
		again, err := s.store.FindByID(s.ctx, u.ID)
		s.Require().NoError(err)
		s.Equal(access.RoleUser, again.Roles[0])
	})
}

func (s *InMemoryUserStoreSuite) TestListByOrganization() {
	a := s.newUser("b-agent@example.org", access.RoleAgent)
	a.OrganizationID = s.orgID
	m := s.newUser("a-manager@example.org", access.RoleManager)
	m.OrganizationID = s.orgID
	gone := s.newUser("c-gone@example.org", access.RoleAgent)
	gone.OrganizationID = s.orgID
	gone.ApplyDeletion(time.Now())
	other := s.newUser("other@example.org", access.RoleAgent)
	for _, u := range []*models.User{a, m, gone, other} {
		s.Require().NoError(s.store.Create(s.ctx, u))
	}

	users, err := s.store.ListByOrganization(s.ctx, s.orgID, 10, 0)
	s.Require().NoError(err)
	s.Require().Len(users, 2)
	s.Equal(m.ID, users[0].ID)
	s.Equal(a.ID, users[1].ID)

	page, err := s.store.ListByOrganization(s.ctx, s.orgID, 1, 1)
	s.Require().NoError(err)
	s.Require().Len(page, 1)
	s.Equal(a.ID, page[0].ID)
}

func (s *InMemoryUserStoreSuite) TestExecute() {
	u := s.newUser("agent@example.org", access.RoleUser)
	s.Require().NoError(s.store.Create(s.ctx, u))

	s.Run("validation failure leaves user unchanged", func() {
		_, err := s.store.Execute(s.ctx, u.ID,
			func(*models.User) error { return dErrors.New(dErrors.CodeConflict, "nope") },
			func(u *models.User) { u.Roles = []access.Role{access.RoleAdmin} },
		)
		s.Require().Error(err)
		found, _ := s.store.FindByID(s.ctx, u.ID)
		s.Equal([]access.Role{access.RoleUser}, found.Roles)
	})

	s.Run("applies mutation", func() {
		updated, err := s.store.Execute(s.ctx, u.ID,
			func(u *models.User) error { return u.CanDelete() },
			func(u *models.User) { u.ApplyDeletion(time.Now()) },
		)
		s.Require().NoError(err)
		s.Equal(models.StatusDeleted, updated.Status)

		exists, err := s.store.ExistsWithRole(s.ctx, access.RoleUser)
		s.Require().NoError(err)
		s.False(exists)
	})
}
