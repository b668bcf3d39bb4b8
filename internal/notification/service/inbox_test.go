package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"consular/internal/notification/models"
	"consular/internal/notification/store"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	ctxutil "consular/pkg/testutil"
)

type InboxSuite struct {
	suite.Suite
	inbox *Inbox
	disp  *Dispatcher
	user  id.UserID
	ctx   context.Context
}

func TestInboxSuite(t *testing.T) {
	suite.Run(t, new(InboxSuite))
}

func (s *InboxSuite) SetupTest() {
	st := store.NewInMemory()
	s.inbox = NewInbox(st)
	s.disp = NewDispatcher(st, WithDispatcherLogger(discard))
	s.user = id.UserID(uuid.New())
	s.ctx = ctxutil.PrincipalContext(context.Background(), s.user, id.OrganizationID{}, "USER")
}

func (s *InboxSuite) notify(title string) {
	s.disp.Notify(context.Background(), models.Draft{UserID: s.user, Type: models.TypeAgentAssigned, Title: title})
}

func (s *InboxSuite) TestListAndCount() {
	s.notify("one")
	s.notify("two")

	list, err := s.inbox.List(s.ctx, models.ListFilter{Limit: 500})
	s.Require().NoError(err)
	s.Len(list, 2)

	n, err := s.inbox.UnreadCount(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)
}

func (s *InboxSuite) TestMarkReadAndDelete() {
	s.notify("one")
	list, err := s.inbox.List(s.ctx, models.ListFilter{})
	s.Require().NoError(err)
	target := list[0].ID

	got, err := s.inbox.MarkRead(s.ctx, target)
	s.Require().NoError(err)
	s.True(got.Read)
	s.NotNil(got.ReadAt)

	other := ctxutil.PrincipalContext(context.Background(), id.UserID(uuid.New()), id.OrganizationID{}, "USER")
	_, err = s.inbox.MarkRead(other, target)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	s.Require().NoError(s.inbox.Delete(s.ctx, target))
	list, err = s.inbox.List(s.ctx, models.ListFilter{})
	s.Require().NoError(err)
	s.Empty(list)
}

func (s *InboxSuite) TestMarkAllRead() {
	s.notify("one")
	s.notify("two")

	n, err := s.inbox.MarkAllRead(s.ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	count, err := s.inbox.UnreadCount(s.ctx)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *InboxSuite) TestAnonymous() {
	_, err := s.inbox.List(context.Background(), models.ListFilter{})
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}
