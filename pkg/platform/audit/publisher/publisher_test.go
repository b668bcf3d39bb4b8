package publisher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	id "consular/pkg/domain"
	audit "consular/pkg/platform/audit"
	"consular/pkg/platform/audit/store/memory"
)

type brokenStore struct{ *memory.InMemoryStore }

func (brokenStore) Append(context.Context, audit.Event) error { return errors.New("db down") }

type PublisherSuite struct {
	suite.Suite
	store   *memory.InMemoryStore
	metrics *Metrics
	pub     *Publisher
	ctx     context.Context
	userID  id.UserID
}

func TestPublisherSuite(t *testing.T) {
	suite.Run(t, new(PublisherSuite))
}

func (s *PublisherSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.pub = New(s.store, slog.New(slog.NewTextHandler(io.Discard, nil)), WithMetrics(s.metrics))
	s.ctx = context.Background()
	s.userID = id.UserID(uuid.New())
}

func (s *PublisherSuite) TestRouting() {
	s.Run("compliance is written immediately", func() {
		s.Require().NoError(s.pub.Emit(s.ctx, audit.Event{UserID: s.userID, Action: string(audit.EventRolesAssigned)}))
		events, err := s.store.ListByUser(s.ctx, s.userID, 0)
		s.Require().NoError(err)
		s.Len(events, 1)
	})

	s.Run("security waits for flush", func() {
		s.Require().NoError(s.pub.Emit(s.ctx, audit.Event{Subject: "198.51.100.2", Action: string(audit.EventLoginFailed)}))
		before, _ := s.store.ListRecent(s.ctx, 0)
		s.pub.FlushSecurity(s.ctx)
		after, _ := s.store.ListRecent(s.ctx, 0)
		s.Equal(len(before)+1, len(after))
	})

	s.Run("operational is written best-effort", func() {
		s.Require().NoError(s.pub.Emit(s.ctx, audit.Event{UserID: s.userID, Action: string(audit.EventAgentAssigned)}))
		events, _ := s.store.ListByUser(s.ctx, s.userID, 0)
		s.Len(events, 2)
	})

	s.Equal(1.0, testutil.ToFloat64(s.metrics.Emitted.WithLabelValues("security")))
}

func (s *PublisherSuite) TestFailureSemantics() {
	pub := New(brokenStore{memory.NewInMemoryStore()}, slog.New(slog.NewTextHandler(io.Discard, nil)), WithMetrics(s.metrics))

	s.Error(pub.Emit(s.ctx, audit.Event{UserID: s.userID, Action: string(audit.EventUserDeleted)}),
		"compliance must fail closed")
	s.NoError(pub.Emit(s.ctx, audit.Event{UserID: s.userID, Action: string(audit.EventLoginSucceeded)}),
		"operational failures are swallowed")
	s.Equal(2.0, testutil.ToFloat64(s.metrics.PersistFailures.WithLabelValues("compliance"))+
		testutil.ToFloat64(s.metrics.PersistFailures.WithLabelValues("operations")))
}
