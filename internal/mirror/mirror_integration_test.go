//go:build integration

package mirror

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"consular/pkg/testutil/containers"
)

type doc struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type MirrorIntegrationSuite struct {
	suite.Suite
	mirror *Mirror
}

func TestMirrorIntegrationSuite(t *testing.T) {
	suite.Run(t, new(MirrorIntegrationSuite))
}

func (s *MirrorIntegrationSuite) SetupSuite() {
	client := containers.NewRedis(s.T())
	s.mirror = New(client, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil)), prometheus.NewRegistry())
}

func (s *MirrorIntegrationSuite) TestRoundTrip() {
	ctx := context.Background()

	s.Run("miss before write", func() {
		var got doc
		found, err := s.mirror.Get(ctx, KindProfile, "p-1", &got)
		s.Require().NoError(err)
		s.False(found)
	})

	s.Run("put then get", func() {
		s.mirror.Put(ctx, KindProfile, "p-1", doc{ID: "p-1", Status: "SUBMITTED"})
		var got doc
		found, err := s.mirror.Get(ctx, KindProfile, "p-1", &got)
		s.Require().NoError(err)
		s.True(found)
		s.Equal("SUBMITTED", got.Status)
	})

	s.Run("kinds do not collide", func() {
		var got doc
		found, err := s.mirror.Get(ctx, KindUser, "p-1", &got)
		s.Require().NoError(err)
		s.False(found)
	})

	s.Run("delete", func() {
		s.mirror.Delete(ctx, KindProfile, "p-1")
		var got doc
		found, err := s.mirror.Get(ctx, KindProfile, "p-1", &got)
		s.Require().NoError(err)
		s.False(found)
	})
}
