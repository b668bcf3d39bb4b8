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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consular/internal/access"
	apptmodels "consular/internal/appointment/models"
	dashmetrics "consular/internal/dashboard/metrics"
	requestmodels "consular/internal/request/models"
	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
	ctxutil "consular/pkg/testutil"
)

type fakeSources struct {
	mu      sync.Mutex
	filters []requestmodels.ListFilter
	failOn  string
}

func (f *fakeSources) fail(section string) error {
	if f.failOn == section {
		return errors.New(section + " unavailable")
	}
	return nil
}

func (f *fakeSources) CountByStatus(_ context.Context, filter requestmodels.ListFilter) (requestmodels.StatusCounts, error) {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	if err := f.fail("requests"); err != nil {
		return nil, err
	}
	return requestmodels.StatusCounts{requestmodels.StatusSubmitted: 2, requestmodels.StatusDraft: 1}, nil
}

func (f *fakeSources) UnreadCount(context.Context) (int, error) { return 3, f.fail("notifications") }

func (f *fakeSources) Upcoming(_ context.Context, limit int) ([]*apptmodels.Appointment, error) {
	return []*apptmodels.Appointment{{Status: apptmodels.StatusScheduled}}, f.fail("appointments")
}

func (f *fakeSources) CountPending(context.Context) (int, error) { return 7, f.fail("documents") }

func (f *fakeSources) CountAwaitingReview(context.Context) (int, error) { return 4, f.fail("profiles") }

func (f *fakeSources) Count(context.Context) (int, error) { return 12, f.fail("organizations") }

func newService(src *fakeSources, m *dashmetrics.Metrics) *Service {
	return New(src, src, src, src, src, src,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(m),
	)
}

func TestScopeOf(t *testing.T) {
	org := id.OrganizationID(uuid.New())
	cases := []struct {
		name  string
		actor access.Actor
		want  Scope
	}{
		{"citizen", access.Actor{Roles: []access.Role{access.RoleUser}}, ScopeUser},
		{"agent", access.Actor{OrganizationID: org, Roles: []access.Role{access.RoleAgent}}, ScopeAgent},
		{"manager", access.Actor{OrganizationID: org, Roles: []access.Role{access.RoleManager}}, ScopeOrganization},
		{"admin without organization", access.Actor{Roles: []access.Role{access.RoleAdmin, access.RoleAgent}}, ScopeAgent},
		{"intel", access.Actor{Roles: []access.Role{access.RoleIntelAgent}}, ScopeIntel},
		{"super admin", access.Actor{Roles: []access.Role{access.RoleUser, access.RoleSuperAdmin}}, ScopeGlobal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ScopeOf(tc.actor))
		})
	}
}

func TestSummary(t *testing.T) {
	userID := id.UserID(uuid.New())
	org := id.OrganizationID(uuid.New())

	t.Run("citizen sees own requests, inbox and appointments", func(t *testing.T) {
		src := &fakeSources{}
		m := dashmetrics.New(prometheus.NewRegistry())
		out, err := newService(src, m).Summary(ctxutil.PrincipalContext(context.Background(), userID, id.OrganizationID{}, "USER"))
		require.NoError(t, err)

		assert.Equal(t, ScopeUser, out.Scope)
		assert.Equal(t, 2, out.Requests[requestmodels.StatusSubmitted])
		require.NotNil(t, out.UnreadNotifications)
		assert.Equal(t, 3, *out.UnreadNotifications)
		assert.Len(t, out.UpcomingAppointments, 1)
		assert.Nil(t, out.PendingDocuments)
		assert.Nil(t, out.Organizations)
		require.Len(t, src.filters, 1)
		assert.Equal(t, userID, src.filters[0].UserID)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.Builds.WithLabelValues("user")))
	})

	t.Run("agent sees assigned requests and pending documents", func(t *testing.T) {
		src := &fakeSources{}
		out, err := newService(src, nil).Summary(ctxutil.PrincipalContext(context.Background(), userID, org, "AGENT"))
		require.NoError(t, err)

		assert.Equal(t, ScopeAgent, out.Scope)
		require.NotNil(t, out.PendingDocuments)
		assert.Equal(t, 7, *out.PendingDocuments)
		assert.Nil(t, out.UnreadNotifications)
		require.Len(t, src.filters, 1)
		assert.Equal(t, userID, src.filters[0].AssignedAgentID)
		assert.Equal(t, org, src.filters[0].OrganizationID)
	})

	t.Run("manager sees the organization", func(t *testing.T) {
		src := &fakeSources{}
		out, err := newService(src, nil).Summary(ctxutil.PrincipalContext(context.Background(), userID, org, "MANAGER"))
		require.NoError(t, err)

		assert.Equal(t, ScopeOrganization, out.Scope)
		require.NotNil(t, out.ProfilesAwaitingReview)
		assert.Equal(t, 4, *out.ProfilesAwaitingReview)
		assert.Equal(t, org, src.filters[0].OrganizationID)
		assert.True(t, src.filters[0].UserID.IsNil())
	})

	t.Run("super admin sees global counts", func(t *testing.T) {
		src := &fakeSources{}
		out, err := newService(src, nil).Summary(ctxutil.PrincipalContext(context.Background(), userID, id.OrganizationID{}, "SUPER_ADMIN"))
		require.NoError(t, err)

		assert.Equal(t, ScopeGlobal, out.Scope)
		require.NotNil(t, out.Organizations)
		assert.Equal(t, 12, *out.Organizations)
		assert.Equal(t, requestmodels.ListFilter{}, src.filters[0])
	})

	t.Run("a failing section fails the dashboard", func(t *testing.T) {
		src := &fakeSources{failOn: "notifications"}
		_, err := newService(src, nil).Summary(ctxutil.PrincipalContext(context.Background(), userID, id.OrganizationID{}, "USER"))
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})

	t.Run("requires a principal", func(t *testing.T) {
		_, err := newService(&fakeSources{}, nil).Summary(context.Background())
		assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})

	t.Run("stamps generation time", func(t *testing.T) {
		svc := newService(&fakeSources{}, nil)
		fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
		svc.now = func() time.Time { return fixed }
		out, err := svc.Summary(ctxutil.PrincipalContext(context.Background(), userID, id.OrganizationID{}, "USER"))
		require.NoError(t, err)
		assert.Equal(t, fixed, out.GeneratedAt)
	})
}
