package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consular/internal/appointment/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
)

func newAppointment(org id.OrganizationID, start time.Time) *models.Appointment {
	return models.NewAppointment(id.AppointmentID(uuid.New()), id.UserID(uuid.New()), org, id.RequestID{},
		start, 30*time.Minute, start.Add(-24*time.Hour))
}

func TestInMemorySlotUniqueness(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	org := id.OrganizationID(uuid.New())
	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)

	first := newAppointment(org, start)
	require.NoError(t, s.Create(ctx, first))
	assert.ErrorIs(t, s.Create(ctx, newAppointment(org, start)), sentinel.ErrAlreadyUsed)
	require.NoError(t, s.Create(ctx, newAppointment(id.OrganizationID(uuid.New()), start)), "other organization")

	_, err := s.Execute(ctx, first.ID, (*models.Appointment).CanCancel,
		func(a *models.Appointment) { a.ApplyCancel("", start.Add(-time.Hour)) })
	require.NoError(t, err)
	require.NoError(t, s.Create(ctx, newAppointment(org, start)), "a cancelled slot frees up")
}

func TestInMemoryListOrdersByStart(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	org := id.OrganizationID(uuid.New())
	base := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	late := newAppointment(org, base.Add(2*time.Hour))
	early := newAppointment(org, base)
	past := newAppointment(org, base.Add(-48*time.Hour))
	for _, a := range []*models.Appointment{late, early, past} {
		require.NoError(t, s.Create(ctx, a))
	}

	out, err := s.List(ctx, models.ListFilter{OrganizationID: org, From: base.Add(-time.Hour)})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, early.ID, out[0].ID)
	assert.Equal(t, late.ID, out[1].ID)

	out, err = s.List(ctx, models.ListFilter{UserID: past.UserID})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestInMemoryExecuteNotFound(t *testing.T) {
	_, err := NewInMemory().Execute(context.Background(), id.AppointmentID(uuid.New()),
		func(*models.Appointment) error { return nil }, func(*models.Appointment) {})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
