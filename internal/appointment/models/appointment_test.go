package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "consular/pkg/domain"
	dErrors "consular/pkg/domain-errors"
)

func TestBookRequestValidate(t *testing.T) {
	t.Run("defaults the duration and truncates the start", func(t *testing.T) {
		r := &BookRequest{OrganizationID: uuid.NewString(), StartsAt: "2026-07-01T09:30:45+02:00"}
		require.NoError(t, r.Validate())
		assert.Equal(t, 30*time.Minute, r.Duration())
		assert.Equal(t, time.Date(2026, 7, 1, 7, 30, 0, 0, time.UTC), r.ParsedStart())
		assert.True(t, r.ParsedRequest().IsNil())
	})

	t.Run("messages", func(t *testing.T) {
		cases := map[string]*BookRequest{
			"organization_id is required":                {StartsAt: "2026-07-01T09:30:00Z"},
			"starts_at must be an RFC 3339 timestamp":    {OrganizationID: uuid.NewString(), StartsAt: "tomorrow"},
			"duration_minutes must be between 5 and 240": {OrganizationID: uuid.NewString(), StartsAt: "2026-07-01T09:30:00Z", DurationMinutes: 600},
		}
		for want, r := range cases {
			assert.Equal(t, want, dErrors.MessageOf(r.Validate()))
		}
	})
}

func TestLifecycle(t *testing.T) {
	start := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	a := NewAppointment(id.AppointmentID(uuid.New()), id.UserID(uuid.New()), id.OrganizationID(uuid.New()), id.RequestID{}, start, 30*time.Minute, start.Add(-48*time.Hour))
	assert.Equal(t, start.Add(30*time.Minute), a.EndsAt())

	assert.True(t, dErrors.HasCode(a.CanComplete(start.Add(-time.Hour)), dErrors.CodeInvariantViolation))
	require.NoError(t, a.CanComplete(start.Add(time.Minute)))

	require.NoError(t, a.CanCancel())
	a.ApplyCancel("travel", start.Add(-time.Hour))
	assert.Equal(t, StatusCancelled, a.Status)
	assert.NotNil(t, a.CancelledAt)
	assert.Error(t, a.CanCancel())
	assert.Error(t, a.CanComplete(start.Add(time.Hour)))
}

func TestMarshalIncludesMinutes(t *testing.T) {
	a := NewAppointment(id.AppointmentID(uuid.New()), id.UserID(uuid.New()), id.OrganizationID(uuid.New()), id.RequestID{}, time.Now(), 45*time.Minute, time.Now())
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, 45.0, decoded["duration_minutes"])
	assert.Equal(t, "SCHEDULED", decoded["status"])
	assert.NotContains(t, decoded, "request_id")
}
