package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consular/internal/organization/models"
	id "consular/pkg/domain"
	"consular/pkg/platform/sentinel"
)

func TestInMemory(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()
	now := time.Now()

	lyon, err := models.NewOrganization(id.OrganizationID(uuid.New()), "Consulate of Lyon", []id.CountryCode{"FR"}, now)
	require.NoError(t, err)
	require.NoError(t, s.CreateIfNameAvailable(ctx, lyon))

	dup, _ := models.NewOrganization(id.OrganizationID(uuid.New()), "CONSULATE OF LYON", nil, now)
	assert.ErrorIs(t, s.CreateIfNameAvailable(ctx, dup), sentinel.ErrAlreadyUsed)

	got, err := s.FindByID(ctx, lyon.ID)
	require.NoError(t, err)
	got.Countries[0] = "XX"
	again, _ := s.FindByID(ctx, lyon.ID)
	assert.Equal(t, id.CountryCode("FR"), again.Countries[0], "returned values are copies")

	n, _ := s.Count(ctx)
	assert.Equal(t, 1, n)

	_, err = s.Execute(ctx, id.OrganizationID(uuid.New()), func(*models.Organization) error { return nil }, func(*models.Organization) {})
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
