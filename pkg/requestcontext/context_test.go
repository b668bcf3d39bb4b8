package requestcontext

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	id "consular/pkg/domain"
)

func TestPrincipal(t *testing.T) {
	ctx := context.Background()
	assert.True(t, UserID(ctx).IsNil())
	assert.Nil(t, Roles(ctx))

	userID := id.UserID(uuid.New())
	orgID := id.OrganizationID(uuid.New())
	ctx = WithPrincipal(ctx, userID, orgID, []string{"AGENT"})

	assert.Equal(t, userID, UserID(ctx))
	assert.Equal(t, orgID, OrganizationID(ctx))
	assert.Equal(t, []string{"AGENT"}, Roles(ctx))
}

func TestNow(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, fixed, Now(WithTime(context.Background(), fixed)))
	assert.WithinDuration(t, time.Now(), Now(context.Background()), time.Second)
}

func TestClientMetadata(t *testing.T) {
	ctx := WithClientMetadata(context.Background(), "203.0.113.9", "curl/8.0")
	ctx = WithDevice(ctx, "curl")
	ctx = WithRequestID(ctx, "req-1")

	assert.Equal(t, "203.0.113.9", ClientIP(ctx))
	assert.Equal(t, "curl/8.0", UserAgent(ctx))
	assert.Equal(t, "curl", Device(ctx))
	assert.Equal(t, "req-1", RequestID(ctx))
}
