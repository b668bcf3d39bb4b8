//go:build integration

package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"consular/pkg/testutil/containers"
)

func TestRedisList(t *testing.T) {
	ctx := context.Background()
	l := NewRedisList(containers.NewRedis(t))

	require.NoError(t, l.Revoke(ctx, "jti-1", time.Minute))

	revoked, err := l.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = l.IsRevoked(ctx, "jti-unknown")
	require.NoError(t, err)
	assert.False(t, revoked)
}
