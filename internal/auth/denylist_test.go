package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDenylist(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	d := NewMemoryDenylist()
	d.now = func() time.Time { return now }

	revoked, err := d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, d.Revoke(ctx, "jti-1", time.Minute))
	revoked, err = d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// entry disappears with the credential it blocks
	now = now.Add(time.Minute)
	revoked, err = d.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)
}

func TestMemoryDenylistIgnoresSpentTTL(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDenylist()
	require.NoError(t, d.Revoke(ctx, "jti-2", -time.Second))

	revoked, err := d.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}
