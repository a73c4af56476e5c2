package authz

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCacheEvictsExpiredEntries(t *testing.T) {
	cache := NewMemoryCache()
	ctx := context.Background()
	set := &EffectivePermissionSet{PrincipalID: "p-1", Version: 1}

	require.NoError(t, cache.Set(ctx, "authz:eps:p-1:1", set, -time.Second))
	_, err := cache.Get(ctx, "authz:eps:p-1:1")
	require.ErrorIs(t, err, ErrCacheMiss)
	require.Empty(t, cache.entries, "expired entry removed on read")

	// Keys orphaned by a version bump are never read again, so writes have
	// to clean them up.
	require.NoError(t, cache.Set(ctx, "authz:eps:p-1:1", set, -time.Second))
	require.NoError(t, cache.Set(ctx, "authz:eps:p-1:2", set, time.Minute))
	require.Len(t, cache.entries, 1, "write sweeps entries past their ttl")

	cached, err := cache.Get(ctx, "authz:eps:p-1:2")
	require.NoError(t, err)
	require.Equal(t, set, cached)
}
