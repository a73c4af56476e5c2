package authz

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/armada-fleet/armada/internal/clock"
)

func testResolver(t *testing.T, cache Cache) (*Resolver, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewResolver(DefaultCatalog(), cache, clk, time.Minute, nil), clk
}

func TestResolveWidestScopeWins(t *testing.T) {
	resolver, _ := testResolver(t, nil)

	// VIEWER grants devices.view at TEAM, ORG_ADMIN at ORGANIZATION. The
	// union keeps the wider scope regardless of assignment order.
	principal := Principal{
		ID: "u-1",
		Assignments: []RoleAssignment{
			{Role: "ORG_ADMIN", Scope: ScopeOrganization, ScopeID: "org-1"},
			{Role: "VIEWER", Scope: ScopeTeam, ScopeID: "team-1"},
		},
	}
	set, err := resolver.Resolve(context.Background(), principal)
	require.NoError(t, err)

	scope, ok := set.Scope(ResourceDevices, ActionView)
	require.True(t, ok)
	require.Equal(t, ScopeOrganization, scope)

	// VIEWER-only grants survive the union untouched.
	scope, ok = set.Scope(ResourceUsers, ActionManage)
	require.True(t, ok)
	require.Equal(t, ScopeUser, scope)
}

func TestResolveSkipsExpiredAssignments(t *testing.T) {
	resolver, clk := testResolver(t, nil)
	past := clk.Now().Add(-time.Hour)

	principal := Principal{
		ID: "u-2",
		Assignments: []RoleAssignment{
			{Role: "FIELD_SUPERVISOR", Scope: ScopeTeam, ScopeID: "team-1", ExpiresAt: &past},
		},
	}
	set, err := resolver.Resolve(context.Background(), principal)
	require.NoError(t, err)
	require.Empty(t, set.Grants)
}

func TestResolveSkipsUnknownRoleWithoutFailing(t *testing.T) {
	resolver, _ := testResolver(t, nil)

	principal := Principal{
		ID: "u-3",
		Assignments: []RoleAssignment{
			{Role: "ASTRONAUT", Scope: ScopeTeam, ScopeID: "team-1"},
			{Role: "VIEWER", Scope: ScopeTeam, ScopeID: "team-1"},
		},
	}
	set, err := resolver.Resolve(context.Background(), principal)
	require.NoError(t, err)

	_, ok := set.Scope(ResourceDevices, ActionView)
	require.True(t, ok, "valid assignments still grant despite the bad record")
}

func TestResolveSkipsIllegalAssignmentScope(t *testing.T) {
	resolver, _ := testResolver(t, nil)

	// FIELD_SUPERVISOR may only be assigned at TEAM scope.
	principal := Principal{
		ID: "u-4",
		Assignments: []RoleAssignment{
			{Role: "FIELD_SUPERVISOR", Scope: ScopeSystem, ScopeID: "root"},
		},
	}
	set, err := resolver.Resolve(context.Background(), principal)
	require.NoError(t, err)
	require.Empty(t, set.Grants)
}

func TestResolveRequiresPrincipalID(t *testing.T) {
	resolver, _ := testResolver(t, nil)
	_, err := resolver.Resolve(context.Background(), Principal{})
	require.Error(t, err)
}

func TestResolveCachesPerVersion(t *testing.T) {
	resolver, _ := testResolver(t, NewMemoryCache())
	ctx := context.Background()

	principal := Principal{
		ID:          "u-5",
		Version:     7,
		Assignments: []RoleAssignment{{Role: "VIEWER", Scope: ScopeTeam, ScopeID: "team-1"}},
	}
	first, err := resolver.Resolve(ctx, principal)
	require.NoError(t, err)

	// Same version: the cached set is authoritative even though the
	// in-memory assignments changed underneath it.
	principal.Assignments = append(principal.Assignments,
		RoleAssignment{Role: "ORG_ADMIN", Scope: ScopeOrganization, ScopeID: "org-1"})
	cached, err := resolver.Resolve(ctx, principal)
	require.NoError(t, err)
	require.Equal(t, first.Grants, cached.Grants)
	_, ok := cached.Scope(ResourceTeams, ActionManage)
	require.False(t, ok)

	// A version bump lands on a fresh cache key and recomputes.
	principal.Version = 8
	fresh, err := resolver.Resolve(ctx, principal)
	require.NoError(t, err)
	scope, ok := fresh.Scope(ResourceTeams, ActionManage)
	require.True(t, ok)
	require.Equal(t, ScopeOrganization, scope)
}

func TestResolveRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	resolver, _ := testResolver(t, NewRedisCache(client))
	ctx := context.Background()

	principal := Principal{
		ID:          "u-6",
		Version:     1,
		Assignments: []RoleAssignment{{Role: "VIEWER", Scope: ScopeTeam, ScopeID: "team-1"}},
	}
	first, err := resolver.Resolve(ctx, principal)
	require.NoError(t, err)

	principal.Assignments = nil
	cached, err := resolver.Resolve(ctx, principal)
	require.NoError(t, err)
	require.Equal(t, first.Grants, cached.Grants)

	// Explicit invalidation forces recomputation from the (now empty)
	// assignment list.
	require.NoError(t, resolver.Invalidate(ctx, principal.ID, principal.Version))
	fresh, err := resolver.Resolve(ctx, principal)
	require.NoError(t, err)
	require.Empty(t, fresh.Grants)
}

func TestResolveSurvivesCacheOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	resolver, _ := testResolver(t, NewRedisCache(client))
	mr.Close()

	principal := Principal{
		ID:          "u-7",
		Assignments: []RoleAssignment{{Role: "VIEWER", Scope: ScopeTeam, ScopeID: "team-1"}},
	}
	set, err := resolver.Resolve(context.Background(), principal)
	require.NoError(t, err, "cache errors degrade to recomputation, not failure")
	_, ok := set.Scope(ResourceDevices, ActionView)
	require.True(t, ok)
}
