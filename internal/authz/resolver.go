package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/armada-fleet/armada/internal/clock"
)

// DefaultResolveTTL bounds staleness between catalog reloads when no
// explicit version bump arrives.
const DefaultResolveTTL = 5 * time.Minute

// Resolver computes effective permission sets from role assignments and the
// catalog, with versioned caching.
type Resolver struct {
	catalog *Catalog
	cache   Cache
	clock   clock.Clock
	ttl     time.Duration
	logger  *slog.Logger
}

// NewResolver constructs a Resolver. A nil cache disables caching.
func NewResolver(catalog *Catalog, cache Cache, clk clock.Clock, ttl time.Duration, logger *slog.Logger) *Resolver {
	if ttl <= 0 {
		ttl = DefaultResolveTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{catalog: catalog, cache: cache, clock: clk, ttl: ttl, logger: logger}
}

func cacheKey(principalID string, version uint64) string {
	return fmt.Sprintf("authz:eps:%s:%d", principalID, version)
}

// Resolve returns the union of catalog grants across the principal's
// non-expired assignments, keeping the widest scope per (resource, action).
// Results are cached under the principal's assignment version; a version
// bump lands on a fresh key so stale entries age out via TTL.
func (r *Resolver) Resolve(ctx context.Context, principal Principal) (*EffectivePermissionSet, error) {
	if principal.ID == "" {
		return nil, fmt.Errorf("authz: principal id required")
	}

	key := cacheKey(principal.ID, principal.Version)
	if r.cache != nil {
		cached, err := r.cache.Get(ctx, key)
		if err == nil && cached != nil {
			return cached, nil
		}
		if err != nil && err != ErrCacheMiss {
			r.logger.Warn("authz: permission cache read failed", slog.Any("error", err))
		}
	}

	set := r.compute(principal)
	if r.cache != nil {
		if err := r.cache.Set(ctx, key, set, r.ttl); err != nil {
			r.logger.Warn("authz: permission cache write failed", slog.Any("error", err))
		}
	}
	return set, nil
}

func (r *Resolver) compute(principal Principal) *EffectivePermissionSet {
	now := r.clock.Now()
	grants := make(map[string]ScopeKind)

	for _, assignment := range principal.Assignments {
		if assignment.Expired(now) {
			continue
		}
		role, ok := r.catalog.Role(assignment.Role)
		if !ok {
			// Unknown roles grant nothing; one bad record must not blanket-deny
			// the principal or silently fail open.
			r.logger.Warn("authz: skipping unknown role",
				slog.String("principal", principal.ID),
				slog.String("role", assignment.Role))
			continue
		}
		if !role.PermitsScope(assignment.Scope) {
			r.logger.Warn("authz: skipping assignment with illegal scope",
				slog.String("principal", principal.ID),
				slog.String("role", assignment.Role),
				slog.String("scope", assignment.Scope.String()))
			continue
		}
		for _, grant := range role.Grants {
			key := GrantKey(grant.Resource, grant.Action)
			if existing, ok := grants[key]; !ok || grant.Scope.Covers(existing) {
				grants[key] = grant.Scope
			}
		}
	}

	return &EffectivePermissionSet{
		PrincipalID: principal.ID,
		Version:     principal.Version,
		ComputedAt:  now,
		Grants:      grants,
	}
}

// Invalidate drops the cache entry for a principal at a given version.
// Version bumps make this mostly unnecessary; it exists for catalog reloads.
func (r *Resolver) Invalidate(ctx context.Context, principalID string, version uint64) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Delete(ctx, cacheKey(principalID, version))
}
