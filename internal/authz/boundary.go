package authz

import (
	"context"
	"slices"
)

// Evaluator layers organizational boundaries on top of resolved
// permissions: a role granting an action does not grant it outside the
// principal's assigned scope, except for designated cross-scope roles.
type Evaluator struct {
	resolver *Resolver
}

// NewEvaluator constructs an Evaluator on top of the given resolver.
func NewEvaluator(resolver *Resolver) *Evaluator {
	return &Evaluator{resolver: resolver}
}

// Authorize decides whether principal may perform action on resource within
// the target described by bctx. Steps short-circuit on the first decisive
// match; the reason string is suitable for audit logging by the caller.
func (e *Evaluator) Authorize(ctx context.Context, principal Principal, resource Resource, action Action, bctx BoundaryContext) (Decision, error) {
	set, err := e.resolver.Resolve(ctx, principal)
	if err != nil {
		return Decision{}, err
	}

	granted, ok := set.Scope(resource, action)
	if !ok {
		return Decision{Allow: false, Reason: ReasonNoPermission}, nil
	}

	// Cross-scope roles: SYSTEM always, ORGANIZATION when the target sits in
	// one of the principal's organizations.
	if granted == ScopeSystem {
		return Decision{Allow: true, Reason: ReasonCrossScope}, nil
	}
	if granted == ScopeOrganization && bctx.OrgID != "" && slices.Contains(bctx.OrgIDs, bctx.OrgID) {
		return Decision{Allow: true, Reason: ReasonCrossScope}, nil
	}

	// Self-scoped actions: a principal acting on their own USER-scope
	// resource bypasses team boundaries when the grant includes USER scope.
	if bctx.Scope == ScopeUser && bctx.ScopeID == principal.ID && granted.Covers(ScopeUser) {
		return Decision{Allow: true, Reason: ReasonSelfScope}, nil
	}

	// Direct resource-level assignment, e.g. explicit project membership.
	if bctx.DirectMember {
		return Decision{Allow: true, Reason: ReasonDirectAssignment}, nil
	}

	// Membership containment. BoundaryContext carries live memberships only;
	// expired ones were filtered at construction and deny here.
	if granted.Covers(ScopeTeam) && bctx.Scope == ScopeTeam && slices.Contains(bctx.TeamIDs, bctx.ScopeID) {
		return Decision{Allow: true, Reason: ReasonTeamMembership}, nil
	}
	if granted.Covers(ScopeRegion) && bctx.Scope == ScopeRegion && slices.Contains(bctx.RegionIDs, bctx.ScopeID) {
		return Decision{Allow: true, Reason: ReasonRegionMembership}, nil
	}

	return Decision{Allow: false, Reason: ReasonOutOfScope}, nil
}
