package authz

import (
	"fmt"
	"time"
)

// ScopeKind is the breadth at which a permission or assignment applies.
// Ordering matters: a wider scope covers every narrower one.
type ScopeKind int

const (
	ScopeUser ScopeKind = iota + 1
	ScopeProject
	ScopeTeam
	ScopeRegion
	ScopeOrganization
	ScopeSystem
)

var scopeNames = map[ScopeKind]string{
	ScopeUser:         "USER",
	ScopeProject:      "PROJECT",
	ScopeTeam:         "TEAM",
	ScopeRegion:       "REGION",
	ScopeOrganization: "ORGANIZATION",
	ScopeSystem:       "SYSTEM",
}

// String returns the canonical scope name.
func (k ScopeKind) String() string {
	if name, ok := scopeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("SCOPE(%d)", int(k))
}

// Covers reports whether k is at least as wide as other.
func (k ScopeKind) Covers(other ScopeKind) bool {
	return k >= other
}

// ParseScopeKind maps a canonical name to a ScopeKind.
func ParseScopeKind(name string) (ScopeKind, error) {
	for kind, n := range scopeNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("authz: unknown scope kind %q", name)
}

// Resource is a closed enumeration of protected resource classes.
type Resource string

const (
	ResourceDevices   Resource = "devices"
	ResourcePolicies  Resource = "policies"
	ResourceTeams     Resource = "teams"
	ResourceProjects  Resource = "projects"
	ResourceUsers     Resource = "users"
	ResourceTelemetry Resource = "telemetry"
	ResourceKeys      Resource = "keys"
)

var knownResources = map[Resource]struct{}{
	ResourceDevices:   {},
	ResourcePolicies:  {},
	ResourceTeams:     {},
	ResourceProjects:  {},
	ResourceUsers:     {},
	ResourceTelemetry: {},
	ResourceKeys:      {},
}

// ParseResource validates a resource name.
func ParseResource(name string) (Resource, error) {
	r := Resource(name)
	if _, ok := knownResources[r]; !ok {
		return "", fmt.Errorf("authz: unknown resource %q", name)
	}
	return r, nil
}

// Action is a closed enumeration of operations on resources.
type Action string

const (
	ActionView   Action = "view"
	ActionManage Action = "manage"
	ActionAssign Action = "assign"
	ActionIssue  Action = "issue"
	ActionRevoke Action = "revoke"
	ActionIngest Action = "ingest"
)

var knownActions = map[Action]struct{}{
	ActionView:   {},
	ActionManage: {},
	ActionAssign: {},
	ActionIssue:  {},
	ActionRevoke: {},
	ActionIngest: {},
}

// ParseAction validates an action name.
func ParseAction(name string) (Action, error) {
	a := Action(name)
	if _, ok := knownActions[a]; !ok {
		return "", fmt.Errorf("authz: unknown action %q", name)
	}
	return a, nil
}

// Permission grants an action on a resource at a scope. Catalog data,
// never mutated at runtime.
type Permission struct {
	Resource Resource
	Action   Action
	Scope    ScopeKind
}

// RoleAssignment binds a principal to a role within a scope. Expired
// assignments grant nothing.
type RoleAssignment struct {
	Role      string
	Level     int
	Scope     ScopeKind
	ScopeID   string
	ExpiresAt *time.Time
}

// Expired reports whether the assignment has lapsed at the given instant.
func (a RoleAssignment) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// Principal is the authenticated actor whose permissions are evaluated.
// Version is bumped by the assignment store whenever assignments change.
type Principal struct {
	ID          string
	Assignments []RoleAssignment
	Version     uint64
}

// GrantKey composes the map key for a (resource, action) pair.
func GrantKey(r Resource, a Action) string {
	return string(r) + "." + string(a)
}

// EffectivePermissionSet holds the widest scope granted per (resource,
// action) for one principal at one assignment version.
type EffectivePermissionSet struct {
	PrincipalID string               `json:"principal_id"`
	Version     uint64               `json:"version"`
	ComputedAt  time.Time            `json:"computed_at"`
	Grants      map[string]ScopeKind `json:"grants"`
}

// Scope returns the widest scope granted for the pair, if any.
func (s *EffectivePermissionSet) Scope(r Resource, a Action) (ScopeKind, bool) {
	if s == nil {
		return 0, false
	}
	kind, ok := s.Grants[GrantKey(r, a)]
	return kind, ok
}

// BoundaryContext describes the target of an authorization check and the
// principal's live memberships. Expired memberships must not be included;
// an expired team membership is treated as absent.
type BoundaryContext struct {
	// Target.
	Scope   ScopeKind
	ScopeID string
	OrgID   string // organization owning the target

	// Principal memberships, live only.
	DirectMember bool
	OrgIDs       []string
	TeamIDs      []string
	RegionIDs    []string
}

// Decision reasons surfaced for audit logging by callers.
const (
	ReasonNoPermission     = "NO_PERMISSION"
	ReasonOutOfScope       = "OUT_OF_SCOPE"
	ReasonCrossScope       = "CROSS_SCOPE"
	ReasonDirectAssignment = "DIRECT_ASSIGNMENT"
	ReasonTeamMembership   = "TEAM_MEMBERSHIP"
	ReasonRegionMembership = "REGION_MEMBERSHIP"
	ReasonSelfScope        = "SELF_SCOPE"
)

// Decision is the structured allow/deny result of a boundary check.
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}
