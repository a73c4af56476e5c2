package authz

import (
	"fmt"
	"strings"
)

// RoleSpec declares a role: its hierarchy level, the scope kinds an
// assignment of this role may legally carry, and the permissions it grants.
type RoleSpec struct {
	Name   string
	Level  int
	Scopes []ScopeKind
	Grants []Permission
}

// Catalog is the immutable role/permission table. Built once at startup and
// injected; never mutated afterwards.
type Catalog struct {
	roles map[string]RoleSpec
}

// NewCatalog validates and freezes the given role specs.
func NewCatalog(specs []RoleSpec) (*Catalog, error) {
	roles := make(map[string]RoleSpec, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, fmt.Errorf("authz: role name required")
		}
		if _, exists := roles[name]; exists {
			return nil, fmt.Errorf("authz: duplicate role %q", name)
		}
		if len(spec.Scopes) == 0 {
			return nil, fmt.Errorf("authz: role %q permits no assignment scopes", name)
		}
		for _, grant := range spec.Grants {
			if _, ok := knownResources[grant.Resource]; !ok {
				return nil, fmt.Errorf("authz: role %q grants unknown resource %q", name, grant.Resource)
			}
			if _, ok := knownActions[grant.Action]; !ok {
				return nil, fmt.Errorf("authz: role %q grants unknown action %q", name, grant.Action)
			}
			if _, ok := scopeNames[grant.Scope]; !ok {
				return nil, fmt.Errorf("authz: role %q grants invalid scope %d", name, grant.Scope)
			}
		}
		spec.Name = name
		roles[name] = spec
	}
	return &Catalog{roles: roles}, nil
}

// Role looks up a role spec by name.
func (c *Catalog) Role(name string) (RoleSpec, bool) {
	spec, ok := c.roles[name]
	return spec, ok
}

// PermitsScope reports whether an assignment of the role may carry the
// given scope kind.
func (r RoleSpec) PermitsScope(kind ScopeKind) bool {
	for _, s := range r.Scopes {
		if s == kind {
			return true
		}
	}
	return false
}

// DefaultCatalog ships the fleet role set.
func DefaultCatalog() *Catalog {
	catalog, err := NewCatalog([]RoleSpec{
		{
			Name:   "FLEET_ADMIN",
			Level:  100,
			Scopes: []ScopeKind{ScopeSystem},
			Grants: []Permission{
				{ResourceDevices, ActionManage, ScopeSystem},
				{ResourceDevices, ActionView, ScopeSystem},
				{ResourcePolicies, ActionIssue, ScopeSystem},
				{ResourcePolicies, ActionRevoke, ScopeSystem},
				{ResourceTeams, ActionManage, ScopeSystem},
				{ResourceProjects, ActionManage, ScopeSystem},
				{ResourceUsers, ActionManage, ScopeSystem},
				{ResourceUsers, ActionAssign, ScopeSystem},
				{ResourceKeys, ActionManage, ScopeSystem},
				{ResourceTelemetry, ActionView, ScopeSystem},
			},
		},
		{
			Name:   "ORG_ADMIN",
			Level:  80,
			Scopes: []ScopeKind{ScopeOrganization},
			Grants: []Permission{
				{ResourceDevices, ActionManage, ScopeOrganization},
				{ResourceDevices, ActionView, ScopeOrganization},
				{ResourcePolicies, ActionIssue, ScopeOrganization},
				{ResourceTeams, ActionManage, ScopeOrganization},
				{ResourceProjects, ActionManage, ScopeOrganization},
				{ResourceUsers, ActionAssign, ScopeOrganization},
				{ResourceTelemetry, ActionView, ScopeOrganization},
			},
		},
		{
			Name:   "REGION_MANAGER",
			Level:  60,
			Scopes: []ScopeKind{ScopeRegion},
			Grants: []Permission{
				{ResourceDevices, ActionManage, ScopeRegion},
				{ResourceDevices, ActionView, ScopeRegion},
				{ResourceTeams, ActionManage, ScopeRegion},
				{ResourceTelemetry, ActionView, ScopeRegion},
			},
		},
		{
			Name:   "FIELD_SUPERVISOR",
			Level:  40,
			Scopes: []ScopeKind{ScopeTeam},
			Grants: []Permission{
				{ResourceDevices, ActionManage, ScopeTeam},
				{ResourceDevices, ActionView, ScopeTeam},
				{ResourcePolicies, ActionIssue, ScopeTeam},
				{ResourceProjects, ActionManage, ScopeTeam},
				{ResourceTelemetry, ActionView, ScopeTeam},
			},
		},
		{
			Name:   "TECHNICIAN",
			Level:  20,
			Scopes: []ScopeKind{ScopeTeam, ScopeProject},
			Grants: []Permission{
				{ResourceDevices, ActionView, ScopeTeam},
				{ResourceDevices, ActionManage, ScopeProject},
				{ResourceTelemetry, ActionIngest, ScopeProject},
			},
		},
		{
			Name:   "VIEWER",
			Level:  10,
			Scopes: []ScopeKind{ScopeTeam, ScopeProject, ScopeUser},
			Grants: []Permission{
				{ResourceDevices, ActionView, ScopeTeam},
				{ResourceTelemetry, ActionView, ScopeTeam},
				{ResourceUsers, ActionView, ScopeUser},
				{ResourceUsers, ActionManage, ScopeUser},
			},
		},
		{
			Name:   "DEVICE",
			Level:  5,
			Scopes: []ScopeKind{ScopeUser},
			Grants: []Permission{
				{ResourcePolicies, ActionView, ScopeUser},
				{ResourceTelemetry, ActionIngest, ScopeUser},
			},
		},
	})
	if err != nil {
		// The built-in table is static; a failure here is a programming error.
		panic(err)
	}
	return catalog
}
