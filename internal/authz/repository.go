package authz

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AssignmentStore is the external role-assignment source. The resolver
// never fetches assignments itself; callers load them and pass a Principal.
type AssignmentStore interface {
	ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error)
	AssignmentVersion(ctx context.Context, principalID string) (uint64, error)
}

// Repository provides PostgreSQL backed assignment listing.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListAssignments returns the principal's current role assignments.
// Expired rows are filtered in SQL so downstream code never sees them
// as live; the resolver re-checks expiry against its own clock anyway.
func (r *Repository) ListAssignments(ctx context.Context, principalID string) ([]RoleAssignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT role_name, role_level, scope_kind, scope_id, expires_at
		FROM role_assignments
		WHERE principal_id = $1
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY role_level DESC, role_name`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []RoleAssignment
	for rows.Next() {
		var (
			a         RoleAssignment
			scopeName string
			expiresAt *time.Time
		)
		if err := rows.Scan(&a.Role, &a.Level, &scopeName, &a.ScopeID, &expiresAt); err != nil {
			return nil, err
		}
		kind, err := ParseScopeKind(scopeName)
		if err != nil {
			return nil, err
		}
		a.Scope = kind
		a.ExpiresAt = expiresAt
		assignments = append(assignments, a)
	}
	return assignments, rows.Err()
}

// AssignmentVersion returns the change counter bumped by every
// administrative assignment mutation. It keys the resolver cache.
func (r *Repository) AssignmentVersion(ctx context.Context, principalID string) (uint64, error) {
	var version uint64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(version), 0)
		FROM role_assignment_versions
		WHERE principal_id = $1`, principalID).Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// Principal loads assignments and version together.
func (r *Repository) Principal(ctx context.Context, principalID string) (Principal, error) {
	assignments, err := r.ListAssignments(ctx, principalID)
	if err != nil {
		return Principal{}, err
	}
	version, err := r.AssignmentVersion(ctx, principalID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ID: principalID, Assignments: assignments, Version: version}, nil
}
