package authz

import (
	"log/slog"
	"net/http"
	"strings"
)

// PrincipalHeader names the authenticated principal forwarded by the API
// gateway in front of this service.
const PrincipalHeader = "X-Armada-Principal"

// Middleware guards administrative endpoints with effective-permission
// checks.
type Middleware struct {
	Store    AssignmentStore
	Resolver *Resolver
	Logger   *slog.Logger
}

// Require ensures the current principal holds the (resource, action) grant
// at any scope. Boundary evaluation is the caller's business; this guard
// only keeps principals without the raw permission out.
func (m Middleware) Require(resource Resource, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principalID := strings.TrimSpace(r.Header.Get(PrincipalHeader))
			if principalID == "" {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			assignments, err := m.Store.ListAssignments(r.Context(), principalID)
			if err != nil {
				m.logError("authz middleware: list assignments", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			version, err := m.Store.AssignmentVersion(r.Context(), principalID)
			if err != nil {
				m.logError("authz middleware: assignment version", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			set, err := m.Resolver.Resolve(r.Context(), Principal{ID: principalID, Assignments: assignments, Version: version})
			if err != nil {
				m.logError("authz middleware: resolve", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			if _, ok := set.Scope(resource, action); !ok {
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) logError(msg string, err error) {
	if m.Logger != nil {
		m.Logger.Error(msg, slog.Any("error", err))
	}
}
