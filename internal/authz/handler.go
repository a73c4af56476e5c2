package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/armada-fleet/armada/internal/observability"
	"github.com/armada-fleet/armada/internal/platform/httpx"
)

// Handler exposes the authorization check API consumed by the rest of the
// platform. It returns structured decisions, never transport-level verdicts
// of its own.
type Handler struct {
	logger    *slog.Logger
	store     AssignmentStore
	evaluator *Evaluator
	resolver  *Resolver
	metrics   *observability.Metrics
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, store AssignmentStore, resolver *Resolver, evaluator *Evaluator, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, store: store, resolver: resolver, evaluator: evaluator, metrics: metrics}
}

// MountRoutes registers the authorization endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/authz/check", h.handleCheck)
	r.Get("/authz/permissions/{principalID}", h.handlePermissions)
}

type checkRequest struct {
	PrincipalID string `json:"principal_id"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Context     struct {
		Scope        string   `json:"scope"`
		ScopeID      string   `json:"scope_id"`
		OrgID        string   `json:"org_id"`
		DirectMember bool     `json:"direct_member"`
		OrgIDs       []string `json:"org_ids"`
		TeamIDs      []string `json:"team_ids"`
		RegionIDs    []string `json:"region_ids"`
	} `json:"context"`
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if req.PrincipalID == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "principal_id required")
		return
	}

	resource, err := ParseResource(req.Resource)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	action, err := ParseAction(req.Action)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	scope, err := ParseScopeKind(req.Context.Scope)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	principal, err := h.loadPrincipal(r, req.PrincipalID)
	if err != nil {
		h.logger.Error("authz: load principal", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	decision, err := h.evaluator.Authorize(r.Context(), principal, resource, action, BoundaryContext{
		Scope:        scope,
		ScopeID:      req.Context.ScopeID,
		OrgID:        req.Context.OrgID,
		DirectMember: req.Context.DirectMember,
		OrgIDs:       req.Context.OrgIDs,
		TeamIDs:      req.Context.TeamIDs,
		RegionIDs:    req.Context.RegionIDs,
	})
	if err != nil {
		h.logger.Error("authz: authorize", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	h.metrics.ObserveDecision(decision.Allow, decision.Reason)
	httpx.JSON(w, http.StatusOK, decision)
}

func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	principalID := chi.URLParam(r, "principalID")
	principal, err := h.loadPrincipal(r, principalID)
	if err != nil {
		h.logger.Error("authz: load principal", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	set, err := h.resolver.Resolve(r.Context(), principal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, set)
}

func (h *Handler) loadPrincipal(r *http.Request, principalID string) (Principal, error) {
	assignments, err := h.store.ListAssignments(r.Context(), principalID)
	if err != nil {
		return Principal{}, err
	}
	version, err := h.store.AssignmentVersion(r.Context(), principalID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{ID: principalID, Assignments: assignments, Version: version}, nil
}
