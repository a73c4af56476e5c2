package credential

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/armada-fleet/armada/internal/abuse"
	"github.com/armada-fleet/armada/internal/observability"
	"github.com/armada-fleet/armada/internal/platform/httpx"
)

// Handler exposes the internal credential-verification endpoint consumed by
// the platform's login and PIN flows. The stored hash travels with the
// request because the identity store lives outside this service.
type Handler struct {
	logger  *slog.Logger
	gate    *Gate
	metrics *observability.Metrics
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, gate *Gate, metrics *observability.Metrics) *Handler {
	return &Handler{logger: logger, gate: gate, metrics: metrics}
}

// MountRoutes registers the verification endpoint.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/credentials/verify", h.handleVerify)
}

type verifyRequest struct {
	Purpose      string `json:"purpose"`
	IdentityKind string `json:"identity_kind"`
	Identity     string `json:"identity"`
	Secret       string `json:"secret"`
	Hash         string `json:"hash"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	if req.Identity == "" || req.Purpose == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "purpose and identity required")
		return
	}

	origin, err := httprate.KeyByIP(r)
	if err != nil {
		origin = r.RemoteAddr
	}

	kind := abuse.IdentityKind(req.IdentityKind)
	if kind == "" {
		kind = abuse.IdentityUser
	}

	outcome, err := h.gate.Attempt(r.Context(), AttemptInput{
		Purpose:      abuse.Purpose(req.Purpose),
		IdentityKind: kind,
		Identity:     req.Identity,
		Origin:       origin,
		Secret:       req.Secret,
		Hash:         req.Hash,
	})
	if err != nil {
		h.logger.Error("credential: attempt", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	switch outcome.Reason {
	case abuse.ReasonRateLimited, abuse.ReasonLockedOut, abuse.ReasonStoreUnavailable:
		h.metrics.ObserveAbuseDenial(outcome.Reason)
	}
	httpx.JSON(w, http.StatusOK, outcome)
}
