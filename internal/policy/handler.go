package policy

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/armada-fleet/armada/internal/clock"
	"github.com/armada-fleet/armada/internal/observability"
	"github.com/armada-fleet/armada/internal/platform/httpx"
)

// Handler exposes policy issuance, verification and key administration.
type Handler struct {
	logger   *slog.Logger
	builder  *Builder
	signer   *Signer
	verifier *Verifier
	keyring  *KeyRing
	clock    clock.Clock
	ttl      time.Duration
	metrics  *observability.Metrics
}

// HandlerConfig collects the Handler dependencies.
type HandlerConfig struct {
	Logger   *slog.Logger
	Builder  *Builder
	Signer   *Signer
	Verifier *Verifier
	KeyRing  *KeyRing
	Clock    clock.Clock
	TTL      time.Duration
	Metrics  *observability.Metrics
}

// NewHandler builds a Handler instance.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		logger:   cfg.Logger,
		builder:  cfg.Builder,
		signer:   cfg.Signer,
		verifier: cfg.Verifier,
		keyring:  cfg.KeyRing,
		clock:    cfg.Clock,
		ttl:      cfg.TTL,
		metrics:  cfg.Metrics,
	}
}

// MountRoutes registers policy endpoints. guard protects the key
// administration surface.
func (h *Handler) MountRoutes(r chi.Router, guard func(http.Handler) http.Handler) {
	r.Post("/policies/issue", h.handleIssue)
	r.Post("/policies/verify", h.handleVerify)
	r.Group(func(gr chi.Router) {
		if guard != nil {
			gr.Use(guard)
		}
		gr.Get("/policies/keys", h.handleListKeys)
		gr.Post("/policies/keys/rotate", h.handleRotate)
		gr.Post("/policies/keys/{keyID}/revoke", h.handleRevoke)
	})
}

type issueRequest struct {
	DeviceID         string        `json:"device_id"`
	TeamID           string        `json:"team_id"`
	OrgID            string        `json:"org_id"`
	ProtocolVersion  int           `json:"protocol_version"`
	SessionWindow    SessionWindow `json:"session_window"`
	PINPolicy        PINPolicy     `json:"pin_policy"`
	TelemetrySeconds int           `json:"telemetry_seconds"`
	TTLSeconds       int64         `json:"ttl_seconds,omitempty"`
}

type issueResponse struct {
	Envelope string   `json:"envelope"`
	Document Document `json:"document"`
}

func (h *Handler) handleIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid request body")
		return
	}
	ttl := h.ttl
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	doc, err := h.builder.Build(BuildInput{
		DeviceID:         req.DeviceID,
		TeamID:           req.TeamID,
		OrgID:            req.OrgID,
		ProtocolVersion:  req.ProtocolVersion,
		SessionWindow:    req.SessionWindow,
		PINPolicy:        req.PINPolicy,
		TelemetrySeconds: req.TelemetrySeconds,
		TTL:              ttl,
	}, h.clock.Now())
	if err != nil {
		if errors.Is(err, ErrIncompleteInput) {
			httpx.Problem(w, http.StatusBadRequest, "Incomplete Input", err.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}

	envelope, err := h.signer.Sign(doc)
	if err != nil {
		h.logger.Error("policy: sign", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, issueResponse{Envelope: envelope, Document: doc})
}

type verifyRequest struct {
	Envelope string `json:"envelope"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil || req.Envelope == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "envelope required")
		return
	}
	result := h.verifier.Verify(req.Envelope)
	if result.Valid {
		h.metrics.ObserveVerification("valid")
	} else {
		h.metrics.ObserveVerification(result.Kind)
	}
	httpx.JSON(w, http.StatusOK, result)
}

type keyView struct {
	ID        string    `json:"id"`
	Status    KeyStatus `json:"status"`
	AddedAt   time.Time `json:"added_at"`
	RotatedAt time.Time `json:"rotated_at,omitempty"`
}

func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	records := h.keyring.Records()
	views := make([]keyView, len(records))
	for i, rec := range records {
		views[i] = keyView{ID: rec.ID, Status: rec.Status, AddedAt: rec.AddedAt, RotatedAt: rec.RotatedAt}
	}
	httpx.JSON(w, http.StatusOK, views)
}

func (h *Handler) handleRotate(w http.ResponseWriter, r *http.Request) {
	record, err := h.keyring.Generate(r.Context())
	if err != nil {
		h.logger.Error("policy: rotate", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("policy: signing key rotated", slog.String("key_id", record.ID))
	httpx.JSON(w, http.StatusCreated, keyView{ID: record.ID, Status: record.Status, AddedAt: record.AddedAt})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	if err := h.keyring.Revoke(r.Context(), keyID); err != nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
		return
	}
	h.logger.Info("policy: key revoked", slog.String("key_id", keyID))
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
