package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/armada-fleet/armada/internal/authz"
	"github.com/armada-fleet/armada/internal/credential"
	"github.com/armada-fleet/armada/internal/observability"
	"github.com/armada-fleet/armada/internal/policy"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AuthzHandler      *authz.Handler
	AuthzMiddleware   authz.Middleware
	PolicyHandler     *policy.Handler
	CredentialHandler *credential.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with armada defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if params.AuthzHandler != nil {
		params.AuthzHandler.MountRoutes(r)
	}
	if params.PolicyHandler != nil {
		keyGuard := params.AuthzMiddleware.Require(authz.ResourceKeys, authz.ActionManage)
		params.PolicyHandler.MountRoutes(r, keyGuard)
	}
	if params.CredentialHandler != nil {
		params.CredentialHandler.MountRoutes(r)
	}

	return r
}
