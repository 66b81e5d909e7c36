package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/estatedesk/estatedesk/internal/auth"
	"github.com/estatedesk/estatedesk/internal/identity"
	"github.com/estatedesk/estatedesk/internal/observability"
	"github.com/estatedesk/estatedesk/internal/platform/apiclient"
	"github.com/estatedesk/estatedesk/internal/rbac"
	"github.com/estatedesk/estatedesk/internal/resources"
	"github.com/estatedesk/estatedesk/internal/roles"
	"github.com/estatedesk/estatedesk/internal/shared"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	SessionManager   *shared.SessionManager
	CSRFManager      *shared.CSRFManager
	API              *apiclient.Client
	RBAC             *rbac.Service
	AuthHandler      *auth.Handler
	RolesHandler     *roles.Handler
	ResourceHandlers []*resources.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with console defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		API:            params.API,
		RBAC:           params.RBAC,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.RolesHandler != nil {
		r.Route("/rbac", params.RolesHandler.MountRoutes)
	}
	for _, handler := range params.ResourceHandlers {
		r.Route(handler.Resource().Path, handler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}

// CallerClient returns api authenticated as the identity bound to ctx.
// Requests without a signed-in identity get the anonymous client.
func CallerClient(ctx context.Context, api *apiclient.Client) *apiclient.Client {
	id := identity.FromContext(ctx)
	if id == nil || !id.IsAuthenticated() {
		return api
	}
	return api.WithToken(id.AccessToken())
}

// RoleServices scopes the role gateway to the caller of each request.
func RoleServices(api *apiclient.Client, service *rbac.Service) roles.ServiceResolver {
	return func(ctx context.Context) roles.RoleService {
		client := CallerClient(ctx, api)
		return service.Scoped(client, client.Token())
	}
}

// ResourceTransports authenticates resource calls as the request's caller.
func ResourceTransports(api *apiclient.Client) resources.TransportResolver {
	return func(ctx context.Context) resources.Transport {
		return CallerClient(ctx, api)
	}
}
