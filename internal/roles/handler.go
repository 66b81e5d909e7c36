package roles

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/estatedesk/estatedesk/internal/platform/httpx"
	"github.com/estatedesk/estatedesk/internal/rbac"
)

// RoleService is the role backend gateway used by the handler.
type RoleService interface {
	ListRoles(ctx context.Context) ([]rbac.Role, error)
	GetRole(ctx context.Context, id int64) (rbac.Role, error)
	CreateRole(ctx context.Context, in rbac.CreateRoleInput) (rbac.Role, error)
	UpdateRolePermissions(ctx context.Context, id int64, in rbac.UpdatePermissionsInput) (rbac.Role, error)
	DeleteRole(ctx context.Context, id int64) error
	MyPermissions(ctx context.Context) (rbac.MyPermissions, error)
}

// ServiceResolver returns the gateway acting on behalf of the caller bound
// to ctx.
type ServiceResolver func(ctx context.Context) RoleService

// Handler manages role management endpoints.
type Handler struct {
	logger   *slog.Logger
	services ServiceResolver
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, services ServiceResolver, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, services: services, rbac: rbac}
}

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	module := string(rbac.ModuleUserManagement)
	r.Get("/my-permissions", h.myPermissions)
	r.Get("/capabilities", h.capabilities)
	r.Route("/roles", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(module, rbac.ActionView))
			r.Get("/", h.listRoles)
			r.Get("/{id}", h.getRole)
			r.Get("/{id}/matrix", h.getMatrix)
		})
		r.With(h.rbac.RequireAll(module, rbac.ActionAdd)).Post("/", h.createRole)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireAll(module, rbac.ActionEdit))
			r.Patch("/{id}", h.updatePermissions)
			r.Put("/{id}/matrix", h.putMatrix)
		})
		r.With(h.rbac.RequireAll(module, rbac.ActionDelete)).Delete("/{id}", h.deleteRole)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.services(r.Context()).ListRoles(r.Context())
	if err != nil {
		h.fail(w, "list roles", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": roles})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	role, err := h.services(r.Context()).GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": role})
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var in rbac.CreateRoleInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	role, err := h.services(r.Context()).CreateRole(r.Context(), in)
	if err != nil {
		h.fail(w, "create role", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": role})
}

func (h *Handler) updatePermissions(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	var in rbac.UpdatePermissionsInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	role, err := h.services(r.Context()).UpdateRolePermissions(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update role permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": role})
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	if err := h.services(r.Context()).DeleteRole(r.Context(), id); err != nil {
		h.fail(w, "delete role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getMatrix(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	role, err := h.services(r.Context()).GetRole(r.Context(), id)
	if err != nil {
		h.fail(w, "get role matrix", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rbac.MatrixFromPermissionsMap(role.PermissionsMap())})
}

func (h *Handler) putMatrix(w http.ResponseWriter, r *http.Request) {
	id, ok := roleID(w, r)
	if !ok {
		return
	}
	var matrix rbac.PermissionsMatrix
	if err := httpx.DecodeJSON(r, &matrix); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	in := rbac.UpdatePermissionsInput{Permissions: rbac.MapMatrixToPermissionsMap(matrix)}
	role, err := h.services(r.Context()).UpdateRolePermissions(r.Context(), id, in)
	if err != nil {
		h.fail(w, "update role matrix", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rbac.MatrixFromPermissionsMap(role.PermissionsMap())})
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	if rbac.PrincipalFromContext(r.Context()) == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	mine, err := h.services(r.Context()).MyPermissions(r.Context())
	if err != nil {
		h.fail(w, "my permissions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": mine})
}

type moduleCapabilities struct {
	Ready   bool                     `json:"ready"`
	Actions map[rbac.ActionKey]bool `json:"actions"`
}

type capabilitiesResponse struct {
	SuperAdmin      bool                                  `json:"super_admin"`
	EnterpriseAdmin bool                                  `json:"enterprise_admin"`
	Modules         map[rbac.ModuleKey]moduleCapabilities `json:"modules"`
}

// capabilities resolves one gate per module. The gates share a single
// permissions fetch through the deduplicator.
func (h *Handler) capabilities(w http.ResponseWriter, r *http.Request) {
	principal := rbac.PrincipalFromContext(r.Context())
	if principal == nil || principal.User == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	gates := make(map[rbac.ModuleKey]*rbac.Gate, len(rbac.Modules()))
	for _, module := range rbac.Modules() {
		gate := rbac.NewGate(principal.User, string(module), principal.Fetcher, h.logger)
		gate.Start(r.Context())
		gates[module] = gate
	}
	resp := capabilitiesResponse{
		SuperAdmin:      rbac.IsSuperAdmin(principal.User),
		EnterpriseAdmin: rbac.IsEnterpriseAdmin(principal.User),
		Modules:         make(map[rbac.ModuleKey]moduleCapabilities, len(gates)),
	}
	for module, gate := range gates {
		if err := gate.Resolve(r.Context()); err != nil {
			h.logger.Warn("resolve capabilities", slog.String("module", string(module)), slog.Any("error", err))
		}
		resp.Modules[module] = moduleCapabilities{Ready: gate.PermissionReady(), Actions: gate.Capabilities()}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, rbac.ErrInvalidInput) {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return
	}
	h.logger.Error(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}

func roleID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid role id")
		return 0, false
	}
	return id, true
}
