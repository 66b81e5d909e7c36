// Package resources exposes the permission-gated console screens that
// proxy the platform's campaign, property and user endpoints.
package resources

import (
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/estatedesk/estatedesk/internal/platform/apiclient"
	"github.com/estatedesk/estatedesk/internal/platform/httpx"
	"github.com/estatedesk/estatedesk/internal/rbac"
)

const maxUploadMemory = 32 << 20

// Transport is the platform client surface used by resource screens.
type Transport interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Post(ctx context.Context, path string, body any) (json.RawMessage, error)
	Put(ctx context.Context, path string, body any) (json.RawMessage, error)
	Delete(ctx context.Context, path string) (json.RawMessage, error)
	PostMultipart(ctx context.Context, path string, fields map[string]string, files []apiclient.File) (json.RawMessage, error)
}

// TransportResolver returns the client acting for the caller bound to ctx.
type TransportResolver func(ctx context.Context) Transport

// Resource describes one proxied collection.
type Resource struct {
	Module rbac.ModuleKey
	// Path is the upstream collection path, e.g. "/campaigns".
	Path string
	// Images enables POST /{id}/images.
	Images bool
}

// Campaigns, Properties and Users are the console's resource screens.
var (
	Campaigns  = Resource{Module: rbac.ModuleCampaign, Path: "/campaigns"}
	Properties = Resource{Module: rbac.ModuleProperties, Path: "/properties", Images: true}
	Users      = Resource{Module: rbac.ModuleUserManagement, Path: "/users"}
)

// Handler serves one resource collection.
type Handler struct {
	logger    *slog.Logger
	resource  Resource
	transport TransportResolver
	rbac      rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, resource Resource, transport TransportResolver, rbac rbac.Middleware) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, resource: resource, transport: transport, rbac: rbac}
}

// Resource returns the collection served by h.
func (h *Handler) Resource() Resource {
	return h.resource
}

// MountRoutes registers the collection routes.
func (h *Handler) MountRoutes(r chi.Router) {
	module := string(h.resource.Module)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(module, rbac.ActionView))
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(module, rbac.ActionAdd))
		r.Post("/", h.create)
		if h.resource.Images {
			r.Post("/{id}/images", h.uploadImages)
		}
	})
	r.With(h.rbac.RequireAll(module, rbac.ActionEdit)).Put("/{id}", h.update)
	r.With(h.rbac.RequireAll(module, rbac.ActionDelete)).Delete("/{id}", h.remove)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	path := h.resource.Path
	if query := r.URL.RawQuery; query != "" {
		path += "?" + query
	}
	raw, err := h.transport(r.Context()).Get(r.Context(), path)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	httpx.RawJSON(w, http.StatusOK, raw)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	path, ok := h.itemPath(w, r)
	if !ok {
		return
	}
	raw, err := h.transport(r.Context()).Get(r.Context(), path)
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	httpx.RawJSON(w, http.StatusOK, raw)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	raw, err := h.transport(r.Context()).Post(r.Context(), h.resource.Path, body)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	httpx.RawJSON(w, http.StatusCreated, raw)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	path, ok := h.itemPath(w, r)
	if !ok {
		return
	}
	var body json.RawMessage
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	raw, err := h.transport(r.Context()).Put(r.Context(), path, body)
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	httpx.RawJSON(w, http.StatusOK, raw)
}

func (h *Handler) remove(w http.ResponseWriter, r *http.Request) {
	path, ok := h.itemPath(w, r)
	if !ok {
		return
	}
	if _, err := h.transport(r.Context()).Delete(r.Context(), path); err != nil {
		h.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) uploadImages(w http.ResponseWriter, r *http.Request) {
	path, ok := h.itemPath(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid multipart body")
		return
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	fields := make(map[string]string, len(r.MultipartForm.Value))
	for name, values := range r.MultipartForm.Value {
		if len(values) > 0 {
			fields[name] = values[0]
		}
	}
	var files []apiclient.File
	var opened []multipart.File
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for field, headers := range r.MultipartForm.File {
		for _, header := range headers {
			f, err := header.Open()
			if err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unreadable upload")
				return
			}
			opened = append(opened, f)
			files = append(files, apiclient.File{Field: field, Name: header.Filename, Content: f})
		}
	}
	if len(files) == 0 {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", "at least one image is required")
		return
	}
	raw, err := h.transport(r.Context()).PostMultipart(r.Context(), path+"/images", fields, files)
	if err != nil {
		h.fail(w, "upload images", err)
		return
	}
	httpx.RawJSON(w, http.StatusCreated, raw)
}

func (h *Handler) itemPath(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return "", false
	}
	return h.resource.Path + "/" + strconv.FormatInt(id, 10), true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Error("resource "+op,
		slog.String("module", string(h.resource.Module)),
		slog.Any("error", err))
	httpx.RespondError(w, err)
}
