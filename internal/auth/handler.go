package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/estatedesk/estatedesk/internal/identity"
	"github.com/estatedesk/estatedesk/internal/platform/httpx"
	"github.com/estatedesk/estatedesk/internal/rbac"
	"github.com/estatedesk/estatedesk/internal/shared"
)

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	validator      *validator.Validate
	loginLimit     int
}

// NewHandler constructs a Handler instance. loginLimit caps login attempts
// per IP per minute; zero disables the limit.
func NewHandler(logger *slog.Logger, service *Service, sessions *shared.SessionManager, csrf *shared.CSRFManager, loginLimit int) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		sessionManager: sessions,
		csrfManager:    csrf,
		validator:      validator.New(),
		loginLimit:     loginLimit,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrfToken)
	r.Get("/me", h.me)
	r.Group(func(r chi.Router) {
		if h.loginLimit > 0 {
			r.Use(httprate.LimitByIP(h.loginLimit, time.Minute))
		}
		r.Post("/login", h.handleLogin)
	})
	r.Post("/logout", h.handleLogout)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type meResponse struct {
	User            *rbac.AuthenticatedUser `json:"user"`
	IsAuthenticated bool                    `json:"is_authenticated"`
	SuperAdmin      bool                    `json:"super_admin"`
	EnterpriseAdmin bool                    `json:"enterprise_admin"`
}

func newMeResponse(id *identity.Identity) meResponse {
	user := id.User()
	return meResponse{
		User:            user,
		IsAuthenticated: id.IsAuthenticated(),
		SuperAdmin:      rbac.IsSuperAdmin(user),
		EnterpriseAdmin: rbac.IsEnterpriseAdmin(user),
	}
}

func (h *Handler) csrfToken(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrfManager.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		httpx.Problem(w, http.StatusInternalServerError, "Session Unavailable", "")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if id == nil || !id.IsAuthenticated() {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	httpx.JSON(w, http.StatusOK, newMeResponse(id))
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	id := identity.FromContext(r.Context())
	if id == nil {
		h.logger.Error("identity missing during login")
		httpx.Problem(w, http.StatusInternalServerError, "Session Unavailable", "")
		return
	}

	var form loginForm
	if err := httpx.DecodeJSON(r, &form); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		fields := make(map[string]string)
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			for _, fieldErr := range validationErrs {
				fields[fieldErr.Field()] = fieldErr.Tag()
			}
		}
		httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{"errors": fields})
		return
	}

	result, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "invalid email or password")
			return
		}
		h.logger.Error("login", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}

	id.StoreCredentials(identity.Credentials{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
		Subscription: result.Subscription,
	})
	if err := id.Login(result.User); err != nil {
		if errors.Is(err, identity.ErrNotAuthorized) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "account may not use the admin console")
			return
		}
		h.logger.Error("persist identity", slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}
	h.logger.Info("login", slog.Int64("user_id", result.User.ID))
	httpx.JSON(w, http.StatusOK, newMeResponse(id))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id := identity.FromContext(r.Context()); id != nil {
		id.Logout()
	}
	h.sessionManager.Destroy(shared.SessionFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}
