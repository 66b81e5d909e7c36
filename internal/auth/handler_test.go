package auth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/estatedesk/estatedesk/internal/app"
	"github.com/estatedesk/estatedesk/internal/auth"
	"github.com/estatedesk/estatedesk/internal/platform/apiclient"
	"github.com/estatedesk/estatedesk/internal/rbac"
	"github.com/estatedesk/estatedesk/internal/shared"
)

const enterpriseLogin = `{
	"data": {
		"access_token": "tok-enterprise",
		"refresh_token": "ref-enterprise",
		"user": {"id": 7, "email": "ea@example.com", "roles": [{"role": "enterprise_role"}]},
		"subscription": {"plan": "gold"}
	}
}`

const agentLogin = `{
	"accessToken": "tok-agent",
	"user": {"id": 9, "email": "agent@example.com", "roles": ["agent"]}
}`

func newPlatform(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		switch {
		case body.Password != "secret":
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"invalid"}`))
		case body.Email == "agent@example.com":
			_, _ = w.Write([]byte(agentLogin))
		default:
			_, _ = w.Write([]byte(enterpriseLogin))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	router  http.Handler
	redis   *miniredis.Miniredis
	cookies []*http.Cookie
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)
	csrf := shared.NewCSRFManager("secret")
	api := apiclient.NewWithHTTPClient(newPlatform(t).URL, nil)
	rbacService := rbac.NewService(api, rbac.NewDeduper())

	handler := auth.NewHandler(logger, auth.NewService(api), sessions, csrf, 0)
	r := chi.NewRouter()
	r.Use(app.SessionMiddleware(logger, sessions))
	r.Use(app.IdentityMiddleware(logger, api, rbacService))
	r.Route("/auth", handler.MountRoutes)
	return &harness{router: r, redis: mr}
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range h.cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	if cookies := rr.Result().Cookies(); len(cookies) > 0 {
		h.cookies = cookies
	}
	return rr
}

func TestLoginPersistsIdentity(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "ea@example.com", "password": "secret"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var me struct {
		User            rbac.AuthenticatedUser `json:"user"`
		IsAuthenticated bool                   `json:"is_authenticated"`
		EnterpriseAdmin bool                   `json:"enterprise_admin"`
		SuperAdmin      bool                   `json:"super_admin"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	require.True(t, me.IsAuthenticated)
	require.True(t, me.EnterpriseAdmin)
	require.False(t, me.SuperAdmin)
	require.Equal(t, int64(7), me.User.ID)
	require.NotEmpty(t, h.cookies)

	rr = h.do(t, http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "ea@example.com")
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "ea@example.com", "password": "wrong"})
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = h.do(t, http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLoginValidatesInput(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "not-an-email"})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "Email")
	require.Contains(t, rr.Body.String(), "Password")
}

func TestLoginRejectsUserOutsideConsolePolicy(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "agent@example.com", "password": "secret"})
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = h.do(t, http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogoutWipesSession(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "ea@example.com", "password": "secret"})
	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, h.redis.Keys(), 1)
	stale := h.cookies

	rr = h.do(t, http.MethodPost, "/auth/logout", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Empty(t, h.redis.Keys())

	h.cookies = stale
	rr = h.do(t, http.MethodGet, "/auth/me", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCSRFTokenIsStable(t *testing.T) {
	h := newHarness(t)

	rr := h.do(t, http.MethodGet, "/auth/csrf", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var first map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &first))
	require.NotEmpty(t, first["csrf_token"])

	rr = h.do(t, http.MethodGet, "/auth/csrf", nil)
	var second map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &second))
	require.Equal(t, first["csrf_token"], second["csrf_token"])
}
