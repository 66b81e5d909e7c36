package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatedRouter(mw func(http.Handler) http.Handler, module ModuleKey) http.Handler {
	r := chi.NewRouter()
	r.With(mw).Get("/", func(w http.ResponseWriter, r *http.Request) {
		if GateFromContext(r.Context(), module) == nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return r
}

func serveAs(h http.Handler, principal *Principal) int {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if principal != nil {
		req = req.WithContext(ContextWithPrincipal(req.Context(), principal))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestMiddlewareRequireAll(t *testing.T) {
	m := Middleware{}
	h := gatedRouter(m.RequireAll("users", ActionView, ActionEdit), ModuleUserManagement)

	allowed := &Principal{User: enterpriseUser(), Fetcher: &stubFetcher{perms: PermissionsMap{
		ModuleUserManagement: {View: true, Edit: true},
	}}}
	assert.Equal(t, http.StatusOK, serveAs(h, allowed))

	noView := &Principal{User: enterpriseUser(), Fetcher: &stubFetcher{perms: PermissionsMap{
		ModuleUserManagement: {Edit: true},
	}}}
	assert.Equal(t, http.StatusForbidden, serveAs(h, noView))
}

func TestMiddlewareRequireAny(t *testing.T) {
	m := Middleware{}
	h := gatedRouter(m.RequireAny("campaign", ActionAdd, ActionEdit), ModuleCampaign)

	principal := &Principal{User: enterpriseUser(), Fetcher: &stubFetcher{perms: PermissionsMap{
		ModuleCampaign: {View: true, Edit: true},
	}}}
	assert.Equal(t, http.StatusOK, serveAs(h, principal))

	viewOnly := &Principal{User: enterpriseUser(), Fetcher: &stubFetcher{perms: PermissionsMap{
		ModuleCampaign: {View: true},
	}}}
	assert.Equal(t, http.StatusForbidden, serveAs(h, viewOnly))
}

func TestMiddlewareRequiresPrincipal(t *testing.T) {
	h := gatedRouter(Middleware{}.RequireAll("campaign", ActionView), ModuleCampaign)
	assert.Equal(t, http.StatusUnauthorized, serveAs(h, nil))
	assert.Equal(t, http.StatusUnauthorized, serveAs(h, &Principal{}))
}

func TestMiddlewareSuperAdminSkipsFetch(t *testing.T) {
	fetcher := &stubFetcher{err: errors.New("must not be called")}
	h := gatedRouter(Middleware{}.RequireAll("properties", ActionDelete), ModuleProperties)

	code := serveAs(h, &Principal{User: userWithRoles(NamedRole("Super Admin")), Fetcher: fetcher})
	assert.Equal(t, http.StatusOK, code)
	assert.Zero(t, fetcher.calls.Load())
}

func TestMiddlewareFetchFailureDenies(t *testing.T) {
	h := gatedRouter(Middleware{}.RequireAll("campaign", ActionView), ModuleCampaign)
	principal := &Principal{User: enterpriseUser(), Fetcher: &stubFetcher{err: errors.New("down")}}
	assert.Equal(t, http.StatusForbidden, serveAs(h, principal))
}

func TestMiddlewareCancelledRequest(t *testing.T) {
	fetcher := &stubFetcher{release: make(chan struct{}), perms: PermissionsMap{}}
	defer close(fetcher.release)
	h := gatedRouter(Middleware{}.RequireAll("campaign", ActionView), ModuleCampaign)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
	req = req.WithContext(ContextWithPrincipal(req.Context(), &Principal{User: enterpriseUser(), Fetcher: fetcher}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

type decisionLog []string

func (d *decisionLog) RecordDecision(module, outcome string) {
	*d = append(*d, module+":"+outcome)
}

func TestMiddlewareReportsDecisions(t *testing.T) {
	var log decisionLog
	m := Middleware{Decisions: &log}
	h := gatedRouter(m.RequireAll("users", ActionView), ModuleUserManagement)

	serveAs(h, nil)
	serveAs(h, &Principal{User: enterpriseUser(), Fetcher: &stubFetcher{perms: PermissionsMap{}}})
	serveAs(h, &Principal{User: enterpriseUser(), Fetcher: &stubFetcher{perms: PermissionsMap{
		ModuleUserManagement: {View: true},
	}}})

	assert.Equal(t, decisionLog{
		"user_management:anonymous",
		"user_management:denied",
		"user_management:allowed",
	}, log)
}

func TestMiddlewareLabelsUnknownModuleAsGiven(t *testing.T) {
	var log decisionLog
	m := Middleware{Decisions: &log}
	h := gatedRouter(m.RequireAll("reports", ActionView), ModuleUserManagement)

	assert.Equal(t, http.StatusUnauthorized, serveAs(h, nil))
	assert.Equal(t, http.StatusForbidden, serveAs(h, &Principal{User: enterpriseUser(), Fetcher: &stubFetcher{perms: PermissionsMap{
		ModuleUserManagement: {View: true},
	}}}))
	assert.Equal(t, decisionLog{"reports:anonymous", "reports:denied"}, log)
}
