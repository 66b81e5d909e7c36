package rbac_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estatedesk/estatedesk/internal/platform/apiclient"
	"github.com/estatedesk/estatedesk/internal/rbac"
)

// backend is an in-memory role API that answers in a different envelope
// on every endpoint, as the real one does.
type backend struct {
	mu     sync.Mutex
	nextID int64
	roles  map[int64]json.RawMessage
	names  map[int64]string
	hits   map[string]int
	tokens []string
	mine   string
}

func newBackend(t *testing.T) (*backend, *httptest.Server) {
	t.Helper()
	b := &backend{
		nextID: 10,
		roles:  map[int64]json.RawMessage{},
		names:  map[int64]string{},
		hits:   map[string]int{},
		mine:   `{"data": {"role": "enterprise_role", "permissions": [{"id": 1, "permissions": {"campaign": {"view": true}}}]}}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(srv.Close)
	return b, srv
}

func (b *backend) hitCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.hits[key]
}

func (b *backend) serve(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hits[r.Method+" "+r.URL.Path]++
	b.tokens = append(b.tokens, r.Header.Get("Authorization"))
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.URL.Path == "/rbac/my-permissions":
		_, _ = w.Write([]byte(b.mine))
	case r.URL.Path == "/rbac/roles" && r.Method == http.MethodGet:
		items := make([]string, 0, len(b.roles))
		for id := range b.roles {
			items = append(items, fmt.Sprintf(`{"Id": %d, "Name": %q, "permissions": %s}`, id, b.names[id], b.roles[id]))
		}
		fmt.Fprintf(w, `{"data": [%s]}`, strings.Join(items, ","))
	case r.URL.Path == "/rbac/roles" && r.Method == http.MethodPost:
		var body struct {
			Role       string          `json:"role"`
			Permission json.RawMessage `json:"permission"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b.nextID++
		b.roles[b.nextID] = body.Permission
		b.names[b.nextID] = body.Role
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"data": {"id": %d, "role": %q, "permissions": %s, "users": []}}`, b.nextID, body.Role, body.Permission)
	case strings.HasPrefix(r.URL.Path, "/rbac/roles/"):
		var id int64
		if _, err := fmt.Sscanf(strings.TrimPrefix(r.URL.Path, "/rbac/roles/"), "%d", &id); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		perms, ok := b.roles[id]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		switch r.Method {
		case http.MethodGet:
			// Legacy shape: wrapped entries, capitalised keys, no envelope.
			fmt.Fprintf(w, `{"Id": %d, "Name": %q, "permissions": [{"id": 99, "permissions": %s}]}`, id, b.names[id], firstElement(perms))
		case http.MethodPatch:
			var body struct {
				Permission json.RawMessage `json:"permission"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			b.roles[id] = body.Permission
			fmt.Fprintf(w, `{"data": {"id": %d, "role": %q, "permissions": %s}}`, id, b.names[id], body.Permission)
		case http.MethodDelete:
			delete(b.roles, id)
			w.WriteHeader(http.StatusNoContent)
		}
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func firstElement(list json.RawMessage) json.RawMessage {
	var items []json.RawMessage
	if err := json.Unmarshal(list, &items); err != nil || len(items) == 0 {
		return json.RawMessage(`{}`)
	}
	return items[0]
}

func newService(srv *httptest.Server) *rbac.Service {
	return rbac.NewService(apiclient.NewWithHTTPClient(srv.URL, srv.Client()), rbac.NewDeduper())
}

func TestCreateThenGetNormalizeIdentically(t *testing.T) {
	_, srv := newBackend(t)
	svc := newService(srv)
	ctx := context.Background()

	created, err := svc.CreateRole(ctx, rbac.CreateRoleInput{
		Role: "agent_role",
		Permission: []rbac.PermissionsMap{{
			rbac.ModuleProperties: {View: true, Add: true, Edit: false, Delete: false},
			rbac.ModuleCampaign:   {},
		}},
	})
	require.NoError(t, err)

	fetched, err := svc.GetRole(ctx, created.ID)
	require.NoError(t, err)

	want := rbac.PermissionsMap{
		rbac.ModuleProperties: {View: true, Add: true},
		rbac.ModuleCampaign:   {},
	}
	require.Len(t, created.Permissions, 1)
	require.Len(t, fetched.Permissions, 1)
	assert.Equal(t, want, created.Permissions[0].Permissions)
	assert.Equal(t, created.Permissions[0].Permissions, fetched.Permissions[0].Permissions)
	assert.Equal(t, created.ID, fetched.ID)
	assert.Equal(t, "agent_role", fetched.Role)
}

func TestCreateRoleValidatesBeforeIO(t *testing.T) {
	b, srv := newBackend(t)
	svc := newService(srv)

	_, err := svc.CreateRole(context.Background(), rbac.CreateRoleInput{Role: "   "})
	require.ErrorIs(t, err, rbac.ErrInvalidInput)

	bad := int64(-1)
	_, err = svc.CreateRole(context.Background(), rbac.CreateRoleInput{Role: "x", OrganizationID: &bad})
	require.ErrorIs(t, err, rbac.ErrInvalidInput)
	assert.Zero(t, b.hitCount("POST /rbac/roles"))
}

func TestListRolesDedupesAndRefreshesAfterWrite(t *testing.T) {
	b, srv := newBackend(t)
	svc := newService(srv)
	ctx := context.Background()

	_, err := svc.CreateRole(ctx, rbac.CreateRoleInput{Role: "first"})
	require.NoError(t, err)

	roles, err := svc.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	_, err = svc.ListRoles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, b.hitCount("GET /rbac/roles"))

	second, err := svc.CreateRole(ctx, rbac.CreateRoleInput{Role: "second"})
	require.NoError(t, err)
	roles, err = svc.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 2)
	assert.Equal(t, 2, b.hitCount("GET /rbac/roles"))

	require.NoError(t, svc.DeleteRole(ctx, second.ID))
	roles, err = svc.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, roles, 1)
}

func TestUpdateRolePermissionsSendsEffectiveMap(t *testing.T) {
	_, srv := newBackend(t)
	svc := newService(srv)
	ctx := context.Background()

	role, err := svc.CreateRole(ctx, rbac.CreateRoleInput{Role: "editor"})
	require.NoError(t, err)
	_, err = svc.GetRole(ctx, role.ID)
	require.NoError(t, err)

	updated, err := svc.UpdateRolePermissions(ctx, role.ID, rbac.UpdatePermissionsInput{
		Permissions: rbac.PermissionsMap{rbac.ModuleCampaign: {View: true, Edit: true}},
		Permission:  []rbac.PermissionsMap{{rbac.ModuleCampaign: {Delete: true}}},
	})
	require.NoError(t, err)
	assert.Equal(t, rbac.ModulePermissions{View: true, Edit: true}, updated.PermissionsMap()[rbac.ModuleCampaign])

	fetched, err := svc.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, updated.PermissionsMap(), fetched.PermissionsMap())
}

func TestGetRoleInFlightAcrossUpdateIsNotCached(t *testing.T) {
	b, _ := newBackend(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var stalled sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stall := false
		if r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/rbac/roles/") {
			stalled.Do(func() { stall = true })
		}
		if !stall {
			b.serve(w, r)
			return
		}
		// Answer with the state at arrival, after the write has landed.
		snapshot := httptest.NewRecorder()
		b.serve(snapshot, r)
		close(started)
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(snapshot.Code)
		_, _ = w.Write(snapshot.Body.Bytes())
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	svc := newService(srv)
	ctx := context.Background()
	role, err := svc.CreateRole(ctx, rbac.CreateRoleInput{
		Role:       "editor",
		Permission: []rbac.PermissionsMap{{rbac.ModuleCampaign: {}}},
	})
	require.NoError(t, err)

	before := make(chan rbac.Role, 1)
	go func() {
		fetched, _ := svc.GetRole(ctx, role.ID)
		before <- fetched
	}()
	<-started

	_, err = svc.UpdateRolePermissions(ctx, role.ID, rbac.UpdatePermissionsInput{
		Permissions: rbac.PermissionsMap{rbac.ModuleCampaign: {View: true}},
	})
	require.NoError(t, err)
	close(release)
	assert.False(t, (<-before).PermissionsMap()[rbac.ModuleCampaign].View)

	fetched, err := svc.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.True(t, fetched.PermissionsMap()[rbac.ModuleCampaign].View, "the read issued before the write is not served afterwards")
	assert.Equal(t, 2, b.hitCount(fmt.Sprintf("GET /rbac/roles/%d", role.ID)))
}

func TestGetRoleNotFound(t *testing.T) {
	_, srv := newBackend(t)
	_, err := newService(srv).GetRole(context.Background(), 404)
	require.Error(t, err)
	assert.True(t, apiclient.IsNotFound(err))
}

func TestMyPermissions(t *testing.T) {
	b, srv := newBackend(t)
	svc := newService(srv)

	mine, err := svc.MyPermissions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "enterprise_role", mine.Role)
	assert.Equal(t, rbac.PermissionsMap{rbac.ModuleCampaign: {View: true}}, mine.Permissions)

	mine.Permissions[rbac.ModuleCampaign] = rbac.ModulePermissions{View: true, Delete: true}
	again, err := svc.MyPermissions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, rbac.ModulePermissions{View: true}, again.Permissions[rbac.ModuleCampaign], "callers cannot mutate the cached result")
	assert.Equal(t, 1, b.hitCount("GET /rbac/my-permissions"))
}

func TestScopedServicesDoNotShareCache(t *testing.T) {
	b, srv := newBackend(t)
	api := apiclient.NewWithHTTPClient(srv.URL, srv.Client())
	svc := rbac.NewService(api, rbac.NewDeduper())

	alice := svc.Scoped(api.WithToken("alice"), "alice")
	bob := svc.Scoped(api.WithToken("bob"), "bob")

	_, err := alice.MyPermissions(context.Background())
	require.NoError(t, err)
	_, err = alice.MyPermissions(context.Background())
	require.NoError(t, err)
	_, err = bob.MyPermissions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, b.hitCount("GET /rbac/my-permissions"))
	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, []string{"Bearer alice", "Bearer bob"}, b.tokens)
}

func TestGateWithServiceFetcher(t *testing.T) {
	_, srv := newBackend(t)
	svc := newService(srv)
	user := &rbac.AuthenticatedUser{ID: 1, Roles: []rbac.RoleRef{rbac.NamedRole("Enterprise Role")}}

	gate := rbac.NewGate(user, "campaign", svc, nil)
	require.NoError(t, gate.Resolve(context.Background()))
	assert.True(t, gate.Can(rbac.ActionView))
	assert.False(t, gate.Can(rbac.ActionAdd))
}
