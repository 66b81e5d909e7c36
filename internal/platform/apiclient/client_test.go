package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientSendsJSONWithBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/rbac/roles/3", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"permission":[]}`, string(body))
		_, _ = w.Write([]byte(`{"data":{"id":3}}`))
	}))
	defer srv.Close()

	client := New(srv.URL+"/", time.Second).WithToken("tok")
	out, err := client.Patch(context.Background(), "/rbac/roles/3", map[string]any{"permission": []any{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"data":{"id":3}}`, string(out))
}

func TestClientAnonymousHasNoAuthorization(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	base := NewWithHTTPClient(srv.URL, srv.Client())
	scoped := base.WithToken("tok")
	assert.Equal(t, "", base.Token())
	assert.Equal(t, "tok", scoped.Token())

	out, err := base.Delete(context.Background(), "/rbac/roles/1")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestClientMapsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			w.WriteHeader(http.StatusNotFound)
		case "/denied":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"upstream"}`))
		}
	}))
	defer srv.Close()
	client := NewWithHTTPClient(srv.URL, srv.Client())
	ctx := context.Background()

	_, err := client.Get(ctx, "/missing")
	assert.True(t, IsNotFound(err))

	_, err = client.Get(ctx, "/denied")
	assert.True(t, IsUnauthorized(err))

	_, err = client.Get(ctx, "/broken")
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, string(statusErr.Body), "upstream")
	assert.Equal(t, 0, StatusCode(errors.New("other")))
}

func TestClientPostMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "front", r.FormValue("caption"))
		file, header, err := r.FormFile("images")
		require.NoError(t, err)
		defer file.Close()
		data, _ := io.ReadAll(file)
		assert.Equal(t, "house.jpg", header.Filename)
		assert.Equal(t, "jpeg-bytes", string(data))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]int{"uploaded": 1})
	}))
	defer srv.Close()

	client := NewWithHTTPClient(srv.URL, srv.Client())
	out, err := client.PostMultipart(context.Background(), "/properties/4/images",
		map[string]string{"caption": "front"},
		[]File{{Field: "images", Name: "house.jpg", Content: strings.NewReader("jpeg-bytes")}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"uploaded":1}`, string(out))
}
