package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPIServer(t *testing.T, handler http.HandlerFunc) *client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newClient(strings.TrimPrefix(srv.URL, "http://"))
}

func TestGetDecodesJSONBody(t *testing.T) {
	c := newTestAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v0/namespaces", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode([]map[string]any{{"name": "default"}})
	})

	var out []map[string]any
	require.NoError(t, c.get(context.Background(), "/namespaces", nil, &out))
	require.Len(t, out, 1)
	assert.Equal(t, "default", out[0]["name"])
}

func TestErrorResponseSurfacesMsgField(t *testing.T) {
	c := newTestAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"msg": "cargo \"web\" already exists"})
	})

	err := c.post(context.Background(), "/cargoes", map[string]any{"name": "web"}, nil)
	require.Error(t, err)
	apiErr, ok := err.(*apiError)
	require.True(t, ok)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "already exists")
}

func TestDeleteEncodesQueryParams(t *testing.T) {
	c := newTestAPIServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "default", r.URL.Query().Get("namespace"))
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"name": "web"})
	})

	var out map[string]any
	q := url.Values{}
	q.Set("namespace", "default")
	require.NoError(t, c.delete(context.Background(), "/cargoes/web", q, &out))
	assert.Equal(t, "web", out["name"])
}
