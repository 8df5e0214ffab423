package resourcekind

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyPutPostsPayloadToRulesEndpoint(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(time.Second)
	err := n.NotifyPut(context.Background(), srv.URL, map[string]any{"host": "web.local"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/rules", gotPath)
	assert.Equal(t, "web.local", gotBody["host"])
}

func TestNotifyDeleteCallsDeleteRulesName(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewNotifier(time.Second)
	err := n.NotifyDelete(context.Background(), srv.URL, "web-rule")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/rules/web-rule", gotPath)
}

func TestNotifyPutIsNoOpForEmptyEndpoint(t *testing.T) {
	n := NewNotifier(time.Second)
	err := n.NotifyPut(context.Background(), "", map[string]any{"host": "web.local"})
	assert.NoError(t, err)
}

func TestNotifyPutReturnsErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewNotifier(time.Second)
	err := n.NotifyPut(context.Background(), srv.URL, map[string]any{"host": "web.local"})
	assert.Error(t, err)
}
