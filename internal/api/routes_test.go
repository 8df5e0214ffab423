package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/lifecycle/cargo"
	"github.com/cuemby/fleetd/internal/lifecycle/job"
	"github.com/cuemby/fleetd/internal/lifecycle/namespace"
	"github.com/cuemby/fleetd/internal/lifecycle/resource"
	"github.com/cuemby/fleetd/internal/lifecycle/resourcekind"
	"github.com/cuemby/fleetd/internal/lifecycle/secret"
	"github.com/cuemby/fleetd/internal/lifecycle/vm"
	"github.com/cuemby/fleetd/internal/metrics"
	"github.com/cuemby/fleetd/internal/node"
	"github.com/cuemby/fleetd/internal/reconciler"
	"github.com/cuemby/fleetd/internal/security"
	"github.com/cuemby/fleetd/internal/spechistory"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/subscription"
	"github.com/cuemby/fleetd/internal/task"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) (*echo.Echo, Dependencies) {
	t.Helper()
	s := store.NewMemory()
	bus := eventbus.New(s, "node-1", "fleetd")
	bus.Start()
	t.Cleanup(bus.Stop)

	specs, err := spechistory.Open(s, filepath.Join(t.TempDir(), "spec.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = specs.Close() })

	crypto, err := security.NewManagerFromPassword("test-passphrase")
	require.NoError(t, err)

	notifier := resourcekind.NewNotifier(time.Second)
	kinds := resourcekind.New(s, specs, bus)

	deps := Dependencies{
		Cargoes:       cargo.New(s, specs, bus),
		Vms:           vm.New(s, specs, bus),
		Jobs:          job.New(s, specs, bus),
		Secrets:       secret.New(s, crypto, bus),
		Namespaces:    namespace.New(s, bus),
		ResourceKinds: kinds,
		Resources:     resource.New(s, specs, kinds, notifier, bus),
		Nodes:         node.New(s),
		Metrics:       metrics.New(s, bus, "node-1", time.Hour, time.Hour),
		Subscriptions: subscription.New(bus),
		Reconciler:    reconciler.New(s, bus, nil, task.NewManager(2), specs, "node-1"),
		Store:         s,
		Version:       VersionInfo{Arch: "amd64", Channel: "stable", Version: "0.1.0", CommitID: "deadbeef"},
	}
	return New(deps), deps
}

func doJSON(t *testing.T, e *echo.Echo, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestPingReturnsAccepted(t *testing.T) {
	e, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodHead, "/v0/_ping", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestVersionReturnsBuildInfo(t *testing.T) {
	e, deps := newTestServer(t)
	rec := doJSON(t, e, http.MethodGet, "/v0/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var got VersionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, deps.Version, got)
}

func TestUnsupportedVersionSegmentReturns404(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(t, e, http.MethodGet, "/v1.0/version", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCargoCreateInspectDeleteRoundTrip(t *testing.T) {
	e, _ := newTestServer(t)

	create := doJSON(t, e, http.MethodPost, "/v0/cargoes", map[string]any{
		"name":      "web",
		"namespace": "default",
		"container": map[string]any{"image": "nginx:1.25"},
	})
	require.Equal(t, http.StatusCreated, create.Code)

	inspect := doJSON(t, e, http.MethodGet, "/v0/cargoes/web/inspect?namespace=default", nil)
	assert.Equal(t, http.StatusOK, inspect.Code)

	del := doJSON(t, e, http.MethodDelete, "/v0/cargoes/web?namespace=default", nil)
	assert.Equal(t, http.StatusAccepted, del.Code)

	after := doJSON(t, e, http.MethodGet, "/v0/cargoes/web/inspect?namespace=default", nil)
	assert.Equal(t, http.StatusNotFound, after.Code)
}

func TestCargoCreateConflictReturns409(t *testing.T) {
	e, _ := newTestServer(t)
	body := map[string]any{
		"name":      "web",
		"namespace": "default",
		"container": map[string]any{"image": "nginx:1.25"},
	}
	require.Equal(t, http.StatusCreated, doJSON(t, e, http.MethodPost, "/v0/cargoes", body).Code)

	rec := doJSON(t, e, http.MethodPost, "/v0/cargoes", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var got errMsg
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEmpty(t, got.Msg)
}

func TestMetricsSubmitRejectsReservedKindWith400(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(t, e, http.MethodPost, "/v0/metrics", map[string]any{
		"kind": "nanocl.io",
		"data": map[string]any{"x": 1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsSubmitAllowsCustomKind(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doJSON(t, e, http.MethodPost, "/v0/metrics", map[string]any{
		"kind": "acme.io/gpu-temp",
		"data": map[string]any{"celsius": 42},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestNamespaceHasNoPutRoute(t *testing.T) {
	e, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPut, "/v0/namespaces/default", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventsListIncludesEmittedEvents(t *testing.T) {
	e, deps := newTestServer(t)

	require.Equal(t, http.StatusCreated, doJSON(t, e, http.MethodPost, "/v0/namespaces", map[string]any{
		"name": "watched",
	}).Code)

	rec := doJSON(t, e, http.MethodGet, "/v0/events", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var events []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &events))
	assert.NotEmpty(t, events)
	_ = deps
}

func TestEventsCountReflectsAppendedEvents(t *testing.T) {
	e, _ := newTestServer(t)
	require.Equal(t, http.StatusCreated, doJSON(t, e, http.MethodPost, "/v0/namespaces", map[string]any{
		"name": "counted",
	}).Code)

	rec := doJSON(t, e, http.MethodGet, "/v0/events/count", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	var got map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.GreaterOrEqual(t, got["count"], 1)
}

func TestNodeRegisterListInspectRoundTrip(t *testing.T) {
	e, _ := newTestServer(t)

	create := doJSON(t, e, http.MethodPost, "/v0/nodes", map[string]any{
		"name":    "node-2",
		"role":    "worker",
		"version": "0.1.0",
	})
	require.Equal(t, http.StatusCreated, create.Code)

	list := doJSON(t, e, http.MethodGet, "/v0/nodes", nil)
	assert.Equal(t, http.StatusOK, list.Code)
	var nodes []map[string]any
	require.NoError(t, json.Unmarshal(list.Body.Bytes(), &nodes))
	assert.NotEmpty(t, nodes)

	inspect := doJSON(t, e, http.MethodGet, "/v0/nodes/node-2/inspect", nil)
	assert.Equal(t, http.StatusOK, inspect.Code)
}

func TestResourceKindRoutesUseTwoSegmentKey(t *testing.T) {
	e, _ := newTestServer(t)
	create := doJSON(t, e, http.MethodPost, "/v0/resource/kinds", map[string]any{
		"domain": "acme.io",
		"name":   "gateway",
	})
	require.Equal(t, http.StatusCreated, create.Code)

	inspect := doJSON(t, e, http.MethodGet, "/v0/resource/kinds/acme.io/gateway/inspect", nil)
	assert.Equal(t, http.StatusOK, inspect.Code)
}
