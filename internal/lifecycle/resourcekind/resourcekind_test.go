package resourcekind

import (
	"context"
	"testing"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/spechistory"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s := store.NewMemory()
	specs, err := spechistory.Open(s, t.TempDir()+"/wal.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = specs.Close() })

	bus := eventbus.New(s, "node-1", "fleetd")
	bus.Start()
	t.Cleanup(bus.Stop)

	return New(s, specs, bus), s
}

func proxyRuleSpec(endpoint string) map[string]any {
	return map[string]any{
		"domain":   "nginx.io",
		"name":     "ProxyRule",
		"endpoint": endpoint,
		"schema": map[string]any{
			"fields": []any{
				map[string]any{"name": "host", "type": "string", "required": true},
				map[string]any{"name": "port", "type": "number", "required": true},
			},
		},
	}
}

func TestCreateJoinsDomainAndName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	out, err := svc.Create(ctx, proxyRuleSpec("http://proxy-ctl.sock"))
	require.NoError(t, err)
	assert.Equal(t, "nginx.io/ProxyRule", out["key"])
}

func TestCreateRejectsDuplicateKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, proxyRuleSpec("http://proxy-ctl.sock"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, proxyRuleSpec("http://proxy-ctl.sock"))
	assert.True(t, ferr.Is(err, ferr.CodeConflict))
}

func TestSchemaValidatesRequiredFieldsAndTypes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, proxyRuleSpec("http://proxy-ctl.sock"))
	require.NoError(t, err)

	schema, err := svc.Schema(ctx, "nginx.io/ProxyRule")
	require.NoError(t, err)

	assert.NoError(t, schema.Validate(map[string]any{"host": "web.local", "port": float64(8080)}))
	assert.Error(t, schema.Validate(map[string]any{"port": float64(8080)}), "missing required host")
	assert.Error(t, schema.Validate(map[string]any{"host": "web.local", "port": "8080"}), "port must be numeric")
}

func TestDeleteCascadesSpecHistory(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, proxyRuleSpec("http://proxy-ctl.sock"))
	require.NoError(t, err)

	_, err = svc.Delete(ctx, "nginx.io/ProxyRule", false)
	require.NoError(t, err)

	_, err = s.GetResourceKind(ctx, "nginx.io/ProxyRule")
	assert.True(t, ferr.Is(err, ferr.CodeNotFound))

	history, err := s.ListSpecHistory(ctx, "nginx.io/ProxyRule", nil)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestEndpointReturnsRegisteredControllerURL(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, proxyRuleSpec("http://proxy-ctl.sock"))
	require.NoError(t, err)

	endpoint, err := svc.Endpoint(ctx, "nginx.io/ProxyRule")
	require.NoError(t, err)
	assert.Equal(t, "http://proxy-ctl.sock", endpoint)
}
