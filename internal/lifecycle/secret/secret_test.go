package secret

import (
	"context"
	"testing"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/security"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s := store.NewMemory()
	crypto, err := security.NewManagerFromPassword("test-passphrase")
	require.NoError(t, err)

	bus := eventbus.New(s, "node-1", "fleetd")
	bus.Start()
	t.Cleanup(bus.Stop)

	return New(s, crypto, bus), s
}

func TestCreateSealsDataAndOmitsItFromOutput(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	out, err := svc.Create(ctx, map[string]any{
		"name": "db-password",
		"kind": "generic",
		"data": "hunter2",
	})
	require.NoError(t, err)
	assert.Equal(t, "db-password", out["key"])
	assert.NotContains(t, out, "data")

	plaintext, err := svc.Open(ctx, "db-password")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", string(plaintext))
}

func TestCreateRejectsEmptyData(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, map[string]any{"name": "db-password", "kind": "generic"})
	assert.True(t, ferr.Is(err, ferr.CodeInvalid))
}

func TestCreateRejectsDuplicateKey(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, map[string]any{"name": "db-password", "kind": "generic", "data": "hunter2"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, map[string]any{"name": "db-password", "kind": "generic", "data": "hunter3"})
	assert.True(t, ferr.Is(err, ferr.CodeConflict))
}

func TestPatchReplacesDataAndMergesMetadata(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, map[string]any{
		"name":     "db-password",
		"kind":     "generic",
		"data":     "hunter2",
		"metadata": map[string]any{"owner": "team-a"},
	})
	require.NoError(t, err)

	out, err := svc.Patch(ctx, "db-password", map[string]any{
		"data":     "hunter3",
		"metadata": map[string]any{"rotated": "true"},
	})
	require.NoError(t, err)
	meta := out["metadata"].(map[string]string)
	assert.Equal(t, "team-a", meta["owner"], "patch must preserve metadata it does not mention")
	assert.Equal(t, "true", meta["rotated"])

	plaintext, err := svc.Open(ctx, "db-password")
	require.NoError(t, err)
	assert.Equal(t, "hunter3", string(plaintext))
}

func TestInspectNeverExposesPlaintext(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, map[string]any{"name": "db-password", "kind": "generic", "data": "hunter2"})
	require.NoError(t, err)

	out, err := svc.Inspect(ctx, "db-password")
	require.NoError(t, err)
	assert.NotContains(t, out, "data")
	assert.Equal(t, "generic", out["kind"])
}

func TestDeleteRemovesSecret(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, map[string]any{"name": "db-password", "kind": "generic", "data": "hunter2"})
	require.NoError(t, err)

	_, err = svc.Delete(ctx, "db-password", false)
	require.NoError(t, err)

	_, err = s.GetSecret(ctx, "db-password")
	assert.True(t, ferr.Is(err, ferr.CodeNotFound))
}
