package spechistory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/fleetd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s := store.NewMemory()
	svc, err := Open(s, filepath.Join(t.TempDir(), "spec_wal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestAppendIsMonotonicAndNeverUpdatesInPlace(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	s1, err := svc.Append(ctx, "Cargo", "web.default", "v1", map[string]any{"replicas": float64(2)}, nil)
	require.NoError(t, err)
	s2, err := svc.Append(ctx, "Cargo", "web.default", "v2", map[string]any{"replicas": float64(5)}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, s1.ID, s2.ID)

	history, err := svc.ListByKindKey(ctx, "web.default", nil)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	current, err := svc.Current(ctx, "web.default")
	require.NoError(t, err)
	assert.Equal(t, "v2", current.Version)
}

func TestPatchDeepMergesOntoCurrent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Append(ctx, "Cargo", "web.default", "v1", map[string]any{
		"replicas": float64(2),
		"container": map[string]any{
			"image": "nginx:1.25",
			"env":   []any{"A=1"},
		},
	}, nil)
	require.NoError(t, err)

	patched, err := svc.Patch(ctx, "Cargo", "web.default", map[string]any{
		"container": map[string]any{
			"env": []any{"A=2", "B=3"},
		},
	}, nil)
	require.NoError(t, err)

	container := patched.Data["container"].(map[string]any)
	assert.Equal(t, "nginx:1.25", container["image"], "untouched fields survive the merge")
	assert.Equal(t, []any{"A=2", "B=3"}, container["env"], "list fields are replaced wholesale")
	assert.Equal(t, float64(2), patched.Data["replicas"])
}

func TestRevertAppendsRatherThanRewinds(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	s1, err := svc.Append(ctx, "Cargo", "web.default", "v1", map[string]any{"replicas": float64(2)}, nil)
	require.NoError(t, err)
	_, err = svc.Append(ctx, "Cargo", "web.default", "v2", map[string]any{"replicas": float64(5)}, nil)
	require.NoError(t, err)

	reverted, err := svc.Revert(ctx, "Cargo", "web.default", s1.ID)
	require.NoError(t, err)
	assert.Equal(t, s1.Data["replicas"], reverted.Data["replicas"])
	assert.NotEqual(t, s1.ID, reverted.ID, "revert creates a new row")

	history, err := svc.ListByKindKey(ctx, "web.default", nil)
	require.NoError(t, err)
	assert.Len(t, history, 3, "revert preserves all prior history, it does not rewind")
}

func TestRevertTwiceProducesTwoIdenticalPayloadRows(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	s1, err := svc.Append(ctx, "Cargo", "web.default", "v1", map[string]any{"replicas": float64(2)}, nil)
	require.NoError(t, err)
	_, err = svc.Append(ctx, "Cargo", "web.default", "v2", map[string]any{"replicas": float64(5)}, nil)
	require.NoError(t, err)

	r1, err := svc.Revert(ctx, "Cargo", "web.default", s1.ID)
	require.NoError(t, err)
	r2, err := svc.Revert(ctx, "Cargo", "web.default", s1.ID)
	require.NoError(t, err)

	assert.NotEqual(t, r1.ID, r2.ID)
	assert.Equal(t, r1.Data, r2.Data)
}
