package cargo

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/spechistory"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, store.Store, *eventbus.Bus) {
	t.Helper()
	s := store.NewMemory()
	specs, err := spechistory.Open(s, t.TempDir()+"/wal.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = specs.Close() })

	bus := eventbus.New(s, "node-1", "fleetd")
	bus.Start()
	t.Cleanup(bus.Stop)

	return New(s, specs, bus), s, bus
}

func TestCreateAppendsFirstSpecAndEmitsCreateThenUpdating(t *testing.T) {
	svc, s, bus := newTestService(t)
	ctx := context.Background()

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	out, err := svc.Create(ctx, map[string]any{
		"name":      "web",
		"namespace": "",
		"container": map[string]any{"image": "nginx:1.25"},
	})
	require.NoError(t, err)
	assert.Equal(t, "web.global", out["key"])

	spec, err := s.GetCurrentSpec(ctx, "web.global")
	require.NoError(t, err)
	assert.Equal(t, "v1", spec.Version)

	var actions []types.NativeEventAction
	for i := 0; i < 2; i++ {
		select {
		case e := <-sub:
			actions = append(actions, e.Action)
		case <-time.After(time.Second):
			t.Fatal("expected Create then Updating events")
		}
	}
	assert.Equal(t, []types.NativeEventAction{types.ActionCreate, types.ActionUpdating}, actions)
}

func TestCreateRejectsDuplicateKey(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, map[string]any{"name": "web", "container": map[string]any{"image": "nginx"}})
	require.NoError(t, err)

	_, err = svc.Create(ctx, map[string]any{"name": "web", "container": map[string]any{"image": "nginx"}})
	assert.True(t, ferr.Is(err, ferr.CodeConflict))
}

func TestPutReplacesSpecAndEmitsUpdatingSynchronously(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, map[string]any{"name": "web", "container": map[string]any{"image": "nginx"}, "replication": map[string]any{"replicas": float64(2)}})
	require.NoError(t, err)

	_, err = svc.Put(ctx, "web.global", map[string]any{"container": map[string]any{"image": "nginx"}, "replication": map[string]any{"replicas": float64(5)}})
	require.NoError(t, err)

	spec, err := s.GetCurrentSpec(ctx, "web.global")
	require.NoError(t, err)
	assert.Equal(t, "v2", spec.Version)
	assert.Equal(t, float64(5), spec.Data["replication"].(map[string]any)["replicas"])
}

func TestPatchDeepMergesOntoCurrent(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, map[string]any{
		"name":      "web",
		"container": map[string]any{"image": "nginx", "env": []any{"A=1"}},
	})
	require.NoError(t, err)

	_, err = svc.Patch(ctx, "web.global", map[string]any{
		"container": map[string]any{"image": "nginx:1.26"},
	})
	require.NoError(t, err)

	spec, err := s.GetCurrentSpec(ctx, "web.global")
	require.NoError(t, err)
	container := spec.Data["container"].(map[string]any)
	assert.Equal(t, "nginx:1.26", container["image"])
	assert.Equal(t, []any{"A=1"}, container["env"], "patch must preserve fields it does not mention")
}

func TestRevertAppendsPriorPayloadAsNewestRow(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, map[string]any{"name": "web", "container": map[string]any{"image": "nginx"}, "replication": map[string]any{"replicas": float64(2)}})
	require.NoError(t, err)
	spec1, err := s.GetCurrentSpec(ctx, "web.global")
	require.NoError(t, err)

	_, err = svc.Put(ctx, "web.global", map[string]any{"container": map[string]any{"image": "nginx"}, "replication": map[string]any{"replicas": float64(5)}})
	require.NoError(t, err)

	_, err = svc.Revert(ctx, "web.global", spec1.ID)
	require.NoError(t, err)

	current, err := s.GetCurrentSpec(ctx, "web.global")
	require.NoError(t, err)
	assert.Equal(t, "v3", current.Version)
	assert.Equal(t, spec1.Data, current.Data)

	history, err := s.ListSpecHistory(ctx, "web.global", nil)
	require.NoError(t, err)
	assert.Len(t, history, 3, "revert must extend history, not rewind it")
}

func TestDeleteMarksProcessesWantedDeletedAndEmitsDelete(t *testing.T) {
	svc, s, bus := newTestService(t)
	ctx := context.Background()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	_, err := svc.Create(ctx, map[string]any{"name": "web", "container": map[string]any{"image": "nginx"}})
	require.NoError(t, err)

	require.NoError(t, s.PutProcess(ctx, &types.Process{Key: "0-aaaaaa.c.web", Kind: types.ProcessKindCargo, KindKey: "web.global"}))
	require.NoError(t, s.PutProcessStatus(ctx, &types.ProcessStatus{Key: "0-aaaaaa.c.web", Wanted: types.WantedRunning, Current: types.CurrentRunning}))

	<-sub // drain Create
	<-sub // drain Updating

	_, err = svc.Delete(ctx, "web.global", false)
	require.NoError(t, err)

	status, err := s.GetProcessStatus(ctx, "0-aaaaaa.c.web")
	require.NoError(t, err)
	assert.Equal(t, types.WantedDeleted, status.Wanted)

	select {
	case e := <-sub:
		assert.Equal(t, types.ActionDelete, e.Action)
	case <-time.After(time.Second):
		t.Fatal("expected a Delete event")
	}
}

func TestInspectIncludesInstanceCount(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, map[string]any{"name": "web", "container": map[string]any{"image": "nginx"}})
	require.NoError(t, err)
	require.NoError(t, s.PutProcess(ctx, &types.Process{Key: "0-aaaaaa.c.web", Kind: types.ProcessKindCargo, KindKey: "web.global"}))

	out, err := svc.Inspect(ctx, "web.global")
	require.NoError(t, err)
	assert.Equal(t, 1, out["instance_count"])
}
