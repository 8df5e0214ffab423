package vm

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

func vmSpec(image string, sizeGB int64) map[string]any {
	return map[string]any{
		"name": "builder",
		"disk": map[string]any{"image": image, "size": float64(sizeGB << 30)},
		"host_config": map[string]any{
			"cpu":    float64(2),
			"memory": float64(1 << 30),
			"kvm":    true,
		},
	}
}

func TestCreateAppendsFirstSpecAndEmitsCreateThenUpdating(t *testing.T) {
	svc, s, bus := newTestService(t)
	ctx := context.Background()

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	out, err := svc.Create(ctx, vmSpec("ubuntu-22.04.qcow2", 10))
	require.NoError(t, err)
	assert.Equal(t, "builder.global", out["key"])
	assert.Equal(t, "ubuntu-22.04.qcow2", out["disk_image"])

	spec, err := s.GetCurrentSpec(ctx, "builder.global")
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
	_, err := svc.Create(ctx, vmSpec("ubuntu-22.04.qcow2", 10))
	require.NoError(t, err)

	_, err = svc.Create(ctx, vmSpec("ubuntu-22.04.qcow2", 10))
	assert.True(t, ferr.Is(err, ferr.CodeConflict))
}

func TestPutReplacesSpecAndUpdatesDiskImage(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, vmSpec("ubuntu-22.04.qcow2", 10))
	require.NoError(t, err)

	_, err = svc.Put(ctx, "builder.global", vmSpec("debian-12.qcow2", 20))
	require.NoError(t, err)

	spec, err := s.GetCurrentSpec(ctx, "builder.global")
	require.NoError(t, err)
	assert.Equal(t, "v2", spec.Version)

	v, err := s.GetVm(ctx, "builder.global")
	require.NoError(t, err)
	assert.Equal(t, "debian-12.qcow2", v.DiskImage)
}

func TestPatchDeepMergesOntoCurrent(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, vmSpec("ubuntu-22.04.qcow2", 10))
	require.NoError(t, err)

	_, err = svc.Patch(ctx, "builder.global", map[string]any{
		"host_config": map[string]any{"cpu": float64(4)},
	})
	require.NoError(t, err)

	spec, err := s.GetCurrentSpec(ctx, "builder.global")
	require.NoError(t, err)
	hc := spec.Data["host_config"].(map[string]any)
	assert.Equal(t, float64(4), hc["cpu"])
	assert.Equal(t, true, hc["kvm"], "patch must preserve fields it does not mention")
}

func TestRevertAppendsPriorPayloadAsNewestRow(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, vmSpec("ubuntu-22.04.qcow2", 10))
	require.NoError(t, err)
	spec1, err := s.GetCurrentSpec(ctx, "builder.global")
	require.NoError(t, err)

	_, err = svc.Put(ctx, "builder.global", vmSpec("debian-12.qcow2", 20))
	require.NoError(t, err)

	_, err = svc.Revert(ctx, "builder.global", spec1.ID)
	require.NoError(t, err)

	current, err := s.GetCurrentSpec(ctx, "builder.global")
	require.NoError(t, err)
	assert.Equal(t, "v3", current.Version)
	assert.Equal(t, spec1.Data, current.Data)

	v, err := s.GetVm(ctx, "builder.global")
	require.NoError(t, err)
	assert.Equal(t, "ubuntu-22.04.qcow2", v.DiskImage, "revert must restore the prior disk image")

	history, err := s.ListSpecHistory(ctx, "builder.global", nil)
	require.NoError(t, err)
	assert.Len(t, history, 3, "revert must extend history, not rewind it")
}

func TestDeleteMarksProcessesWantedDeletedAndEmitsDelete(t *testing.T) {
	svc, s, bus := newTestService(t)
	ctx := context.Background()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	_, err := svc.Create(ctx, vmSpec("ubuntu-22.04.qcow2", 10))
	require.NoError(t, err)

	require.NoError(t, s.PutProcess(ctx, &types.Process{Key: "0-aaaaaa.v.builder", Kind: types.ProcessKindVm, KindKey: "builder.global"}))
	require.NoError(t, s.PutProcessStatus(ctx, &types.ProcessStatus{Key: "0-aaaaaa.v.builder", Wanted: types.WantedRunning, Current: types.CurrentRunning}))

	<-sub // drain Create
	<-sub // drain Updating

	_, err = svc.Delete(ctx, "builder.global", false)
	require.NoError(t, err)

	status, err := s.GetProcessStatus(ctx, "0-aaaaaa.v.builder")
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
	_, err := svc.Create(ctx, vmSpec("ubuntu-22.04.qcow2", 10))
	require.NoError(t, err)
	require.NoError(t, s.PutProcess(ctx, &types.Process{Key: "0-aaaaaa.v.builder", Kind: types.ProcessKindVm, KindKey: "builder.global"}))

	out, err := svc.Inspect(ctx, "builder.global")
	require.NoError(t, err)
	assert.Equal(t, 1, out["instance_count"])
}
