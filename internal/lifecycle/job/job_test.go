package job

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

func jobSpec(schedule string) map[string]any {
	return map[string]any{
		"name":      "nightly-backup",
		"schedule":  schedule,
		"container": map[string]any{"image": "backup-tool:latest"},
	}
}

func TestCreateIsKeyedByBareName(t *testing.T) {
	svc, s, bus := newTestService(t)
	ctx := context.Background()

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	out, err := svc.Create(ctx, jobSpec("0 2 * * *"))
	require.NoError(t, err)
	assert.Equal(t, "nightly-backup", out["key"], "jobs are not namespaced")

	j, err := s.GetJob(ctx, "nightly-backup")
	require.NoError(t, err)
	assert.Equal(t, "0 2 * * *", j.Schedule)

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
	_, err := svc.Create(ctx, jobSpec("0 2 * * *"))
	require.NoError(t, err)

	_, err = svc.Create(ctx, jobSpec("0 3 * * *"))
	assert.True(t, ferr.Is(err, ferr.CodeConflict))
}

func TestPutReplacesScheduleAndSpec(t *testing.T) {
	svc, s, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Create(ctx, jobSpec("0 2 * * *"))
	require.NoError(t, err)

	_, err = svc.Put(ctx, "nightly-backup", jobSpec("0 4 * * *"))
	require.NoError(t, err)

	j, err := s.GetJob(ctx, "nightly-backup")
	require.NoError(t, err)
	assert.Equal(t, "0 4 * * *", j.Schedule)

	spec, err := s.GetCurrentSpec(ctx, "nightly-backup")
	require.NoError(t, err)
	assert.Equal(t, "v2", spec.Version)
}

func TestDeleteMarksProcessesWantedDeletedAndEmitsDelete(t *testing.T) {
	svc, s, bus := newTestService(t)
	ctx := context.Background()
	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)
	_, err := svc.Create(ctx, jobSpec("0 2 * * *"))
	require.NoError(t, err)

	require.NoError(t, s.PutProcess(ctx, &types.Process{Key: "0-aaaaaa.j.nightly-backup", Kind: types.ProcessKindJob, KindKey: "nightly-backup"}))
	require.NoError(t, s.PutProcessStatus(ctx, &types.ProcessStatus{Key: "0-aaaaaa.j.nightly-backup", Wanted: types.WantedRunning, Current: types.CurrentRunning}))

	<-sub // drain Create
	<-sub // drain Updating

	_, err = svc.Delete(ctx, "nightly-backup", false)
	require.NoError(t, err)

	status, err := s.GetProcessStatus(ctx, "0-aaaaaa.j.nightly-backup")
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
	_, err := svc.Create(ctx, jobSpec("0 2 * * *"))
	require.NoError(t, err)
	require.NoError(t, s.PutProcess(ctx, &types.Process{Key: "0-aaaaaa.j.nightly-backup", Kind: types.ProcessKindJob, KindKey: "nightly-backup"}))

	out, err := svc.Inspect(ctx, "nightly-backup")
	require.NoError(t, err)
	assert.Equal(t, 1, out["instance_count"])
}
