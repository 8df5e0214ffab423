package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Engine = (*ContainerdEngine)(nil)
	_ Engine = (*FakeEngine)(nil)
)

func TestFakeEngineCreateStartInspect(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	id, err := f.CreateContainer(ctx, Spec{ID: "0-ab12cd.c", Image: "nginx:1.25"})
	require.NoError(t, err)

	st, err := f.InspectContainer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, st)

	require.NoError(t, f.StartContainer(ctx, id))
	st, err = f.InspectContainer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st)
}

func TestFakeEngineStopIsIdempotent(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	require.NoError(t, f.StopContainer(ctx, "never-created", time.Second))
}

func TestFakeEngineCreateFailurePropagates(t *testing.T) {
	f := NewFake()
	f.Fail["0-bad.c"] = assert.AnError

	_, err := f.CreateContainer(context.Background(), Spec{ID: "0-bad.c", Image: "nginx:1.25"})
	assert.Error(t, err)
}

func TestFakeEnginePullCount(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	require.NoError(t, f.PullImage(ctx, "nginx:1.25"))
	require.NoError(t, f.PullImage(ctx, "nginx:1.25"))
	assert.Equal(t, 2, f.PullCount("nginx:1.25"))
}
