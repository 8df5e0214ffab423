package subscription

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBus(t *testing.T) *eventbus.Bus {
	t.Helper()
	bus := eventbus.New(store.NewMemory(), "node-1", "fleetd")
	bus.Start()
	t.Cleanup(bus.Stop)
	return bus
}

func TestWatchStreamsEventsAsNdjson(t *testing.T) {
	bus := newTestBus(t)
	svc := New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx, nil, &buf) }()

	time.Sleep(20 * time.Millisecond)
	bus.Emit(types.EventKindNormal, types.ActionCreate, types.Actor{Kind: "Cargo", Key: "web.global"}, "", "")
	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var e types.Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, "Cargo", e.Actor.Kind)
}

func TestWatchClosesOnMatchingCondition(t *testing.T) {
	bus := newTestBus(t)
	svc := New(bus)

	conds := []types.EventCondition{{ActorKind: "Cargo", Action: types.ActionStarted}}
	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- svc.Watch(context.Background(), conds, &buf) }()

	time.Sleep(20 * time.Millisecond)
	bus.Emit(types.EventKindNormal, types.ActionCreate, types.Actor{Kind: "Cargo", Key: "web.global"}, "", "")
	bus.Emit(types.EventKindNormal, types.ActionStarted, types.Actor{Kind: "Cargo", Key: "web.global"}, "", "")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected Watch to return after the matching event")
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "both Create and the matching Started event should be written before closing")
}

func TestWatchReturnsOnContextCancel(t *testing.T) {
	bus := newTestBus(t)
	svc := New(bus)

	ctx, cancel := context.WithCancel(context.Background())
	var buf bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- svc.Watch(ctx, nil, &buf) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("expected Watch to return promptly after cancel")
	}
}
