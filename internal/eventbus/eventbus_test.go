package eventbus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusEmitBroadcastsToSubscribers(t *testing.T) {
	s := store.NewMemory()
	b := New(s, "node-1", "fleetd")
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Emit(types.EventKindNormal, types.ActionCreate, types.Actor{Kind: "Cargo", Key: "web.default"}, "", "")

	select {
	case e := <-sub:
		assert.Equal(t, types.ActionCreate, e.Action)
		assert.Equal(t, "web.default", e.Actor.Key)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusEmitPersistsThroughStore(t *testing.T) {
	s := store.NewMemory()
	b := New(s, "node-1", "fleetd")
	ctx := context.Background()

	require.NoError(t, b.EmitSync(ctx, types.EventKindNormal, types.ActionStarted, types.Actor{Kind: "Cargo", Key: "web.default"}, "", ""))

	events, err := s.ListEvents(ctx, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, types.ActionStarted, events[0].Action)
}

func TestBusWaitForMatchesCondition(t *testing.T) {
	s := store.NewMemory()
	b := New(s, "node-1", "fleetd")
	b.Start()
	defer b.Stop()

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Emit(types.EventKindNormal, types.ActionStarted, types.Actor{Kind: "Cargo", Key: "web.default"}, "", "")
	}()

	e, err := b.WaitFor(context.Background(), time.Second, types.EventCondition{
		ActorKey: "web.default",
		Action:   types.ActionStarted,
	})
	require.NoError(t, err)
	assert.Equal(t, "web.default", e.Actor.Key)
}

func TestBusWaitForTimesOut(t *testing.T) {
	s := store.NewMemory()
	b := New(s, "node-1", "fleetd")
	b.Start()
	defer b.Stop()

	_, err := b.WaitFor(context.Background(), 20*time.Millisecond, types.EventCondition{ActorKey: "nope"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBusBroadcastDisconnectsLaggingSubscriberWithLaggedSignal(t *testing.T) {
	s := store.NewMemory()
	b := New(s, "node-1", "fleetd")

	sub := b.Subscribe()
	for i := 0; i < 60; i++ {
		b.broadcast(&types.Event{ID: fmt.Sprintf("evt-%d", i), Action: types.ActionStarted})
	}

	assert.Equal(t, 0, b.SubscriberCount(), "a subscriber whose buffer filled must be disconnected")

	sawLagged := false
	for e := range sub {
		if e.Reason == "lagged" {
			sawLagged = true
		}
	}
	assert.True(t, sawLagged, "the disconnected subscriber must observe a lagged signal")
}

func TestBusUnsubscribeStopsDelivery(t *testing.T) {
	s := store.NewMemory()
	b := New(s, "node-1", "fleetd")
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok)
}
