package node

import (
	"context"
	"testing"

	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterCreatesThenUpdatesExistingNode(t *testing.T) {
	svc := New(store.NewMemory())
	ctx := context.Background()

	n, err := svc.Register(ctx, "node-1", types.NodeRoleManager, "10.0.0.1", "http://10.0.0.1:8080", "v0.1.0", map[string]string{"zone": "a"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", n.IPAddress)
	firstSeen := n.LastHeartbeat

	n2, err := svc.Register(ctx, "node-1", types.NodeRoleManager, "10.0.0.2", "http://10.0.0.2:8080", "v0.1.1", map[string]string{"zone": "a"})
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.2", n2.IPAddress)
	assert.True(t, n2.LastHeartbeat.After(firstSeen) || n2.LastHeartbeat.Equal(firstSeen))

	all, err := svc.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 1, "registering the same name twice must update, not duplicate")
}

func TestRegisterRejectsEmptyName(t *testing.T) {
	svc := New(store.NewMemory())
	_, err := svc.Register(context.Background(), "", types.NodeRoleWorker, "", "", "", nil)
	assert.Error(t, err)
}

func TestHeartbeatUpdatesLastSeenOnly(t *testing.T) {
	svc := New(store.NewMemory())
	ctx := context.Background()
	_, err := svc.Register(ctx, "node-1", types.NodeRoleWorker, "10.0.0.1", "", "v0.1.0", nil)
	require.NoError(t, err)

	require.NoError(t, svc.Heartbeat(ctx, "node-1"))

	n, err := svc.Get(ctx, "node-1")
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1", n.IPAddress, "heartbeat must not touch other attributes")
}

func TestListFiltersByRole(t *testing.T) {
	svc := New(store.NewMemory())
	ctx := context.Background()
	_, err := svc.Register(ctx, "manager-1", types.NodeRoleManager, "", "", "", nil)
	require.NoError(t, err)
	_, err = svc.Register(ctx, "worker-1", types.NodeRoleWorker, "", "", "", nil)
	require.NoError(t, err)

	managers, err := svc.List(ctx, store.New().Eq("role", string(types.NodeRoleManager)))
	require.NoError(t, err)
	assert.Len(t, managers, 1)
	assert.Equal(t, "manager-1", managers[0].Name)
}
