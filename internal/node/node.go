// Package node implements plain store-backed registration and
// enumeration of peer nodes. Each daemon owns its local objects; there
// is no replicated consensus log across nodes (the Non-goals
// explicitly exclude distributed consensus).
package node

import (
	"context"
	"time"

	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
)

// Service registers and enumerates peer nodes.
type Service struct {
	store store.Store
}

// New builds the node registration service.
func New(s store.Store) *Service {
	return &Service{store: s}
}

// Register creates or updates a node's row with a fresh heartbeat.
func (svc *Service) Register(ctx context.Context, name string, role types.NodeRole, ipAddress, endpoint, version string, labels map[string]string) (*types.Node, error) {
	if name == "" {
		return nil, ferr.Invalid("node name cannot be empty")
	}
	now := time.Now()
	n, err := svc.store.GetNode(ctx, name)
	if err != nil {
		if !ferr.Is(err, ferr.CodeNotFound) {
			return nil, err
		}
		n = &types.Node{Name: name, CreatedAt: now}
	}
	n.Role, n.IPAddress, n.Endpoint, n.Version, n.Labels = role, ipAddress, endpoint, version, labels
	n.LastHeartbeat = now
	if err := svc.store.CreateNode(ctx, n); err != nil {
		return nil, err
	}
	return n, nil
}

// Heartbeat bumps a node's last-seen timestamp without touching its
// other attributes.
func (svc *Service) Heartbeat(ctx context.Context, name string) error {
	n, err := svc.store.GetNode(ctx, name)
	if err != nil {
		return err
	}
	n.LastHeartbeat = time.Now()
	return svc.store.CreateNode(ctx, n)
}

// Get returns a node by name.
func (svc *Service) Get(ctx context.Context, name string) (*types.Node, error) {
	return svc.store.GetNode(ctx, name)
}

// List returns nodes matching f.
func (svc *Service) List(ctx context.Context, f *store.Filter) ([]*types.Node, error) {
	return svc.store.ListNodes(ctx, f)
}

// Delete removes a node's registration.
func (svc *Service) Delete(ctx context.Context, name string) error {
	return svc.store.DeleteNode(ctx, name)
}
