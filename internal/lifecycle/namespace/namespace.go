// Package namespace implements the lifecycle hooks for Namespace, the
// logical partition cargoes, vms and jobs are keyed into.
package namespace

import (
	"context"
	"time"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/lifecycle"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
)

// Default is the namespace every unqualified key resolves into; every
// namespaced key follows a resolve-then-concatenate rule.
const Default = "global"

// Resolve returns name if non-empty, else the default namespace.
func Resolve(name string) string {
	if name == "" {
		return Default
	}
	return name
}

// Service exposes the generic Create/Delete/Inspect pipeline for
// Namespace. Put/Patch are not meaningful for a bare name key, so only
// the subset of hooks that apply are wired.
type Service struct {
	generic *lifecycle.Generic
	store   store.Store
	bus     *eventbus.Bus
}

// New builds the Namespace lifecycle service.
func New(s store.Store, bus *eventbus.Bus) *Service {
	svc := &Service{store: s, bus: bus}
	svc.generic = lifecycle.New("Namespace", lifecycle.Hooks{
		Create:  svc.fnCreate,
		Delete:  svc.fnDelete,
		Inspect: svc.fnInspect,
	}, bus)
	return svc
}

func (svc *Service) fnCreate(ctx context.Context, data map[string]any) (string, map[string]any, error) {
	name, _ := data["name"].(string)
	if err := lifecycle.ValidateName(name); err != nil {
		return "", nil, err
	}
	if _, err := svc.store.GetNamespace(ctx, name); err == nil {
		return "", nil, ferr.Conflict("namespace %q already exists", name)
	} else if !ferr.Is(err, ferr.CodeNotFound) {
		return "", nil, err
	}

	ns := &types.Namespace{Name: name, CreatedAt: time.Now()}
	if err := svc.store.CreateNamespace(ctx, ns); err != nil {
		return "", nil, err
	}
	return name, toOutput(ns, 0), nil
}

func (svc *Service) fnDelete(ctx context.Context, key string, _ bool) (map[string]any, error) {
	ns, err := svc.store.GetNamespace(ctx, key)
	if err != nil {
		return nil, err
	}

	// Cascading delete goes through the event bus, the same path a direct
	// DELETE /cargoes or /vms call takes, so the reconciler tears down
	// running instances instead of leaving orphaned containers behind.
	cargoes, err := svc.store.ListCargoes(ctx, store.New().Eq("namespace", key))
	if err != nil {
		return nil, err
	}
	for _, c := range cargoes {
		if err := svc.bus.EmitSync(ctx, types.EventKindNormal, types.ActionDelete, types.Actor{Kind: "Cargo", Key: c.Key}, "namespace deleted", ""); err != nil {
			return nil, err
		}
	}
	vms, err := svc.store.ListVms(ctx, store.New().Eq("namespace", key))
	if err != nil {
		return nil, err
	}
	for _, v := range vms {
		if err := svc.bus.EmitSync(ctx, types.EventKindNormal, types.ActionDelete, types.Actor{Kind: "Vm", Key: v.Key}, "namespace deleted", ""); err != nil {
			return nil, err
		}
	}

	if err := svc.store.DeleteNamespace(ctx, key); err != nil {
		return nil, err
	}
	return toOutput(ns, len(cargoes)+len(vms)), nil
}

func (svc *Service) fnInspect(ctx context.Context, key string) (map[string]any, error) {
	ns, err := svc.store.GetNamespace(ctx, key)
	if err != nil {
		return nil, err
	}
	cargoes, err := svc.store.ListCargoes(ctx, store.New().Eq("namespace", key))
	if err != nil {
		return nil, err
	}
	return toOutput(ns, len(cargoes)), nil
}

func toOutput(ns *types.Namespace, objectCount int) map[string]any {
	return map[string]any{
		"name":         ns.Name,
		"created_at":   ns.CreatedAt,
		"object_count": objectCount,
	}
}

// Create validates and persists a new namespace.
func (svc *Service) Create(ctx context.Context, data map[string]any) (map[string]any, error) {
	_, out, err := svc.generic.Create(ctx, data)
	return out, err
}

// Delete removes a namespace and cascades its cargoes and vms.
func (svc *Service) Delete(ctx context.Context, name string) (map[string]any, error) {
	return svc.generic.Delete(ctx, name, false)
}

// Inspect returns a namespace summary.
func (svc *Service) Inspect(ctx context.Context, name string) (map[string]any, error) {
	return svc.generic.Inspect(ctx, name)
}

// List returns every registered namespace.
func (svc *Service) List(ctx context.Context, f *store.Filter) ([]*types.Namespace, error) {
	return svc.store.ListNamespaces(ctx, f)
}
