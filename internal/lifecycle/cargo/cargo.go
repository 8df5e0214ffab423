// Package cargo implements the lifecycle hooks for Cargo, a declaratively
// managed long-running container service with a replica count.
package cargo

import (
	"context"
	"time"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/lifecycle"
	"github.com/cuemby/fleetd/internal/lifecycle/namespace"
	"github.com/cuemby/fleetd/internal/spechistory"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
)

// Service implements the five lifecycle hooks for Cargo.
type Service struct {
	generic *lifecycle.Generic
	store   store.Store
	specs   *spechistory.Service
}

// New builds the Cargo lifecycle service.
func New(s store.Store, specs *spechistory.Service, bus *eventbus.Bus) *Service {
	svc := &Service{store: s, specs: specs}
	svc.generic = lifecycle.New("Cargo", lifecycle.Hooks{
		Create:  svc.fnCreate,
		Put:     svc.fnPut,
		Patch:   svc.fnPatch,
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
	ns := namespace.Resolve(stringField(data, "namespace"))
	key := lifecycle.Key(name, ns)

	if _, err := svc.store.GetCargo(ctx, key); err == nil {
		return "", nil, ferr.Conflict("cargo %q already exists in namespace %q", name, ns)
	} else if !ferr.Is(err, ferr.CodeNotFound) {
		return "", nil, err
	}

	now := time.Now()
	c := &types.Cargo{Key: key, Name: name, Namespace: ns, CreatedAt: now, UpdatedAt: now}

	spec, err := svc.specs.Append(ctx, "Cargo", key, "v1", data, nil)
	if err != nil {
		return "", nil, ferr.Backend(err, "appending initial cargo spec for %s", key)
	}
	c.SpecID = spec.ID

	if err := svc.store.CreateCargo(ctx, c); err != nil {
		return "", nil, err
	}
	return key, toOutput(c, spec, 0), nil
}

func (svc *Service) fnPut(ctx context.Context, key string, data map[string]any) (map[string]any, error) {
	c, err := svc.store.GetCargo(ctx, key)
	if err != nil {
		return nil, err
	}
	spec, err := svc.specs.Put(ctx, "Cargo", key, data, nil)
	if err != nil {
		return nil, ferr.Backend(err, "replacing cargo spec for %s", key)
	}
	c.SpecID, c.UpdatedAt = spec.ID, time.Now()
	if err := svc.store.CreateCargo(ctx, c); err != nil {
		return nil, err
	}
	return toOutput(c, spec, 0), nil
}

func (svc *Service) fnPatch(ctx context.Context, key string, update map[string]any) (map[string]any, error) {
	c, err := svc.store.GetCargo(ctx, key)
	if err != nil {
		return nil, err
	}
	spec, err := svc.specs.Patch(ctx, "Cargo", key, update, nil)
	if err != nil {
		return nil, ferr.Backend(err, "patching cargo spec for %s", key)
	}
	c.SpecID, c.UpdatedAt = spec.ID, time.Now()
	if err := svc.store.CreateCargo(ctx, c); err != nil {
		return nil, err
	}
	return toOutput(c, spec, 0), nil
}

// fnDelete marks every known process of this cargo wanted=deleted and
// returns; the reconciler performs the actual teardown and removes the
// Cargo row and spec history once it observes the Delete event.
func (svc *Service) fnDelete(ctx context.Context, key string, _ bool) (map[string]any, error) {
	c, err := svc.store.GetCargo(ctx, key)
	if err != nil {
		return nil, err
	}
	procs, err := svc.store.ListProcesses(ctx, store.New().Eq("kind_key", key))
	if err != nil {
		return nil, err
	}
	for _, p := range procs {
		status, err := svc.store.GetProcessStatus(ctx, p.Key)
		if err != nil {
			continue
		}
		status.Previous, status.Wanted, status.UpdatedAt = status.Current, types.WantedDeleted, time.Now()
		_ = svc.store.PutProcessStatus(ctx, status)
	}
	return toOutput(c, nil, len(procs)), nil
}

func (svc *Service) fnInspect(ctx context.Context, key string) (map[string]any, error) {
	c, err := svc.store.GetCargo(ctx, key)
	if err != nil {
		return nil, err
	}
	spec, err := svc.specs.Current(ctx, key)
	if err != nil {
		return nil, err
	}
	procs, err := svc.store.ListProcesses(ctx, store.New().Eq("kind_key", key))
	if err != nil {
		return nil, err
	}
	return toOutput(c, spec, len(procs)), nil
}

func toOutput(c *types.Cargo, spec *types.Spec, instanceCount int) map[string]any {
	out := map[string]any{
		"key":            c.Key,
		"name":           c.Name,
		"namespace":      c.Namespace,
		"created_at":     c.CreatedAt,
		"updated_at":     c.UpdatedAt,
		"instance_count": instanceCount,
	}
	if spec != nil {
		out["spec"] = spec.Data
		out["spec_version"] = spec.Version
	}
	return out
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

// Create validates and persists a new cargo, returning its summary.
func (svc *Service) Create(ctx context.Context, data map[string]any) (map[string]any, error) {
	_, out, err := svc.generic.Create(ctx, data)
	return out, err
}

// Put replaces a cargo's whole spec.
func (svc *Service) Put(ctx context.Context, key string, data map[string]any) (map[string]any, error) {
	return svc.generic.Put(ctx, key, data)
}

// Patch merges update onto a cargo's current spec.
func (svc *Service) Patch(ctx context.Context, key string, update map[string]any) (map[string]any, error) {
	return svc.generic.Patch(ctx, key, update)
}

// Delete marks a cargo for teardown.
func (svc *Service) Delete(ctx context.Context, key string, force bool) (map[string]any, error) {
	return svc.generic.Delete(ctx, key, force)
}

// Inspect returns a cargo's current row, spec and instance count.
func (svc *Service) Inspect(ctx context.Context, key string) (map[string]any, error) {
	return svc.generic.Inspect(ctx, key)
}

// List returns cargoes matching f.
func (svc *Service) List(ctx context.Context, f *store.Filter) ([]*types.Cargo, error) {
	return svc.store.ListCargoes(ctx, f)
}

// Revert appends the payload of a prior spec history row as the newest
// row for key.
func (svc *Service) Revert(ctx context.Context, key, historyID string) (map[string]any, error) {
	if _, err := svc.store.GetCargo(ctx, key); err != nil {
		return nil, err
	}
	spec, err := svc.specs.Revert(ctx, "Cargo", key, historyID)
	if err != nil {
		return nil, err
	}
	c, err := svc.store.GetCargo(ctx, key)
	if err != nil {
		return nil, err
	}
	c.SpecID, c.UpdatedAt = spec.ID, time.Now()
	if err := svc.store.CreateCargo(ctx, c); err != nil {
		return nil, err
	}
	if err := svc.generic.EmitUpdating(ctx, key); err != nil {
		return nil, ferr.Backend(err, "persisting update event after revert for %s", key)
	}
	return toOutput(c, spec, 0), nil
}

// History lists spec rows for key ordered by created_at DESC.
func (svc *Service) History(ctx context.Context, key string, f *store.Filter) ([]*types.Spec, error) {
	return svc.specs.ListByKindKey(ctx, key, f)
}
