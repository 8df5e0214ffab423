// Package vm implements the lifecycle hooks for Vm, a virtual machine
// (disk image + host config) managed as a container-adjacent workload.
package vm

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

// Service implements the five lifecycle hooks for Vm.
type Service struct {
	generic *lifecycle.Generic
	store   store.Store
	specs   *spechistory.Service
}

// New builds the Vm lifecycle service.
func New(s store.Store, specs *spechistory.Service, bus *eventbus.Bus) *Service {
	svc := &Service{store: s, specs: specs}
	svc.generic = lifecycle.New("Vm", lifecycle.Hooks{
		Create:  svc.fnCreate,
		Put:     svc.fnPut,
		Patch:   svc.fnPatch,
		Delete:  svc.fnDelete,
		Inspect: svc.fnInspect,
	}, bus)
	return svc
}

func diskImage(data map[string]any) string {
	disk, ok := data["disk"].(map[string]any)
	if !ok {
		return ""
	}
	image, _ := disk["image"].(string)
	return image
}

func (svc *Service) fnCreate(ctx context.Context, data map[string]any) (string, map[string]any, error) {
	name, _ := data["name"].(string)
	if err := lifecycle.ValidateName(name); err != nil {
		return "", nil, err
	}
	ns := namespace.Resolve(stringField(data, "namespace"))
	key := lifecycle.Key(name, ns)

	if _, err := svc.store.GetVm(ctx, key); err == nil {
		return "", nil, ferr.Conflict("vm %q already exists in namespace %q", name, ns)
	} else if !ferr.Is(err, ferr.CodeNotFound) {
		return "", nil, err
	}

	now := time.Now()
	v := &types.Vm{Key: key, Name: name, Namespace: ns, DiskImage: diskImage(data), CreatedAt: now, UpdatedAt: now}

	spec, err := svc.specs.Append(ctx, "Vm", key, "v1", data, nil)
	if err != nil {
		return "", nil, ferr.Backend(err, "appending initial vm spec for %s", key)
	}
	v.SpecID = spec.ID

	if err := svc.store.CreateVm(ctx, v); err != nil {
		return "", nil, err
	}
	return key, toOutput(v, spec, 0), nil
}

func (svc *Service) fnPut(ctx context.Context, key string, data map[string]any) (map[string]any, error) {
	v, err := svc.store.GetVm(ctx, key)
	if err != nil {
		return nil, err
	}
	spec, err := svc.specs.Put(ctx, "Vm", key, data, nil)
	if err != nil {
		return nil, ferr.Backend(err, "replacing vm spec for %s", key)
	}
	v.SpecID, v.UpdatedAt = spec.ID, time.Now()
	if img := diskImage(data); img != "" {
		v.DiskImage = img
	}
	if err := svc.store.CreateVm(ctx, v); err != nil {
		return nil, err
	}
	return toOutput(v, spec, 0), nil
}

func (svc *Service) fnPatch(ctx context.Context, key string, update map[string]any) (map[string]any, error) {
	v, err := svc.store.GetVm(ctx, key)
	if err != nil {
		return nil, err
	}
	spec, err := svc.specs.Patch(ctx, "Vm", key, update, nil)
	if err != nil {
		return nil, ferr.Backend(err, "patching vm spec for %s", key)
	}
	v.SpecID, v.UpdatedAt = spec.ID, time.Now()
	if img := diskImage(spec.Data); img != "" {
		v.DiskImage = img
	}
	if err := svc.store.CreateVm(ctx, v); err != nil {
		return nil, err
	}
	return toOutput(v, spec, 0), nil
}

// fnDelete marks every known process of this vm wanted=deleted; like
// Cargo, the reconciler performs the actual teardown and removes the
// Vm row and its spec history once it observes the Delete event.
func (svc *Service) fnDelete(ctx context.Context, key string, _ bool) (map[string]any, error) {
	v, err := svc.store.GetVm(ctx, key)
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
	return toOutput(v, nil, len(procs)), nil
}

func (svc *Service) fnInspect(ctx context.Context, key string) (map[string]any, error) {
	v, err := svc.store.GetVm(ctx, key)
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
	return toOutput(v, spec, len(procs)), nil
}

func toOutput(v *types.Vm, spec *types.Spec, instanceCount int) map[string]any {
	out := map[string]any{
		"key":            v.Key,
		"name":           v.Name,
		"namespace":      v.Namespace,
		"disk_image":     v.DiskImage,
		"created_at":     v.CreatedAt,
		"updated_at":     v.UpdatedAt,
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

// Create validates and persists a new vm.
func (svc *Service) Create(ctx context.Context, data map[string]any) (map[string]any, error) {
	_, out, err := svc.generic.Create(ctx, data)
	return out, err
}

// Put replaces a vm's whole spec.
func (svc *Service) Put(ctx context.Context, key string, data map[string]any) (map[string]any, error) {
	return svc.generic.Put(ctx, key, data)
}

// Patch merges update onto a vm's current spec.
func (svc *Service) Patch(ctx context.Context, key string, update map[string]any) (map[string]any, error) {
	return svc.generic.Patch(ctx, key, update)
}

// Delete marks a vm for teardown.
func (svc *Service) Delete(ctx context.Context, key string, force bool) (map[string]any, error) {
	return svc.generic.Delete(ctx, key, force)
}

// Inspect returns a vm's current row, spec and instance count.
func (svc *Service) Inspect(ctx context.Context, key string) (map[string]any, error) {
	return svc.generic.Inspect(ctx, key)
}

// List returns vms matching f.
func (svc *Service) List(ctx context.Context, f *store.Filter) ([]*types.Vm, error) {
	return svc.store.ListVms(ctx, f)
}

// Revert appends the payload of a prior spec history row as the newest
// row for key.
func (svc *Service) Revert(ctx context.Context, key, historyID string) (map[string]any, error) {
	if _, err := svc.store.GetVm(ctx, key); err != nil {
		return nil, err
	}
	spec, err := svc.specs.Revert(ctx, "Vm", key, historyID)
	if err != nil {
		return nil, err
	}
	v, err := svc.store.GetVm(ctx, key)
	if err != nil {
		return nil, err
	}
	v.SpecID, v.UpdatedAt = spec.ID, time.Now()
	if img := diskImage(spec.Data); img != "" {
		v.DiskImage = img
	}
	if err := svc.store.CreateVm(ctx, v); err != nil {
		return nil, err
	}
	if err := svc.generic.EmitUpdating(ctx, key); err != nil {
		return nil, ferr.Backend(err, "persisting update event after revert for %s", key)
	}
	return toOutput(v, spec, 0), nil
}

// History lists spec rows for key ordered by created_at DESC.
func (svc *Service) History(ctx context.Context, key string, f *store.Filter) ([]*types.Spec, error) {
	return svc.specs.ListByKindKey(ctx, key, f)
}
