// Package resource implements the lifecycle hooks for Resource, a
// pluggable object (proxy rule, DNS rule, ...) validated against its
// ResourceKind's schema and forwarded to the kind's controller webhook.
package resource

import (
	"context"
	"time"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/lifecycle"
	"github.com/cuemby/fleetd/internal/lifecycle/resourcekind"
	"github.com/cuemby/fleetd/internal/spechistory"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
)

// Service implements the five lifecycle hooks for Resource.
type Service struct {
	generic  *lifecycle.Generic
	store    store.Store
	specs    *spechistory.Service
	kinds    *resourcekind.Service
	notifier *resourcekind.Notifier
}

// New builds the Resource lifecycle service.
func New(s store.Store, specs *spechistory.Service, kinds *resourcekind.Service, notifier *resourcekind.Notifier, bus *eventbus.Bus) *Service {
	svc := &Service{store: s, specs: specs, kinds: kinds, notifier: notifier}
	svc.generic = lifecycle.New("Resource", lifecycle.Hooks{
		Create:  svc.fnCreate,
		Put:     svc.fnPut,
		Delete:  svc.fnDelete,
		Inspect: svc.fnInspect,
	}, bus)
	return svc
}

func (svc *Service) validate(ctx context.Context, kindKey string, data map[string]any) error {
	schema, err := svc.kinds.Schema(ctx, kindKey)
	if err != nil {
		return ferr.Invalid("resource kind %q is not registered", kindKey)
	}
	if err := schema.Validate(data); err != nil {
		return ferr.Invalid("resource data invalid for kind %q: %v", kindKey, err)
	}
	return nil
}

func (svc *Service) notify(ctx context.Context, kindKey, name string, data map[string]any) {
	endpoint, err := svc.kinds.Endpoint(ctx, kindKey)
	if err != nil || endpoint == "" {
		return
	}
	_ = svc.notifier.NotifyPut(ctx, endpoint, data)
}

func (svc *Service) fnCreate(ctx context.Context, data map[string]any) (string, map[string]any, error) {
	name, _ := data["name"].(string)
	kindKey, _ := data["kind_key"].(string)
	if err := lifecycle.ValidateName(name); err != nil {
		return "", nil, err
	}
	if kindKey == "" {
		return "", nil, ferr.Invalid("resource %q: kind_key is required", name)
	}
	if err := svc.validate(ctx, kindKey, data); err != nil {
		return "", nil, err
	}
	key := name

	if _, err := svc.store.GetResource(ctx, key); err == nil {
		return "", nil, ferr.Conflict("resource %q already exists", name)
	} else if !ferr.Is(err, ferr.CodeNotFound) {
		return "", nil, err
	}

	now := time.Now()
	r := &types.Resource{Key: key, Name: name, KindKey: kindKey, CreatedAt: now, UpdatedAt: now}

	spec, err := svc.specs.Append(ctx, "Resource", key, "v1", data, nil)
	if err != nil {
		return "", nil, ferr.Backend(err, "appending initial resource spec for %s", key)
	}
	r.SpecID = spec.ID

	if err := svc.store.CreateResource(ctx, r); err != nil {
		return "", nil, err
	}
	svc.notify(ctx, kindKey, name, data)
	return key, toOutput(r, spec), nil
}

func (svc *Service) fnPut(ctx context.Context, key string, data map[string]any) (map[string]any, error) {
	r, err := svc.store.GetResource(ctx, key)
	if err != nil {
		return nil, err
	}
	kindKey := r.KindKey
	if override, _ := data["kind_key"].(string); override != "" {
		kindKey = override
	}
	if err := svc.validate(ctx, kindKey, data); err != nil {
		return nil, err
	}
	spec, err := svc.specs.Put(ctx, "Resource", key, data, nil)
	if err != nil {
		return nil, ferr.Backend(err, "replacing resource spec for %s", key)
	}
	r.SpecID, r.UpdatedAt, r.KindKey = spec.ID, time.Now(), kindKey
	if err := svc.store.CreateResource(ctx, r); err != nil {
		return nil, err
	}
	svc.notify(ctx, kindKey, r.Name, data)
	return toOutput(r, spec), nil
}

// fnDelete removes the row and notifies the controller; Resource has no
// reconciler involvement, so the delete is immediate.
func (svc *Service) fnDelete(ctx context.Context, key string, _ bool) (map[string]any, error) {
	r, err := svc.store.GetResource(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := svc.store.DeleteResource(ctx, key); err != nil {
		return nil, err
	}
	if endpoint, err := svc.kinds.Endpoint(ctx, r.KindKey); err == nil && endpoint != "" {
		_ = svc.notifier.NotifyDelete(ctx, endpoint, r.Name)
	}
	return toOutput(r, nil), nil
}

func (svc *Service) fnInspect(ctx context.Context, key string) (map[string]any, error) {
	r, err := svc.store.GetResource(ctx, key)
	if err != nil {
		return nil, err
	}
	spec, err := svc.specs.Current(ctx, key)
	if err != nil {
		return nil, err
	}
	return toOutput(r, spec), nil
}

func toOutput(r *types.Resource, spec *types.Spec) map[string]any {
	out := map[string]any{
		"key":        r.Key,
		"name":       r.Name,
		"kind_key":   r.KindKey,
		"created_at": r.CreatedAt,
		"updated_at": r.UpdatedAt,
	}
	if spec != nil {
		out["spec"] = spec.Data
		out["spec_version"] = spec.Version
	}
	return out
}

// Create validates against the resource's kind schema and persists it.
func (svc *Service) Create(ctx context.Context, data map[string]any) (map[string]any, error) {
	_, out, err := svc.generic.Create(ctx, data)
	return out, err
}

// Put replaces a resource's whole spec, revalidating against the schema.
func (svc *Service) Put(ctx context.Context, key string, data map[string]any) (map[string]any, error) {
	return svc.generic.Put(ctx, key, data)
}

// Delete removes a resource and notifies its controller.
func (svc *Service) Delete(ctx context.Context, key string, force bool) (map[string]any, error) {
	return svc.generic.Delete(ctx, key, force)
}

// Inspect returns a resource's current row and spec.
func (svc *Service) Inspect(ctx context.Context, key string) (map[string]any, error) {
	return svc.generic.Inspect(ctx, key)
}

// List returns resources matching f.
func (svc *Service) List(ctx context.Context, f *store.Filter) ([]*types.Resource, error) {
	return svc.store.ListResources(ctx, f)
}
