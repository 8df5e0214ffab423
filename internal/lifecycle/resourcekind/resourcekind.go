// Package resourcekind implements the lifecycle hooks for ResourceKind,
// which registers a JSON schema and an optional controller webhook
// endpoint for a family of Resource objects.
//
// No pack repository imports a JSON-schema library, so Schema below is a
// deliberately minimal hand-rolled structural validator: it checks
// presence of required fields and the primitive type of every declared
// field that is present, rather than the full
// JSON Schema vocabulary. See DESIGN.md for the third-party-library
// search this stands in for.
package resourcekind

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/lifecycle"
	"github.com/cuemby/fleetd/internal/spechistory"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
)

// FieldType is a primitive JSON value kind a schema field may require.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeNumber FieldType = "number"
	FieldTypeBool   FieldType = "bool"
	FieldTypeObject FieldType = "object"
	FieldTypeArray  FieldType = "array"
)

// FieldSpec describes one field of a Resource's data payload; Required
// says whether it must be present.
type FieldSpec struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// Schema is the structural validator for one ResourceKind version.
type Schema struct {
	Fields []FieldSpec `json:"fields"`
}

// Validate checks data against s, reporting the first violation.
func (s Schema) Validate(data map[string]any) error {
	for _, f := range s.Fields {
		v, present := data[f.Name]
		if !present {
			if f.Required {
				return fmt.Errorf("missing required field %q", f.Name)
			}
			continue
		}
		if !matchesType(v, f.Type) {
			return fmt.Errorf("field %q must be of type %s", f.Name, f.Type)
		}
	}
	return nil
}

func matchesType(v any, t FieldType) bool {
	switch t {
	case FieldTypeString:
		_, ok := v.(string)
		return ok
	case FieldTypeNumber:
		_, ok := v.(float64)
		return ok
	case FieldTypeBool:
		_, ok := v.(bool)
		return ok
	case FieldTypeObject:
		_, ok := v.(map[string]any)
		return ok
	case FieldTypeArray:
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

func schemaFromData(data map[string]any) (Schema, error) {
	raw, ok := data["schema"].(map[string]any)
	if !ok {
		return Schema{}, nil
	}
	rawFields, _ := raw["fields"].([]any)
	fields := make([]FieldSpec, 0, len(rawFields))
	for _, rf := range rawFields {
		m, ok := rf.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		typ, _ := m["type"].(string)
		required, _ := m["required"].(bool)
		if name == "" {
			return Schema{}, fmt.Errorf("schema field missing name")
		}
		fields = append(fields, FieldSpec{Name: name, Type: FieldType(typ), Required: required})
	}
	return Schema{Fields: fields}, nil
}

// Service implements the five lifecycle hooks for ResourceKind.
type Service struct {
	generic *lifecycle.Generic
	store   store.Store
	specs   *spechistory.Service
}

// New builds the ResourceKind lifecycle service.
func New(s store.Store, specs *spechistory.Service, bus *eventbus.Bus) *Service {
	svc := &Service{store: s, specs: specs}
	svc.generic = lifecycle.New("ResourceKind", lifecycle.Hooks{
		Create:  svc.fnCreate,
		Put:     svc.fnPut,
		Delete:  svc.fnDelete,
		Inspect: svc.fnInspect,
	}, bus)
	return svc
}

func key(domain, name string) string {
	return domain + "/" + name
}

func (svc *Service) fnCreate(ctx context.Context, data map[string]any) (string, map[string]any, error) {
	domain, _ := data["domain"].(string)
	name, _ := data["name"].(string)
	if err := lifecycle.ValidateName(name); err != nil {
		return "", nil, err
	}
	if domain == "" {
		return "", nil, ferr.Invalid("resource kind: domain cannot be empty")
	}
	if _, err := schemaFromData(data); err != nil {
		return "", nil, ferr.Invalid("resource kind %s/%s: %v", domain, name, err)
	}
	k := key(domain, name)

	if _, err := svc.store.GetResourceKind(ctx, k); err == nil {
		return "", nil, ferr.Conflict("resource kind %q already exists", k)
	} else if !ferr.Is(err, ferr.CodeNotFound) {
		return "", nil, err
	}

	now := time.Now()
	rk := &types.ResourceKind{Key: k, Domain: domain, Name: name, Endpoint: stringField(data, "endpoint"), CreatedAt: now, UpdatedAt: now}

	spec, err := svc.specs.Append(ctx, "ResourceKind", k, "v1", data, nil)
	if err != nil {
		return "", nil, ferr.Backend(err, "appending initial resource kind spec for %s", k)
	}
	rk.SpecID = spec.ID

	if err := svc.store.CreateResourceKind(ctx, rk); err != nil {
		return "", nil, err
	}
	return k, toOutput(rk, spec), nil
}

func (svc *Service) fnPut(ctx context.Context, k string, data map[string]any) (map[string]any, error) {
	rk, err := svc.store.GetResourceKind(ctx, k)
	if err != nil {
		return nil, err
	}
	if _, err := schemaFromData(data); err != nil {
		return nil, ferr.Invalid("resource kind %s: %v", k, err)
	}
	spec, err := svc.specs.Put(ctx, "ResourceKind", k, data, nil)
	if err != nil {
		return nil, ferr.Backend(err, "replacing resource kind spec for %s", k)
	}
	rk.SpecID, rk.UpdatedAt = spec.ID, time.Now()
	if endpoint := stringField(data, "endpoint"); endpoint != "" {
		rk.Endpoint = endpoint
	}
	if err := svc.store.CreateResourceKind(ctx, rk); err != nil {
		return nil, err
	}
	return toOutput(rk, spec), nil
}

// fnDelete cascades to spec history ("delete cascades spec
// history") and removes the row; ResourceKind has no reconciler
// involvement, so deletion happens immediately.
func (svc *Service) fnDelete(ctx context.Context, k string, _ bool) (map[string]any, error) {
	rk, err := svc.store.GetResourceKind(ctx, k)
	if err != nil {
		return nil, err
	}
	if err := svc.specs.DeleteByKindKey(ctx, k); err != nil {
		return nil, ferr.Backend(err, "deleting spec history for resource kind %s", k)
	}
	if err := svc.store.DeleteResourceKind(ctx, k); err != nil {
		return nil, err
	}
	return toOutput(rk, nil), nil
}

func (svc *Service) fnInspect(ctx context.Context, k string) (map[string]any, error) {
	rk, err := svc.store.GetResourceKind(ctx, k)
	if err != nil {
		return nil, err
	}
	spec, err := svc.specs.Current(ctx, k)
	if err != nil {
		return nil, err
	}
	return toOutput(rk, spec), nil
}

func toOutput(rk *types.ResourceKind, spec *types.Spec) map[string]any {
	out := map[string]any{
		"key":        rk.Key,
		"domain":     rk.Domain,
		"name":       rk.Name,
		"endpoint":   rk.Endpoint,
		"created_at": rk.CreatedAt,
		"updated_at": rk.UpdatedAt,
	}
	if spec != nil {
		out["spec"] = spec.Data
		out["spec_version"] = spec.Version
	}
	return out
}

func stringField(data map[string]any, k string) string {
	v, _ := data[k].(string)
	return v
}

// Create validates and persists a new resource kind.
func (svc *Service) Create(ctx context.Context, data map[string]any) (map[string]any, error) {
	_, out, err := svc.generic.Create(ctx, data)
	return out, err
}

// Put replaces a resource kind's whole spec.
func (svc *Service) Put(ctx context.Context, k string, data map[string]any) (map[string]any, error) {
	return svc.generic.Put(ctx, k, data)
}

// Delete removes a resource kind and its spec history.
func (svc *Service) Delete(ctx context.Context, k string, force bool) (map[string]any, error) {
	return svc.generic.Delete(ctx, k, force)
}

// Inspect returns a resource kind's current row and spec.
func (svc *Service) Inspect(ctx context.Context, k string) (map[string]any, error) {
	return svc.generic.Inspect(ctx, k)
}

// List returns resource kinds matching f.
func (svc *Service) List(ctx context.Context, f *store.Filter) ([]*types.ResourceKind, error) {
	return svc.store.ListResourceKinds(ctx, f)
}

// Schema returns the current validator for a resource kind, for use by
// the resource package when validating a Resource's data on create/put.
func (svc *Service) Schema(ctx context.Context, k string) (Schema, error) {
	spec, err := svc.specs.Current(ctx, k)
	if err != nil {
		return Schema{}, err
	}
	return schemaFromData(spec.Data)
}

// Endpoint returns the controller webhook base URL for a resource kind,
// empty if none is registered.
func (svc *Service) Endpoint(ctx context.Context, k string) (string, error) {
	rk, err := svc.store.GetResourceKind(ctx, k)
	if err != nil {
		return "", err
	}
	return rk.Endpoint, nil
}
