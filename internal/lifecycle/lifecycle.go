// Package lifecycle implements the generic Create/Put/Patch/Delete/
// Inspect pipeline shared by every top-level kind. Each
// kind supplies five hooks; the generic layer adds validation, conflict
// detection and event emission uniformly around them.
package lifecycle

import (
	"context"
	"fmt"
	"regexp"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/types"
)

// NamePattern is the reserved name grammar.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName rejects names outside the reserved grammar.
func ValidateName(name string) error {
	if name == "" || !NamePattern.MatchString(name) {
		return ferr.Invalid("invalid name %q: must match [A-Za-z0-9_-]+", name)
	}
	return nil
}

// CreateFunc performs the kind-specific create: validate uniqueness,
// persist the object row and its first spec, and return its key.
type CreateFunc func(ctx context.Context, data map[string]any) (key string, out map[string]any, err error)

// PutFunc replaces the whole spec for an existing key.
type PutFunc func(ctx context.Context, key string, data map[string]any) (out map[string]any, err error)

// PatchFunc merges a partial update onto the current spec.
type PatchFunc func(ctx context.Context, key string, update map[string]any) (out map[string]any, err error)

// DeleteFunc marks wanted=deleted and enqueues teardown; it must not
// perform the teardown itself (that's the reconciler's job, triggered by
// the Delete event this package emits).
type DeleteFunc func(ctx context.Context, key string, force bool) (out map[string]any, err error)

// InspectFunc reads the current row, spec, and any derived aggregates.
type InspectFunc func(ctx context.Context, key string) (out map[string]any, err error)

// Hooks is the capability set a concrete kind package provides.
type Hooks struct {
	Create  CreateFunc
	Put     PutFunc
	Patch   PatchFunc
	Delete  DeleteFunc
	Inspect InspectFunc
}

// Generic wraps Hooks with validation and event emission for one kind.
type Generic struct {
	kind  string
	hooks Hooks
	bus   *eventbus.Bus
}

// New returns a Generic lifecycle for kind (e.g. "Cargo"), emitting
// events through bus.
func New(kind string, hooks Hooks, bus *eventbus.Bus) *Generic {
	return &Generic{kind: kind, hooks: hooks, bus: bus}
}

// Create validates, calls fn_create, and emits Create synchronously
// (testable property 4), then asynchronously signals the reconciler
// with an Updating event so the first convergence pass can begin.
func (g *Generic) Create(ctx context.Context, data map[string]any) (string, map[string]any, error) {
	key, out, err := g.hooks.Create(ctx, data)
	if err != nil {
		return "", nil, err
	}

	if err := g.bus.EmitSync(ctx, types.EventKindNormal, types.ActionCreate, types.Actor{Kind: g.kind, Key: key}, "", ""); err != nil {
		return "", nil, ferr.Backend(err, "persisting create event for %s", key)
	}
	g.bus.Emit(types.EventKindNormal, types.ActionUpdating, types.Actor{Kind: g.kind, Key: key}, "", "")
	return key, out, nil
}

// Put replaces the whole spec, writes a new spec history row and emits
// Updating synchronously.
func (g *Generic) Put(ctx context.Context, key string, data map[string]any) (map[string]any, error) {
	out, err := g.hooks.Put(ctx, key, data)
	if err != nil {
		return nil, err
	}
	if err := g.bus.EmitSync(ctx, types.EventKindNormal, types.ActionUpdating, types.Actor{Kind: g.kind, Key: key}, "", ""); err != nil {
		return nil, ferr.Backend(err, "persisting update event for %s", key)
	}
	return out, nil
}

// Patch merges update onto the current spec and emits Updating.
func (g *Generic) Patch(ctx context.Context, key string, update map[string]any) (map[string]any, error) {
	out, err := g.hooks.Patch(ctx, key, update)
	if err != nil {
		return nil, err
	}
	g.bus.Emit(types.EventKindNormal, types.ActionUpdating, types.Actor{Kind: g.kind, Key: key}, "", "")
	return out, nil
}

// Delete marks the object for teardown and emits Delete synchronously
// (testable property 4); the reconciler performs the actual teardown
// once it observes the event.
func (g *Generic) Delete(ctx context.Context, key string, force bool) (map[string]any, error) {
	out, err := g.hooks.Delete(ctx, key, force)
	if err != nil {
		return nil, err
	}
	if err := g.bus.EmitSync(ctx, types.EventKindNormal, types.ActionDelete, types.Actor{Kind: g.kind, Key: key}, "", ""); err != nil {
		return nil, ferr.Backend(err, "persisting delete event for %s", key)
	}
	return out, nil
}

// EmitUpdating signals the reconciler synchronously without going through
// a Put/Patch hook, for operations like Revert that write the new spec
// themselves but still need to trigger reconciliation the same way.
func (g *Generic) EmitUpdating(ctx context.Context, key string) error {
	return g.bus.EmitSync(ctx, types.EventKindNormal, types.ActionUpdating, types.Actor{Kind: g.kind, Key: key}, "", "")
}

// Inspect reads current row + spec + aggregates; it never emits events.
func (g *Generic) Inspect(ctx context.Context, key string) (map[string]any, error) {
	return g.hooks.Inspect(ctx, key)
}

// Key joins a name and namespace the way every namespaced kind does.
func Key(name, namespace string) string {
	if namespace == "" {
		namespace = "global"
	}
	return fmt.Sprintf("%s.%s", name, namespace)
}
