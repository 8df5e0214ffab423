// Package secret implements the lifecycle hooks for Secret, an opaque
// encrypted payload referenced by name from Cargo/Job/Vm specs. Secret
// supports Create/Patch/Delete only: plaintext is never read back once
// sealed, so there is no Put (whole replace) or Inspect of its data.
package secret

import (
	"context"
	"time"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/lifecycle"
	"github.com/cuemby/fleetd/internal/security"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
)

// Service implements Secret's lifecycle hooks around a security.Manager.
type Service struct {
	generic *lifecycle.Generic
	store   store.Store
	crypto  *security.Manager
}

// New builds the Secret lifecycle service.
func New(s store.Store, crypto *security.Manager, bus *eventbus.Bus) *Service {
	svc := &Service{store: s, crypto: crypto}
	svc.generic = lifecycle.New("Secret", lifecycle.Hooks{
		Create:  svc.fnCreate,
		Patch:   svc.fnPatch,
		Delete:  svc.fnDelete,
		Inspect: svc.fnInspect,
	}, bus)
	return svc
}

func stringField(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

func metadataField(data map[string]any) map[string]string {
	raw, ok := data["metadata"].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func (svc *Service) fnCreate(ctx context.Context, data map[string]any) (string, map[string]any, error) {
	name, _ := data["name"].(string)
	if err := lifecycle.ValidateName(name); err != nil {
		return "", nil, err
	}
	key := name

	if _, err := svc.store.GetSecret(ctx, key); err == nil {
		return "", nil, ferr.Conflict("secret %q already exists", name)
	} else if !ferr.Is(err, ferr.CodeNotFound) {
		return "", nil, err
	}

	plaintext := stringField(data, "data")
	if plaintext == "" {
		return "", nil, ferr.Invalid("secret %q: data cannot be empty", name)
	}
	kind := stringField(data, "kind")

	sec, err := svc.crypto.Seal(key, kind, []byte(plaintext), metadataField(data))
	if err != nil {
		return "", nil, ferr.Backend(err, "sealing secret %s", key)
	}
	now := time.Now()
	sec.CreatedAt, sec.UpdatedAt = now, now

	if err := svc.store.CreateSecret(ctx, sec); err != nil {
		return "", nil, err
	}
	return key, toOutput(sec), nil
}

// fnPatch reseals a secret's data and/or merges its metadata; it never
// reads back the previous plaintext, so a data-only patch replaces the
// whole payload rather than merging it.
func (svc *Service) fnPatch(ctx context.Context, key string, update map[string]any) (map[string]any, error) {
	sec, err := svc.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	if plaintext := stringField(update, "data"); plaintext != "" {
		encrypted, err := svc.crypto.Encrypt([]byte(plaintext))
		if err != nil {
			return nil, ferr.Backend(err, "resealing secret %s", key)
		}
		sec.Data = encrypted
	}
	if kind := stringField(update, "kind"); kind != "" {
		sec.Kind = kind
	}
	if meta := metadataField(update); meta != nil {
		if sec.Metadata == nil {
			sec.Metadata = map[string]string{}
		}
		for k, v := range meta {
			sec.Metadata[k] = v
		}
	}
	sec.UpdatedAt = time.Now()
	if err := svc.store.CreateSecret(ctx, sec); err != nil {
		return nil, err
	}
	return toOutput(sec), nil
}

// fnDelete removes the secret row outright; secrets have no history and
// nothing to reconcile, so deletion is immediate rather than
// tombstone-then-teardown.
func (svc *Service) fnDelete(ctx context.Context, key string, _ bool) (map[string]any, error) {
	sec, err := svc.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := svc.store.DeleteSecret(ctx, key); err != nil {
		return nil, err
	}
	return toOutput(sec), nil
}

func (svc *Service) fnInspect(ctx context.Context, key string) (map[string]any, error) {
	sec, err := svc.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	return toOutput(sec), nil
}

func toOutput(sec *types.Secret) map[string]any {
	return map[string]any{
		"key":        sec.Key,
		"kind":       sec.Kind,
		"metadata":   sec.Metadata,
		"created_at": sec.CreatedAt,
		"updated_at": sec.UpdatedAt,
	}
}

// Create seals and persists a new secret; its plaintext never appears
// in the returned summary.
func (svc *Service) Create(ctx context.Context, data map[string]any) (map[string]any, error) {
	_, out, err := svc.generic.Create(ctx, data)
	return out, err
}

// Patch reseals data and/or merges metadata onto an existing secret.
func (svc *Service) Patch(ctx context.Context, key string, update map[string]any) (map[string]any, error) {
	return svc.generic.Patch(ctx, key, update)
}

// Delete removes a secret.
func (svc *Service) Delete(ctx context.Context, key string, force bool) (map[string]any, error) {
	return svc.generic.Delete(ctx, key, force)
}

// Inspect returns a secret's metadata, never its plaintext.
func (svc *Service) Inspect(ctx context.Context, key string) (map[string]any, error) {
	return svc.generic.Inspect(ctx, key)
}

// List returns secrets matching f, metadata only.
func (svc *Service) List(ctx context.Context, f *store.Filter) ([]*types.Secret, error) {
	return svc.store.ListSecrets(ctx, f)
}

// Open decrypts and returns a secret's plaintext, for internal use by
// the reconciler when resolving references from Cargo/Job/Vm specs.
// It is never exposed over the HTTP API.
func (svc *Service) Open(ctx context.Context, key string) ([]byte, error) {
	sec, err := svc.store.GetSecret(ctx, key)
	if err != nil {
		return nil, err
	}
	return svc.crypto.Open(sec)
}
