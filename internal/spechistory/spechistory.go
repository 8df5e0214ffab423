// Package spechistory implements the append-only versioned spec log: a
// new row is written for every Create/Put/Patch/Revert, never updated in
// place. A local bbolt bucket durably stages each append before the
// store insert and drops the entry once the insert succeeds. Entries
// left in the bucket by a crash are not replayed: Open only makes sure
// the bucket exists.
package spechistory

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/fleetd/internal/log"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var walBucket = []byte("spec_wal")

// Service is the spec-history repository, backed by store.Store for the
// durable table and a local bbolt database for the write-ahead stage.
type Service struct {
	store store.Store
	db    *bolt.DB
	mu    sync.Mutex
}

// Open opens (creating if absent) the bbolt WAL at boltPath and returns a
// Service bound to s for durable storage.
func Open(s store.Store, boltPath string) (*Service, error) {
	db, err := bolt.Open(boltPath, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening spec wal %s: %w", boltPath, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(walBucket)
		return err
	}); err != nil {
		return nil, fmt.Errorf("creating spec wal bucket: %w", err)
	}
	return &Service{store: s, db: db}, nil
}

func (svc *Service) Close() error {
	return svc.db.Close()
}

func seqKey(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func (svc *Service) stage(spec *types.Spec) (uint64, error) {
	var seq uint64
	payload, err := json.Marshal(spec)
	if err != nil {
		return 0, fmt.Errorf("marshaling spec for wal: %w", err)
	}
	err = svc.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(walBucket)
		seq, _ = b.NextSequence()
		return b.Put(seqKey(seq), payload)
	})
	if err != nil {
		return 0, fmt.Errorf("staging spec in wal: %w", err)
	}
	return seq, nil
}

func (svc *Service) unstage(seq uint64) {
	err := svc.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(walBucket).Delete(seqKey(seq))
	})
	if err != nil {
		log.Errorf("removing wal entry after flush", err)
	}
}

// Append writes a new immutable spec row. kindKey is e.g. "web.default".
func (svc *Service) Append(ctx context.Context, kindName, kindKey, version string, data map[string]any, metadata map[string]string) (*types.Spec, error) {
	svc.mu.Lock()
	defer svc.mu.Unlock()

	spec := &types.Spec{
		ID:        uuid.NewString(),
		KindName:  kindName,
		KindKey:   kindKey,
		Version:   version,
		Data:      data,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	}

	seq, err := svc.stage(spec)
	if err != nil {
		return nil, err
	}

	if err := svc.store.AppendSpec(ctx, spec); err != nil {
		return nil, fmt.Errorf("appending spec %s: %w", kindKey, err)
	}
	svc.unstage(seq)

	return spec, nil
}

// ReadByPK returns the spec row with the given id.
func (svc *Service) ReadByPK(ctx context.Context, id string) (*types.Spec, error) {
	return svc.store.GetSpec(ctx, id)
}

// Current returns the newest spec row for kindKey.
func (svc *Service) Current(ctx context.Context, kindKey string) (*types.Spec, error) {
	return svc.store.GetCurrentSpec(ctx, kindKey)
}

// ListByKindKey returns every spec row for kindKey ordered by created_at DESC.
func (svc *Service) ListByKindKey(ctx context.Context, kindKey string, f *store.Filter) ([]*types.Spec, error) {
	return svc.store.ListSpecHistory(ctx, kindKey, f)
}

// DeleteByKindKey removes every spec row for kindKey, for kinds whose
// delete cascades history: ResourceKind, and Cargo/Vm/Job through the
// reconciler's delete path.
func (svc *Service) DeleteByKindKey(ctx context.Context, kindKey string) error {
	return svc.store.DeleteSpecsByKindKey(ctx, kindKey)
}

// Patch deep-merges update into the current spec's data (nulls preserve,
// present fields override, list fields replace) and appends the merged
// result as a new row.
func (svc *Service) Patch(ctx context.Context, kindName, kindKey string, update map[string]any, metadata map[string]string) (*types.Spec, error) {
	current, err := svc.Current(ctx, kindKey)
	if err != nil {
		return nil, err
	}
	merged := deepMerge(current.Data, update)
	return svc.Append(ctx, kindName, kindKey, nextVersion(current.Version), merged, metadata)
}

// Put replaces the current spec wholesale.
func (svc *Service) Put(ctx context.Context, kindName, kindKey string, data map[string]any, metadata map[string]string) (*types.Spec, error) {
	current, err := svc.Current(ctx, kindKey)
	version := "v1"
	if err == nil {
		version = nextVersion(current.Version)
	}
	return svc.Append(ctx, kindName, kindKey, version, data, metadata)
}

// Revert reads the historical row at id and appends its payload as the
// newest row. History is never rewound, only extended.
func (svc *Service) Revert(ctx context.Context, kindName, kindKey, id string) (*types.Spec, error) {
	historical, err := svc.ReadByPK(ctx, id)
	if err != nil {
		return nil, err
	}
	current, err := svc.Current(ctx, kindKey)
	version := "v1"
	if err == nil {
		version = nextVersion(current.Version)
	}
	return svc.Append(ctx, kindName, kindKey, version, historical.Data, historical.Metadata)
}

func nextVersion(v string) string {
	var n int
	if _, err := fmt.Sscanf(v, "v%d", &n); err != nil {
		return "v1"
	}
	return fmt.Sprintf("v%d", n+1)
}

// deepMerge merges update onto base: nil values in update are dropped
// (base preserved), maps merge recursively, everything else (including
// lists) is replaced wholesale.
func deepMerge(base, update map[string]any) map[string]any {
	out := map[string]any{}
	for k, v := range base {
		out[k] = v
	}
	for k, v := range update {
		if v == nil {
			continue
		}
		if bv, ok := out[k]; ok {
			if bm, ok1 := bv.(map[string]any); ok1 {
				if um, ok2 := v.(map[string]any); ok2 {
					out[k] = deepMerge(bm, um)
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}
