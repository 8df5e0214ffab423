package store

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/fleetd/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSpecHistoryIsAppendOnly(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.AppendSpec(ctx, &types.Spec{
		KindKey:   "web.default",
		KindName:  "Cargo",
		Version:   "v0.1",
		CreatedAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, s.AppendSpec(ctx, &types.Spec{
		KindKey:   "web.default",
		KindName:  "Cargo",
		Version:   "v0.2",
		CreatedAt: time.Now(),
	}))

	history, err := s.ListSpecHistory(ctx, "web.default", nil)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	current, err := s.GetCurrentSpec(ctx, "web.default")
	require.NoError(t, err)
	assert.Equal(t, "v0.2", current.Version)
}

func TestMemoryStoreGetCargoNotFound(t *testing.T) {
	s := NewMemory()
	_, err := s.GetCargo(context.Background(), "missing.default")
	require.Error(t, err)
}

func TestMemoryStoreListCargoesFiltersByNamespace(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.CreateCargo(ctx, &types.Cargo{Key: "web.default", Name: "web", Namespace: "default"}))
	require.NoError(t, s.CreateCargo(ctx, &types.Cargo{Key: "api.staging", Name: "api", Namespace: "staging"}))

	tests := []struct {
		name     string
		filter   *Filter
		expected int
	}{
		{name: "no filter", filter: nil, expected: 2},
		{name: "namespace default", filter: New().Eq("namespace", "default"), expected: 1},
		{name: "namespace missing", filter: New().Eq("namespace", "prod"), expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := s.ListCargoes(ctx, tt.filter)
			require.NoError(t, err)
			assert.Len(t, out, tt.expected)
		})
	}
}

func TestMemoryStoreListJobsFiltersByName(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.CreateJob(ctx, &types.Job{Key: "backup", Name: "backup"}))
	require.NoError(t, s.CreateJob(ctx, &types.Job{Key: "cleanup", Name: "cleanup"}))

	out, err := s.ListJobs(ctx, New().Eq("name", "backup"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "backup", out[0].Name)
}

func TestMemoryStoreListResourceKindsFiltersByDomain(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.CreateResourceKind(ctx, &types.ResourceKind{Key: "acme.io/gateway", Domain: "acme.io", Name: "gateway"}))
	require.NoError(t, s.CreateResourceKind(ctx, &types.ResourceKind{Key: "other.io/route", Domain: "other.io", Name: "route"}))

	out, err := s.ListResourceKinds(ctx, New().Eq("domain", "acme.io"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "gateway", out[0].Name)
}

func TestMemoryStoreListSecretsFiltersByKind(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.CreateSecret(ctx, &types.Secret{Key: "tls-cert", Kind: "tls"}))
	require.NoError(t, s.CreateSecret(ctx, &types.Secret{Key: "db-pass", Kind: "generic"}))

	out, err := s.ListSecrets(ctx, New().Eq("kind", "tls"))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "tls-cert", out[0].Key)
}

func TestMemoryStoreDeleteExpiredMetrics(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	require.NoError(t, s.PutMetric(ctx, &types.Metric{Node: "n1", Kind: "cpu", ExpireAt: time.Now().Add(-time.Hour)}))
	require.NoError(t, s.PutMetric(ctx, &types.Metric{Node: "n1", Kind: "cpu", ExpireAt: time.Now().Add(time.Hour)}))

	removed, err := s.DeleteExpiredMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	remaining, err := s.ListMetrics(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}
