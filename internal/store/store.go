// Package store defines the repository contract used by every component
// that needs durable state, plus a generic Filter DSL, a GORM/Postgres
// backing implementation and an in-memory fake for tests.
package store

import (
	"context"

	"github.com/cuemby/fleetd/internal/types"
)

// Store is the repository contract. Each method group corresponds to one
// entity kind; CreateX upserts, GetX/ListX read, DeleteX removes.
type Store interface {
	CreateNamespace(ctx context.Context, ns *types.Namespace) error
	GetNamespace(ctx context.Context, name string) (*types.Namespace, error)
	ListNamespaces(ctx context.Context, f *Filter) ([]*types.Namespace, error)
	DeleteNamespace(ctx context.Context, name string) error

	CreateCargo(ctx context.Context, c *types.Cargo) error
	GetCargo(ctx context.Context, key string) (*types.Cargo, error)
	ListCargoes(ctx context.Context, f *Filter) ([]*types.Cargo, error)
	DeleteCargo(ctx context.Context, key string) error

	CreateVm(ctx context.Context, v *types.Vm) error
	GetVm(ctx context.Context, key string) (*types.Vm, error)
	ListVms(ctx context.Context, f *Filter) ([]*types.Vm, error)
	DeleteVm(ctx context.Context, key string) error

	CreateJob(ctx context.Context, j *types.Job) error
	GetJob(ctx context.Context, key string) (*types.Job, error)
	ListJobs(ctx context.Context, f *Filter) ([]*types.Job, error)
	DeleteJob(ctx context.Context, key string) error

	CreateResourceKind(ctx context.Context, k *types.ResourceKind) error
	GetResourceKind(ctx context.Context, key string) (*types.ResourceKind, error)
	ListResourceKinds(ctx context.Context, f *Filter) ([]*types.ResourceKind, error)
	DeleteResourceKind(ctx context.Context, key string) error

	CreateResource(ctx context.Context, r *types.Resource) error
	GetResource(ctx context.Context, key string) (*types.Resource, error)
	ListResources(ctx context.Context, f *Filter) ([]*types.Resource, error)
	DeleteResource(ctx context.Context, key string) error

	CreateSecret(ctx context.Context, s *types.Secret) error
	GetSecret(ctx context.Context, key string) (*types.Secret, error)
	ListSecrets(ctx context.Context, f *Filter) ([]*types.Secret, error)
	DeleteSecret(ctx context.Context, key string) error

	CreateNode(ctx context.Context, n *types.Node) error
	GetNode(ctx context.Context, name string) (*types.Node, error)
	ListNodes(ctx context.Context, f *Filter) ([]*types.Node, error)
	DeleteNode(ctx context.Context, name string) error

	// AppendSpec inserts a new immutable spec row; it never updates.
	AppendSpec(ctx context.Context, s *types.Spec) error
	GetSpec(ctx context.Context, id string) (*types.Spec, error)
	// GetCurrentSpec returns the most recently appended spec for kindKey.
	GetCurrentSpec(ctx context.Context, kindKey string) (*types.Spec, error)
	ListSpecHistory(ctx context.Context, kindKey string, f *Filter) ([]*types.Spec, error)
	// DeleteSpecsByKindKey removes every spec row for kindKey, for kinds
	// whose delete cascades history (e.g. ResourceKind).
	DeleteSpecsByKindKey(ctx context.Context, kindKey string) error

	PutProcess(ctx context.Context, p *types.Process) error
	GetProcess(ctx context.Context, key string) (*types.Process, error)
	ListProcesses(ctx context.Context, f *Filter) ([]*types.Process, error)
	DeleteProcess(ctx context.Context, key string) error

	PutProcessStatus(ctx context.Context, s *types.ProcessStatus) error
	GetProcessStatus(ctx context.Context, key string) (*types.ProcessStatus, error)
	ListProcessStatuses(ctx context.Context, f *Filter) ([]*types.ProcessStatus, error)

	PutMetric(ctx context.Context, m *types.Metric) error
	ListMetrics(ctx context.Context, f *Filter) ([]*types.Metric, error)
	DeleteExpiredMetrics(ctx context.Context) (int64, error)

	AppendEvent(ctx context.Context, e *types.Event) error
	ListEvents(ctx context.Context, f *Filter) ([]*types.Event, error)

	Close() error
}
