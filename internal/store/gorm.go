package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/types"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore is the Postgres-backed Store implementation.
type GormStore struct {
	db *gorm.DB
}

// Open connects to Postgres at dsn, runs AutoMigrate for every model and
// returns a ready GormStore.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrapping sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(
		&types.Namespace{},
		&types.Cargo{},
		&types.Vm{},
		&types.Job{},
		&types.ResourceKind{},
		&types.Resource{},
		&types.Secret{},
		&types.Spec{},
		&types.Node{},
		&types.Process{},
		&types.ProcessStatus{},
		&types.Metric{},
		&types.Event{},
	); err != nil {
		return nil, fmt.Errorf("running automigrate: %w", err)
	}

	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(kind, key string) error {
	return ferr.NotFound("%s %q not found", kind, key)
}

func (s *GormStore) CreateNamespace(ctx context.Context, ns *types.Namespace) error {
	return s.db.WithContext(ctx).Save(ns).Error
}

func (s *GormStore) GetNamespace(ctx context.Context, name string) (*types.Namespace, error) {
	var out types.Namespace
	if err := s.db.WithContext(ctx).First(&out, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("namespace", name)
		}
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) ListNamespaces(ctx context.Context, f *Filter) ([]*types.Namespace, error) {
	var out []*types.Namespace
	if err := apply(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteNamespace(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Delete(&types.Namespace{}, "name = ?", name).Error
}

func (s *GormStore) CreateCargo(ctx context.Context, c *types.Cargo) error {
	return s.db.WithContext(ctx).Save(c).Error
}

func (s *GormStore) GetCargo(ctx context.Context, key string) (*types.Cargo, error) {
	var out types.Cargo
	if err := s.db.WithContext(ctx).First(&out, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("cargo", key)
		}
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) ListCargoes(ctx context.Context, f *Filter) ([]*types.Cargo, error) {
	var out []*types.Cargo
	if err := apply(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteCargo(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&types.Cargo{}, "key = ?", key).Error
}

func (s *GormStore) CreateVm(ctx context.Context, v *types.Vm) error {
	return s.db.WithContext(ctx).Save(v).Error
}

func (s *GormStore) GetVm(ctx context.Context, key string) (*types.Vm, error) {
	var out types.Vm
	if err := s.db.WithContext(ctx).First(&out, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("vm", key)
		}
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) ListVms(ctx context.Context, f *Filter) ([]*types.Vm, error) {
	var out []*types.Vm
	if err := apply(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteVm(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&types.Vm{}, "key = ?", key).Error
}

func (s *GormStore) CreateJob(ctx context.Context, j *types.Job) error {
	return s.db.WithContext(ctx).Save(j).Error
}

func (s *GormStore) GetJob(ctx context.Context, key string) (*types.Job, error) {
	var out types.Job
	if err := s.db.WithContext(ctx).First(&out, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("job", key)
		}
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) ListJobs(ctx context.Context, f *Filter) ([]*types.Job, error) {
	var out []*types.Job
	if err := apply(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteJob(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&types.Job{}, "key = ?", key).Error
}

func (s *GormStore) CreateResourceKind(ctx context.Context, k *types.ResourceKind) error {
	return s.db.WithContext(ctx).Save(k).Error
}

func (s *GormStore) GetResourceKind(ctx context.Context, key string) (*types.ResourceKind, error) {
	var out types.ResourceKind
	if err := s.db.WithContext(ctx).First(&out, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("resourcekind", key)
		}
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) ListResourceKinds(ctx context.Context, f *Filter) ([]*types.ResourceKind, error) {
	var out []*types.ResourceKind
	if err := apply(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteResourceKind(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&types.ResourceKind{}, "key = ?", key).Error
}

func (s *GormStore) CreateResource(ctx context.Context, r *types.Resource) error {
	return s.db.WithContext(ctx).Save(r).Error
}

func (s *GormStore) GetResource(ctx context.Context, key string) (*types.Resource, error) {
	var out types.Resource
	if err := s.db.WithContext(ctx).First(&out, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("resource", key)
		}
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) ListResources(ctx context.Context, f *Filter) ([]*types.Resource, error) {
	var out []*types.Resource
	if err := apply(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteResource(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&types.Resource{}, "key = ?", key).Error
}

func (s *GormStore) CreateSecret(ctx context.Context, sec *types.Secret) error {
	return s.db.WithContext(ctx).Save(sec).Error
}

func (s *GormStore) GetSecret(ctx context.Context, key string) (*types.Secret, error) {
	var out types.Secret
	if err := s.db.WithContext(ctx).First(&out, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("secret", key)
		}
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) ListSecrets(ctx context.Context, f *Filter) ([]*types.Secret, error) {
	var out []*types.Secret
	if err := apply(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteSecret(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&types.Secret{}, "key = ?", key).Error
}

func (s *GormStore) CreateNode(ctx context.Context, n *types.Node) error {
	return s.db.WithContext(ctx).Save(n).Error
}

func (s *GormStore) GetNode(ctx context.Context, name string) (*types.Node, error) {
	var out types.Node
	if err := s.db.WithContext(ctx).First(&out, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("node", name)
		}
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) ListNodes(ctx context.Context, f *Filter) ([]*types.Node, error) {
	var out []*types.Node
	if err := apply(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteNode(ctx context.Context, name string) error {
	return s.db.WithContext(ctx).Delete(&types.Node{}, "name = ?", name).Error
}

// AppendSpec inserts a new spec row. Existing rows for the same kind_key
// are never touched; spec history is append-only.
func (s *GormStore) AppendSpec(ctx context.Context, spec *types.Spec) error {
	return s.db.WithContext(ctx).Create(spec).Error
}

func (s *GormStore) GetSpec(ctx context.Context, id string) (*types.Spec, error) {
	var out types.Spec
	if err := s.db.WithContext(ctx).First(&out, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("spec", id)
		}
		return nil, err
	}
	return &out, nil
}

// GetCurrentSpec returns the newest spec row for kindKey using a
// DISTINCT ON (kind_key) window over created_at, mirroring the upstream
// "current spec" read path.
func (s *GormStore) GetCurrentSpec(ctx context.Context, kindKey string) (*types.Spec, error) {
	var out types.Spec
	err := s.db.WithContext(ctx).
		Raw(`SELECT DISTINCT ON (kind_key) * FROM specs WHERE kind_key = ? ORDER BY kind_key, created_at DESC`, kindKey).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, notFound("spec", kindKey)
	}
	return &out, nil
}

func (s *GormStore) ListSpecHistory(ctx context.Context, kindKey string, f *Filter) ([]*types.Spec, error) {
	var out []*types.Spec
	db := s.db.WithContext(ctx).Where("kind_key = ?", kindKey).Order("created_at DESC")
	if err := apply(db, f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSpecsByKindKey removes every spec row for kindKey.
func (s *GormStore) DeleteSpecsByKindKey(ctx context.Context, kindKey string) error {
	return s.db.WithContext(ctx).Where("kind_key = ?", kindKey).Delete(&types.Spec{}).Error
}

func (s *GormStore) PutProcess(ctx context.Context, p *types.Process) error {
	return s.db.WithContext(ctx).Save(p).Error
}

func (s *GormStore) GetProcess(ctx context.Context, key string) (*types.Process, error) {
	var out types.Process
	if err := s.db.WithContext(ctx).First(&out, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("process", key)
		}
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) ListProcesses(ctx context.Context, f *Filter) ([]*types.Process, error) {
	var out []*types.Process
	if err := apply(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteProcess(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Delete(&types.Process{}, "key = ?", key).Error
}

func (s *GormStore) PutProcessStatus(ctx context.Context, st *types.ProcessStatus) error {
	return s.db.WithContext(ctx).Save(st).Error
}

func (s *GormStore) GetProcessStatus(ctx context.Context, key string) (*types.ProcessStatus, error) {
	var out types.ProcessStatus
	if err := s.db.WithContext(ctx).First(&out, "key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFound("processstatus", key)
		}
		return nil, err
	}
	return &out, nil
}

func (s *GormStore) ListProcessStatuses(ctx context.Context, f *Filter) ([]*types.ProcessStatus, error) {
	var out []*types.ProcessStatus
	if err := apply(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) PutMetric(ctx context.Context, m *types.Metric) error {
	return s.db.WithContext(ctx).Create(m).Error
}

func (s *GormStore) ListMetrics(ctx context.Context, f *Filter) ([]*types.Metric, error) {
	var out []*types.Metric
	if err := apply(s.db.WithContext(ctx), f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GormStore) DeleteExpiredMetrics(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("expire_at < ?", time.Now()).Delete(&types.Metric{})
	return res.RowsAffected, res.Error
}

func (s *GormStore) AppendEvent(ctx context.Context, e *types.Event) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *GormStore) ListEvents(ctx context.Context, f *Filter) ([]*types.Event, error) {
	var out []*types.Event
	db := s.db.WithContext(ctx).Order("created_at DESC")
	if err := apply(db, f).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
