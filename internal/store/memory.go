package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/fleetd/internal/types"
	"github.com/google/uuid"
)

// MemoryStore is an in-process Store used by unit tests. It implements
// the same append-only spec history and upsert semantics as GormStore.
type MemoryStore struct {
	mu sync.RWMutex

	namespaces    map[string]*types.Namespace
	cargoes       map[string]*types.Cargo
	vms           map[string]*types.Vm
	jobs          map[string]*types.Job
	resourceKinds map[string]*types.ResourceKind
	resources     map[string]*types.Resource
	secrets       map[string]*types.Secret
	nodes         map[string]*types.Node
	specs         []*types.Spec
	processes     map[string]*types.Process
	statuses      map[string]*types.ProcessStatus
	metrics       []*types.Metric
	events        []*types.Event
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		namespaces:    map[string]*types.Namespace{},
		cargoes:       map[string]*types.Cargo{},
		vms:           map[string]*types.Vm{},
		jobs:          map[string]*types.Job{},
		resourceKinds: map[string]*types.ResourceKind{},
		resources:     map[string]*types.Resource{},
		secrets:       map[string]*types.Secret{},
		nodes:         map[string]*types.Node{},
		processes:     map[string]*types.Process{},
		statuses:      map[string]*types.ProcessStatus{},
	}
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) CreateNamespace(_ context.Context, ns *types.Namespace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ns
	s.namespaces[ns.Name] = &cp
	return nil
}

func (s *MemoryStore) GetNamespace(_ context.Context, name string) (*types.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.namespaces[name]
	if !ok {
		return nil, notFoundMem("namespace", name)
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) ListNamespaces(_ context.Context, f *Filter) ([]*types.Namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Namespace
	for _, v := range s.namespaces {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteNamespace(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, name)
	return nil
}

func (s *MemoryStore) CreateCargo(_ context.Context, c *types.Cargo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.cargoes[c.Key] = &cp
	return nil
}

func (s *MemoryStore) GetCargo(_ context.Context, key string) (*types.Cargo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.cargoes[key]
	if !ok {
		return nil, notFoundMem("cargo", key)
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) ListCargoes(_ context.Context, f *Filter) ([]*types.Cargo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Cargo
	for _, v := range s.cargoes {
		ok, err := matchesCargo(f, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func matchesCargo(f *Filter, c *types.Cargo) (bool, error) {
	if f == nil {
		return true, nil
	}
	return f.Match(func(field string) (any, error) {
		switch field {
		case "namespace":
			return c.Namespace, nil
		case "name":
			return c.Name, nil
		case "key":
			return c.Key, nil
		default:
			return nil, nil
		}
	})
}

func (s *MemoryStore) DeleteCargo(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cargoes, key)
	return nil
}

func (s *MemoryStore) CreateVm(_ context.Context, v *types.Vm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *v
	s.vms[v.Key] = &cp
	return nil
}

func (s *MemoryStore) GetVm(_ context.Context, key string) (*types.Vm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vms[key]
	if !ok {
		return nil, notFoundMem("vm", key)
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) ListVms(_ context.Context, f *Filter) ([]*types.Vm, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Vm
	for _, v := range s.vms {
		ok, err := matchesVm(f, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func matchesVm(f *Filter, v *types.Vm) (bool, error) {
	if f == nil {
		return true, nil
	}
	return f.Match(func(field string) (any, error) {
		switch field {
		case "namespace":
			return v.Namespace, nil
		case "name":
			return v.Name, nil
		case "key":
			return v.Key, nil
		default:
			return nil, nil
		}
	})
}

func (s *MemoryStore) DeleteVm(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vms, key)
	return nil
}

func (s *MemoryStore) CreateJob(_ context.Context, j *types.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *j
	s.jobs[j.Key] = &cp
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, key string) (*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.jobs[key]
	if !ok {
		return nil, notFoundMem("job", key)
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) ListJobs(_ context.Context, f *Filter) ([]*types.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Job
	for _, v := range s.jobs {
		ok, err := matchesJob(f, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func matchesJob(f *Filter, j *types.Job) (bool, error) {
	if f == nil {
		return true, nil
	}
	return f.Match(func(field string) (any, error) {
		switch field {
		case "name":
			return j.Name, nil
		case "key":
			return j.Key, nil
		default:
			return nil, nil
		}
	})
}

func (s *MemoryStore) DeleteJob(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, key)
	return nil
}

func (s *MemoryStore) CreateResourceKind(_ context.Context, k *types.ResourceKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *k
	s.resourceKinds[k.Key] = &cp
	return nil
}

func (s *MemoryStore) GetResourceKind(_ context.Context, key string) (*types.ResourceKind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.resourceKinds[key]
	if !ok {
		return nil, notFoundMem("resourcekind", key)
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) ListResourceKinds(_ context.Context, f *Filter) ([]*types.ResourceKind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.ResourceKind
	for _, v := range s.resourceKinds {
		ok, err := matchesResourceKind(f, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func matchesResourceKind(f *Filter, k *types.ResourceKind) (bool, error) {
	if f == nil {
		return true, nil
	}
	return f.Match(func(field string) (any, error) {
		switch field {
		case "domain":
			return k.Domain, nil
		case "name":
			return k.Name, nil
		case "key":
			return k.Key, nil
		default:
			return nil, nil
		}
	})
}

func (s *MemoryStore) DeleteResourceKind(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resourceKinds, key)
	return nil
}

func (s *MemoryStore) CreateResource(_ context.Context, r *types.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.resources[r.Key] = &cp
	return nil
}

func (s *MemoryStore) GetResource(_ context.Context, key string) (*types.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.resources[key]
	if !ok {
		return nil, notFoundMem("resource", key)
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) ListResources(_ context.Context, f *Filter) ([]*types.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Resource
	for _, v := range s.resources {
		ok, err := matchesResource(f, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func matchesResource(f *Filter, r *types.Resource) (bool, error) {
	if f == nil {
		return true, nil
	}
	return f.Match(func(field string) (any, error) {
		switch field {
		case "kind_key":
			return r.KindKey, nil
		case "name":
			return r.Name, nil
		case "key":
			return r.Key, nil
		default:
			return nil, nil
		}
	})
}

func (s *MemoryStore) DeleteResource(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, key)
	return nil
}

func (s *MemoryStore) CreateSecret(_ context.Context, sec *types.Secret) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sec
	s.secrets[sec.Key] = &cp
	return nil
}

func (s *MemoryStore) GetSecret(_ context.Context, key string) (*types.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[key]
	if !ok {
		return nil, notFoundMem("secret", key)
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) ListSecrets(_ context.Context, f *Filter) ([]*types.Secret, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Secret
	for _, v := range s.secrets {
		ok, err := matchesSecret(f, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func matchesSecret(f *Filter, sec *types.Secret) (bool, error) {
	if f == nil {
		return true, nil
	}
	return f.Match(func(field string) (any, error) {
		switch field {
		case "kind":
			return sec.Kind, nil
		case "key":
			return sec.Key, nil
		default:
			return nil, nil
		}
	})
}

func (s *MemoryStore) DeleteSecret(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.secrets, key)
	return nil
}

func (s *MemoryStore) CreateNode(_ context.Context, n *types.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.nodes[n.Name] = &cp
	return nil
}

func (s *MemoryStore) GetNode(_ context.Context, name string) (*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.nodes[name]
	if !ok {
		return nil, notFoundMem("node", name)
	}
	cp := *v
	return &cp, nil
}

func matchesNode(f *Filter, n *types.Node) (bool, error) {
	if f == nil {
		return true, nil
	}
	return f.Match(func(field string) (any, error) {
		switch field {
		case "name":
			return n.Name, nil
		case "role":
			return string(n.Role), nil
		default:
			return nil, nil
		}
	})
}

func (s *MemoryStore) ListNodes(_ context.Context, f *Filter) ([]*types.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Node
	for _, v := range s.nodes {
		ok, err := matchesNode(f, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) DeleteNode(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.nodes, name)
	return nil
}

// AppendSpec adds a new immutable row. Existing rows are never mutated.
func (s *MemoryStore) AppendSpec(_ context.Context, spec *types.Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	cp := *spec
	s.specs = append(s.specs, &cp)
	return nil
}

func (s *MemoryStore) GetSpec(_ context.Context, id string) (*types.Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sp := range s.specs {
		if sp.ID == id {
			cp := *sp
			return &cp, nil
		}
	}
	return nil, notFoundMem("spec", id)
}

func (s *MemoryStore) GetCurrentSpec(_ context.Context, kindKey string) (*types.Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *types.Spec
	for _, sp := range s.specs {
		if sp.KindKey != kindKey {
			continue
		}
		if latest == nil || sp.CreatedAt.After(latest.CreatedAt) {
			latest = sp
		}
	}
	if latest == nil {
		return nil, notFoundMem("spec", kindKey)
	}
	cp := *latest
	return &cp, nil
}

func (s *MemoryStore) ListSpecHistory(_ context.Context, kindKey string, f *Filter) ([]*types.Spec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Spec
	for _, sp := range s.specs {
		if sp.KindKey == kindKey {
			out = append(out, sp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DeleteSpecsByKindKey removes every spec row for kindKey.
func (s *MemoryStore) DeleteSpecsByKindKey(_ context.Context, kindKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.specs[:0]
	for _, sp := range s.specs {
		if sp.KindKey != kindKey {
			out = append(out, sp)
		}
	}
	s.specs = out
	return nil
}

func (s *MemoryStore) PutProcess(_ context.Context, p *types.Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.processes[p.Key] = &cp
	return nil
}

func (s *MemoryStore) GetProcess(_ context.Context, key string) (*types.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.processes[key]
	if !ok {
		return nil, notFoundMem("process", key)
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) ListProcesses(_ context.Context, f *Filter) ([]*types.Process, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Process
	for _, v := range s.processes {
		ok, err := matchesProcess(f, v)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func matchesProcess(f *Filter, p *types.Process) (bool, error) {
	if f == nil {
		return true, nil
	}
	return f.Match(func(field string) (any, error) {
		switch field {
		case "kind":
			return string(p.Kind), nil
		case "kind_key":
			return p.KindKey, nil
		case "node":
			return p.Node, nil
		case "key":
			return p.Key, nil
		default:
			return nil, nil
		}
	})
}

func (s *MemoryStore) DeleteProcess(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.processes, key)
	return nil
}

func (s *MemoryStore) PutProcessStatus(_ context.Context, st *types.ProcessStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.statuses[st.Key] = &cp
	return nil
}

func (s *MemoryStore) GetProcessStatus(_ context.Context, key string) (*types.ProcessStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.statuses[key]
	if !ok {
		return nil, notFoundMem("processstatus", key)
	}
	cp := *v
	return &cp, nil
}

func (s *MemoryStore) ListProcessStatuses(_ context.Context, f *Filter) ([]*types.ProcessStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.ProcessStatus
	for _, v := range s.statuses {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *MemoryStore) PutMetric(_ context.Context, m *types.Metric) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	cp := *m
	s.metrics = append(s.metrics, &cp)
	return nil
}

func (s *MemoryStore) ListMetrics(_ context.Context, f *Filter) ([]*types.Metric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]*types.Metric(nil), s.metrics...)
	return out, nil
}

func (s *MemoryStore) DeleteExpiredMetrics(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	var kept []*types.Metric
	var removed int64
	for _, m := range s.metrics {
		if m.ExpireAt.Before(now) {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	s.metrics = kept
	return removed, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	cp := *e
	s.events = append(s.events, &cp)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, f *Filter) ([]*types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Event
	for _, e := range s.events {
		ok, err := matchesEvent(f, e)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func matchesEvent(f *Filter, e *types.Event) (bool, error) {
	if f == nil {
		return true, nil
	}
	return f.Match(func(field string) (any, error) {
		switch field {
		case "id":
			return e.ID, nil
		case "actor_kind":
			return e.Actor.Kind, nil
		case "actor_key":
			return e.Actor.Key, nil
		case "action":
			return string(e.Action), nil
		case "kind":
			return string(e.Kind), nil
		default:
			return nil, nil
		}
	})
}
