// Package job implements the lifecycle hooks for Job, a run-to-completion
// or scheduled workload. Jobs are keyed by bare name; they are not
// namespaced.
package job

import (
	"context"
	"time"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/ferr"
	"github.com/cuemby/fleetd/internal/lifecycle"
	"github.com/cuemby/fleetd/internal/spechistory"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
)

// Service implements the five lifecycle hooks for Job.
type Service struct {
	generic *lifecycle.Generic
	store   store.Store
	specs   *spechistory.Service
}

// New builds the Job lifecycle service.
func New(s store.Store, specs *spechistory.Service, bus *eventbus.Bus) *Service {
	svc := &Service{store: s, specs: specs}
	svc.generic = lifecycle.New("Job", lifecycle.Hooks{
		Create:  svc.fnCreate,
		Put:     svc.fnPut,
		Patch:   svc.fnPatch,
		Delete:  svc.fnDelete,
		Inspect: svc.fnInspect,
	}, bus)
	return svc
}

func scheduleField(data map[string]any) string {
	sched, _ := data["schedule"].(string)
	return sched
}

func (svc *Service) fnCreate(ctx context.Context, data map[string]any) (string, map[string]any, error) {
	name, _ := data["name"].(string)
	if err := lifecycle.ValidateName(name); err != nil {
		return "", nil, err
	}
	key := name

	if _, err := svc.store.GetJob(ctx, key); err == nil {
		return "", nil, ferr.Conflict("job %q already exists", name)
	} else if !ferr.Is(err, ferr.CodeNotFound) {
		return "", nil, err
	}

	now := time.Now()
	j := &types.Job{Key: key, Name: name, Schedule: scheduleField(data), CreatedAt: now, UpdatedAt: now}

	spec, err := svc.specs.Append(ctx, "Job", key, "v1", data, nil)
	if err != nil {
		return "", nil, ferr.Backend(err, "appending initial job spec for %s", key)
	}
	j.SpecID = spec.ID

	if err := svc.store.CreateJob(ctx, j); err != nil {
		return "", nil, err
	}
	return key, toOutput(j, spec, 0), nil
}

func (svc *Service) fnPut(ctx context.Context, key string, data map[string]any) (map[string]any, error) {
	j, err := svc.store.GetJob(ctx, key)
	if err != nil {
		return nil, err
	}
	spec, err := svc.specs.Put(ctx, "Job", key, data, nil)
	if err != nil {
		return nil, ferr.Backend(err, "replacing job spec for %s", key)
	}
	j.SpecID, j.UpdatedAt = spec.ID, time.Now()
	if sched := scheduleField(data); sched != "" {
		j.Schedule = sched
	}
	if err := svc.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	return toOutput(j, spec, 0), nil
}

func (svc *Service) fnPatch(ctx context.Context, key string, update map[string]any) (map[string]any, error) {
	j, err := svc.store.GetJob(ctx, key)
	if err != nil {
		return nil, err
	}
	spec, err := svc.specs.Patch(ctx, "Job", key, update, nil)
	if err != nil {
		return nil, ferr.Backend(err, "patching job spec for %s", key)
	}
	j.SpecID, j.UpdatedAt = spec.ID, time.Now()
	if sched := scheduleField(spec.Data); sched != "" {
		j.Schedule = sched
	}
	if err := svc.store.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	return toOutput(j, spec, 0), nil
}

// fnDelete marks every known process of this job wanted=deleted; the
// reconciler performs the actual teardown and removes the Job row and
// its spec history once it observes the Delete event.
func (svc *Service) fnDelete(ctx context.Context, key string, _ bool) (map[string]any, error) {
	j, err := svc.store.GetJob(ctx, key)
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
	return toOutput(j, nil, len(procs)), nil
}

func (svc *Service) fnInspect(ctx context.Context, key string) (map[string]any, error) {
	j, err := svc.store.GetJob(ctx, key)
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
	return toOutput(j, spec, len(procs)), nil
}

func toOutput(j *types.Job, spec *types.Spec, instanceCount int) map[string]any {
	out := map[string]any{
		"key":            j.Key,
		"name":           j.Name,
		"schedule":       j.Schedule,
		"created_at":     j.CreatedAt,
		"updated_at":     j.UpdatedAt,
		"instance_count": instanceCount,
	}
	if spec != nil {
		out["spec"] = spec.Data
		out["spec_version"] = spec.Version
	}
	return out
}

// Create validates and persists a new job.
func (svc *Service) Create(ctx context.Context, data map[string]any) (map[string]any, error) {
	_, out, err := svc.generic.Create(ctx, data)
	return out, err
}

// Put replaces a job's whole spec.
func (svc *Service) Put(ctx context.Context, key string, data map[string]any) (map[string]any, error) {
	return svc.generic.Put(ctx, key, data)
}

// Patch merges update onto a job's current spec.
func (svc *Service) Patch(ctx context.Context, key string, update map[string]any) (map[string]any, error) {
	return svc.generic.Patch(ctx, key, update)
}

// Delete marks a job for teardown.
func (svc *Service) Delete(ctx context.Context, key string, force bool) (map[string]any, error) {
	return svc.generic.Delete(ctx, key, force)
}

// Inspect returns a job's current row, spec and instance count.
func (svc *Service) Inspect(ctx context.Context, key string) (map[string]any, error) {
	return svc.generic.Inspect(ctx, key)
}

// List returns jobs matching f.
func (svc *Service) List(ctx context.Context, f *store.Filter) ([]*types.Job, error) {
	return svc.store.ListJobs(ctx, f)
}

// History lists spec rows for key ordered by created_at DESC.
func (svc *Service) History(ctx context.Context, key string, f *store.Filter) ([]*types.Spec, error) {
	return svc.specs.ListByKindKey(ctx, key, f)
}
