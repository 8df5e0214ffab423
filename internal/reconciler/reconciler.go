// Package reconciler drives observed container Processes to match the
// current Spec for a Cargo, Vm or Job. Unlike a periodic
// sweep, dispatch here is event-driven: an Updating event for a key
// enqueues exactly one task on the Task Manager for that key, so
// supersession does the work a ticker loop would
// otherwise have to re-derive every cycle.
package reconciler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cuemby/fleetd/internal/engine"
	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/log"
	"github.com/cuemby/fleetd/internal/spechistory"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/task"
	"github.com/cuemby/fleetd/internal/types"
	"github.com/cuemby/fleetd/internal/vmdisk"
	"github.com/rs/zerolog"
)

const (
	createStartTimeout = 30 * time.Second
	inspectTimeout     = 10 * time.Second
	pullImageTimeout   = 120 * time.Second
)

// diskManager is the subset of vmdisk.Manager the reconciler needs;
// narrowed to an interface so tests can substitute a fake and avoid
// shelling out to a real qemu-img binary.
type diskManager interface {
	Create(ctx context.Context, dest, base string, sizeBytes int64) error
}

// Reconciler owns the engine calls that make observed state match spec.
type Reconciler struct {
	store  store.Store
	bus    *eventbus.Bus
	engine engine.Engine
	tasks  *task.Manager
	specs  *spechistory.Service
	node   string
	disks  diskManager
	logger zerolog.Logger
	stopCh chan struct{}
}

// New builds a Reconciler wired to its collaborators.
func New(s store.Store, bus *eventbus.Bus, eng engine.Engine, tasks *task.Manager, specs *spechistory.Service, node string) *Reconciler {
	return &Reconciler{
		store:  s,
		bus:    bus,
		engine: eng,
		tasks:  tasks,
		specs:  specs,
		node:   node,
		disks:  vmdisk.New(""),
		logger: log.WithComponent("reconciler"),
		stopCh: make(chan struct{}),
	}
}

// Start subscribes to the event bus and dispatches a reconciliation task
// for every Updating/Delete event it observes.
func (r *Reconciler) Start() {
	sub := r.bus.Subscribe()
	go r.dispatch(sub)
}

// Stop ends the dispatch loop.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) dispatch(sub eventbus.Subscriber) {
	defer r.bus.Unsubscribe(sub)
	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return
			}
			r.handle(e)
		case <-r.stopCh:
			return
		}
	}
}

func (r *Reconciler) handle(e *types.Event) {
	kind := e.Actor.Kind
	switch kind {
	case "Cargo", "Vm", "Job":
	default:
		return
	}

	switch e.Action {
	case types.ActionUpdating:
		r.tasks.Enqueue(e.Actor.Key, types.ActionUpdating, func(ctx context.Context) error {
			if kind == "Vm" {
				return r.reconcileVm(ctx, e.Actor.Key)
			}
			return r.reconcileCargo(ctx, e.Actor.Key)
		})
	case types.ActionDelete:
		r.tasks.Enqueue(e.Actor.Key, types.ActionDelete, func(ctx context.Context) error {
			return r.reconcileDelete(ctx, kind, e.Actor.Key)
		})
	}
}

func randomSlug() string {
	b := make([]byte, 3)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// instanceName builds the {index}-{shortid}.{suffix} name the process
// requires. suffix is "c" for cargo, "v" for vm, "j" for job.
func instanceName(index int, suffix string) string {
	return fmt.Sprintf("%d-%s.%s", index, randomSlug(), suffix)
}

// kindLabelSuffix maps a top-level kind to its instance name suffix
// ("c"/"v"/"j").
func kindLabelSuffix(kind string) string {
	switch kind {
	case "Vm":
		return "v"
	case "Job":
		return "j"
	default:
		return "c"
	}
}

func instanceLabels(kind, kindKey, namespace string) map[string]string {
	return map[string]string{
		"io.fleetd." + kindLabelSuffix(kind): kindKey,
		"io.fleetd.namespace":                namespace,
	}
}

func replicaCount(data map[string]any) int {
	rep, ok := data["replication"].(map[string]any)
	if !ok {
		return 1
	}
	n, ok := rep["replicas"].(float64)
	if !ok || n < 1 {
		return 1
	}
	return int(n)
}

func imagePolicy(data map[string]any) string {
	container, ok := data["container"].(map[string]any)
	if !ok {
		return "if_not_present"
	}
	policy, _ := container["image_pull_policy"].(string)
	if policy == "" {
		return "if_not_present"
	}
	return policy
}

func imageRef(data map[string]any) string {
	container, ok := data["container"].(map[string]any)
	if !ok {
		return ""
	}
	ref, _ := container["image"].(string)
	return ref
}

func envList(data map[string]any) []string {
	container, ok := data["container"].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := container["env"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// reconcileCargo implements the Cargo start/update algorithm of
// the process reconciliation contract.
func (r *Reconciler) reconcileCargo(ctx context.Context, kindKey string) error {
	cargo, err := r.store.GetCargo(ctx, kindKey)
	if err != nil {
		return fmt.Errorf("loading cargo %s: %w", kindKey, err)
	}
	spec, err := r.store.GetCurrentSpec(ctx, kindKey)
	if err != nil {
		return fmt.Errorf("loading current spec for %s: %w", kindKey, err)
	}

	ref := imageRef(spec.Data)
	if ref == "" {
		return r.errored(ctx, kindKey, "cargo spec has no container image")
	}

	// step 1: resolve image tag, pull if policy requires it.
	if imagePolicy(spec.Data) == "always" {
		pullCtx, cancel := context.WithTimeout(ctx, pullImageTimeout)
		err := r.engine.PullImage(pullCtx, ref)
		cancel()
		if err != nil {
			return r.errored(ctx, kindKey, fmt.Sprintf("pulling image %s: %v", ref, err))
		}
	}

	// step 2: desired replica count; secrets referenced by the spec are
	// resolved by the caller layer that builds env/mounts (lifecycle/cargo).
	desired := replicaCount(spec.Data)

	existing, err := r.store.ListProcesses(ctx, store.New().Eq("kind_key", kindKey).Eq("kind", string(types.ProcessKindCargo)))
	if err != nil {
		return fmt.Errorf("listing processes for %s: %w", kindKey, err)
	}

	// step 3: stop and remove stale-version instances.
	var current []*types.Process
	for _, p := range existing {
		if p.SpecVersion == spec.Version {
			current = append(current, p)
			continue
		}
		if err := r.teardownProcess(ctx, p); err != nil {
			r.logger.Warn().Err(err).Str("process", p.Key).Msg("failed to tear down stale process")
		}
	}

	// step 4: create missing replicas up to desired count.
	for len(current) < desired {
		index := len(current)
		name := instanceName(index, "c")
		id := fmt.Sprintf("%s.%s", name, cargo.Namespace)

		if _, err := r.engine.CreateContainer(ctx, engine.Spec{
			ID:     id,
			Image:  ref,
			Env:    envList(spec.Data),
			Labels: instanceLabels("Cargo", kindKey, cargo.Namespace),
		}); err != nil {
			return r.errored(ctx, kindKey, fmt.Sprintf("creating instance %s: %v", id, err))
		}

		startCtx, cancel := context.WithTimeout(ctx, createStartTimeout)
		err := r.engine.StartContainer(startCtx, id)
		cancel()
		if err != nil {
			return r.errored(ctx, kindKey, fmt.Sprintf("starting instance %s: %v", id, err))
		}

		proc := &types.Process{
			Key:         id,
			Kind:        types.ProcessKindCargo,
			KindKey:     kindKey,
			Node:        r.node,
			Name:        name,
			SpecVersion: spec.Version,
			CreatedAt:   time.Now(),
		}
		if err := r.store.PutProcess(ctx, proc); err != nil {
			return fmt.Errorf("recording process %s: %w", id, err)
		}
		if err := r.store.PutProcessStatus(ctx, &types.ProcessStatus{
			Key:       id,
			Wanted:    types.WantedRunning,
			Current:   types.CurrentRunning,
			UpdatedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("recording process status %s: %w", id, err)
		}
		current = append(current, proc)
	}

	// step 5 + 6: mark wanted=running, emit terminal Started event.
	r.bus.Emit(types.EventKindNormal, types.ActionStarted, types.Actor{Kind: "Cargo", Key: kindKey}, "", fmt.Sprintf("spec.version=%s", spec.Version))
	return nil
}

func (r *Reconciler) teardownProcess(ctx context.Context, p *types.Process) error {
	stopCtx, cancel := context.WithTimeout(ctx, createStartTimeout)
	err := r.engine.StopContainer(stopCtx, p.Key, createStartTimeout)
	cancel()
	if err != nil {
		return fmt.Errorf("stopping %s: %w", p.Key, err)
	}
	if err := r.engine.RemoveContainer(ctx, p.Key); err != nil {
		return fmt.Errorf("removing %s: %w", p.Key, err)
	}
	return r.store.DeleteProcess(ctx, p.Key)
}

func vmHostConfig(data map[string]any) (cpu float64, memory int64, kvm bool) {
	host, ok := data["host_config"].(map[string]any)
	if !ok {
		return 1, 512 * 1024 * 1024, false
	}
	if v, ok := host["cpu"].(float64); ok {
		cpu = v
	} else {
		cpu = 1
	}
	if v, ok := host["memory"].(float64); ok {
		memory = int64(v)
	} else {
		memory = 512 * 1024 * 1024
	}
	kvm, _ = host["kvm"].(bool)
	return cpu, memory, kvm
}

func vmDiskConfig(data map[string]any) (image string, size int64) {
	disk, ok := data["disk"].(map[string]any)
	if !ok {
		return "", 0
	}
	image, _ = disk["image"].(string)
	if v, ok := disk["size"].(float64); ok {
		size = int64(v)
	}
	return image, size
}

// reconcileVm implements the Vm start/update algorithm: prepare a
// copy-on-write disk image from the spec's backing image, then run a
// single instance, mirroring reconcileCargo's create/teardown structure
// with cpu/memory/kvm host config instead of a container image pull.
func (r *Reconciler) reconcileVm(ctx context.Context, kindKey string) error {
	vm, err := r.store.GetVm(ctx, kindKey)
	if err != nil {
		return fmt.Errorf("loading vm %s: %w", kindKey, err)
	}
	spec, err := r.store.GetCurrentSpec(ctx, kindKey)
	if err != nil {
		return fmt.Errorf("loading current spec for %s: %w", kindKey, err)
	}

	baseImage, size := vmDiskConfig(spec.Data)
	if baseImage == "" {
		return r.errored(ctx, kindKey, "vm spec has no disk image")
	}
	cpu, memory, kvm := vmHostConfig(spec.Data)

	existing, err := r.store.ListProcesses(ctx, store.New().Eq("kind_key", kindKey).Eq("kind", string(types.ProcessKindVm)))
	if err != nil {
		return fmt.Errorf("listing processes for %s: %w", kindKey, err)
	}
	for _, p := range existing {
		if p.SpecVersion == spec.Version {
			// already converged for this spec version.
			r.bus.Emit(types.EventKindNormal, types.ActionStarted, types.Actor{Kind: "Vm", Key: kindKey}, "", fmt.Sprintf("spec.version=%s", spec.Version))
			return nil
		}
		if err := r.teardownProcess(ctx, p); err != nil {
			r.logger.Warn().Err(err).Str("process", p.Key).Msg("failed to tear down stale vm instance")
		}
	}

	diskPath := fmt.Sprintf("%s.%s.qcow2", vm.Name, vm.Namespace)
	if err := r.disks.Create(ctx, diskPath, baseImage, size); err != nil {
		return r.errored(ctx, kindKey, fmt.Sprintf("preparing disk for %s: %v", kindKey, err))
	}

	name := instanceName(0, "v")
	id := fmt.Sprintf("%s.%s", name, vm.Namespace)

	labels := instanceLabels("Vm", kindKey, vm.Namespace)
	labels["io.fleetd.vm.kvm"] = fmt.Sprintf("%t", kvm)

	if _, err := r.engine.CreateContainer(ctx, engine.Spec{
		ID:     id,
		Image:  baseImage,
		Labels: labels,
		Resources: &engine.Resources{
			CPULimit:    cpu,
			MemoryLimit: memory,
		},
		Mounts: []engine.Mount{{Source: diskPath, Destination: "/dev/vda", ReadOnly: false}},
	}); err != nil {
		return r.errored(ctx, kindKey, fmt.Sprintf("creating vm instance %s: %v", id, err))
	}

	startCtx, cancel := context.WithTimeout(ctx, createStartTimeout)
	err = r.engine.StartContainer(startCtx, id)
	cancel()
	if err != nil {
		return r.errored(ctx, kindKey, fmt.Sprintf("starting vm instance %s: %v", id, err))
	}

	proc := &types.Process{
		Key:         id,
		Kind:        types.ProcessKindVm,
		KindKey:     kindKey,
		Node:        r.node,
		Name:        name,
		SpecVersion: spec.Version,
		CreatedAt:   time.Now(),
	}
	if err := r.store.PutProcess(ctx, proc); err != nil {
		return fmt.Errorf("recording vm process %s: %w", id, err)
	}
	if err := r.store.PutProcessStatus(ctx, &types.ProcessStatus{
		Key:       id,
		Wanted:    types.WantedRunning,
		Current:   types.CurrentRunning,
		UpdatedAt: time.Now(),
	}); err != nil {
		return fmt.Errorf("recording vm process status %s: %w", id, err)
	}

	r.bus.Emit(types.EventKindNormal, types.ActionStarted, types.Actor{Kind: "Vm", Key: kindKey}, "", fmt.Sprintf("spec.version=%s", spec.Version))
	return nil
}

// reconcileDelete implements the Delete algorithm: best-effort stop of
// every process, remove, drop spec history, drop the parent row.
func (r *Reconciler) reconcileDelete(ctx context.Context, kind, kindKey string) error {
	existing, err := r.store.ListProcesses(ctx, store.New().Eq("kind_key", kindKey))
	if err != nil {
		return fmt.Errorf("listing processes for %s: %w", kindKey, err)
	}

	for _, p := range existing {
		if err := r.teardownProcess(ctx, p); err != nil {
			r.logger.Warn().Err(err).Str("process", p.Key).Msg("best-effort teardown failed during delete")
		}
	}

	if err := r.specs.DeleteByKindKey(ctx, kindKey); err != nil {
		return fmt.Errorf("deleting spec history for %s: %w", kindKey, err)
	}

	switch kind {
	case "Cargo":
		if err := r.store.DeleteCargo(ctx, kindKey); err != nil {
			return fmt.Errorf("deleting cargo row %s: %w", kindKey, err)
		}
	case "Vm":
		if err := r.store.DeleteVm(ctx, kindKey); err != nil {
			return fmt.Errorf("deleting vm row %s: %w", kindKey, err)
		}
	case "Job":
		if err := r.store.DeleteJob(ctx, kindKey); err != nil {
			return fmt.Errorf("deleting job row %s: %w", kindKey, err)
		}
	}

	r.bus.Emit(types.EventKindNormal, types.ActionDeleted, types.Actor{Kind: kind, Key: kindKey}, "", "")
	return nil
}

// ProcessKill forwards a signal to every process of kind/key.
func (r *Reconciler) ProcessKill(ctx context.Context, kind, kindKey, signal string) error {
	procs, err := r.store.ListProcesses(ctx, store.New().Eq("kind_key", kindKey))
	if err != nil {
		return fmt.Errorf("listing processes for %s: %w", kindKey, err)
	}
	for _, p := range procs {
		if err := r.engine.KillContainer(ctx, p.Key, signal); err != nil {
			r.logger.Warn().Err(err).Str("process", p.Key).Msg("kill failed")
		}
	}
	return nil
}

// ProcessRestart restarts every process of kind/key sequentially; on
// the first failure it stops and emits Errored.
func (r *Reconciler) ProcessRestart(ctx context.Context, kind, kindKey string) error {
	procs, err := r.store.ListProcesses(ctx, store.New().Eq("kind_key", kindKey))
	if err != nil {
		return fmt.Errorf("listing processes for %s: %w", kindKey, err)
	}
	for _, p := range procs {
		if err := r.engine.RestartContainer(ctx, p.Key, createStartTimeout); err != nil {
			return r.errored(ctx, kindKey, fmt.Sprintf("restarting %s: %v", p.Key, err))
		}
	}
	r.bus.Emit(types.EventKindNormal, types.ActionStarted, types.Actor{Kind: kind, Key: kindKey}, "", "restarted")
	return nil
}

// ProcessStart is idempotent: if every process is already running it
// emits Started without issuing any engine call; otherwise it starts
// the stopped ones. A kind/key with no existing processes re-triggers
// the normal reconciliation path via an Updating event instead, since
// there is nothing here yet to start directly.
func (r *Reconciler) ProcessStart(ctx context.Context, kind, kindKey string) error {
	procs, err := r.store.ListProcesses(ctx, store.New().Eq("kind_key", kindKey))
	if err != nil {
		return fmt.Errorf("listing processes for %s: %w", kindKey, err)
	}

	if len(procs) == 0 {
		r.bus.Emit(types.EventKindNormal, types.ActionUpdating, types.Actor{Kind: kind, Key: kindKey}, "", "")
		return nil
	}

	anyStopped := false
	for _, p := range procs {
		st, err := r.engine.InspectContainer(ctx, p.Key)
		if err == nil && st != engine.StateRunning {
			anyStopped = true
			if err := r.engine.StartContainer(ctx, p.Key); err != nil {
				r.logger.Warn().Err(err).Str("process", p.Key).Msg("start failed")
			}
		}
	}

	if !anyStopped {
		r.bus.Emit(types.EventKindNormal, types.ActionStarted, types.Actor{Kind: kind, Key: kindKey}, "", "already running")
		return nil
	}
	r.bus.Emit(types.EventKindNormal, types.ActionStarted, types.Actor{Kind: kind, Key: kindKey}, "", "")
	return nil
}

// ProcessStop is idempotent: if every process is already stopped it
// emits Stopped without issuing any engine call.
func (r *Reconciler) ProcessStop(ctx context.Context, kind, kindKey string) error {
	procs, err := r.store.ListProcesses(ctx, store.New().Eq("kind_key", kindKey))
	if err != nil {
		return fmt.Errorf("listing processes for %s: %w", kindKey, err)
	}

	anyRunning := false
	for _, p := range procs {
		st, err := r.engine.InspectContainer(ctx, p.Key)
		if err == nil && st == engine.StateRunning {
			anyRunning = true
			if err := r.engine.StopContainer(ctx, p.Key, createStartTimeout); err != nil {
				r.logger.Warn().Err(err).Str("process", p.Key).Msg("stop failed")
			}
		}
	}

	if !anyRunning {
		r.bus.Emit(types.EventKindNormal, types.ActionStopped, types.Actor{Kind: kind, Key: kindKey}, "", "already stopped")
		return nil
	}
	r.bus.Emit(types.EventKindNormal, types.ActionStopped, types.Actor{Kind: kind, Key: kindKey}, "", "")
	return nil
}

func (r *Reconciler) errored(ctx context.Context, kindKey, reason string) error {
	r.bus.Emit(types.EventKindError, types.ActionErrored, types.Actor{Kind: "Cargo", Key: kindKey}, reason, "")
	return fmt.Errorf("%s", reason)
}
