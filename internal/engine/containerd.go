package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"
)

const (
	// DefaultNamespace is the containerd namespace fleetd runs under.
	DefaultNamespace = "fleetd"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdEngine implements Engine against a local containerd daemon.
type ContainerdEngine struct {
	client    *containerd.Client
	namespace string

	mu    sync.Mutex
	execs map[string]containerd.Process
}

// NewContainerdEngine connects to containerd at socketPath (or
// DefaultSocketPath if empty) under namespace (or DefaultNamespace).
func NewContainerdEngine(socketPath, namespace string) (*ContainerdEngine, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to containerd at %s: %w", socketPath, err)
	}

	return &ContainerdEngine{
		client:    client,
		namespace: namespace,
		execs:     make(map[string]containerd.Process),
	}, nil
}

func (e *ContainerdEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

func (e *ContainerdEngine) ns(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, e.namespace)
}

func (e *ContainerdEngine) PullImage(ctx context.Context, ref string) error {
	ctx = e.ns(ctx)
	if _, err := e.client.Pull(ctx, ref, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("pulling image %s: %w", ref, err)
	}
	return nil
}

func specOpts(spec Spec, image containerd.Image) []oci.SpecOpts {
	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
	}

	if spec.Resources != nil {
		if spec.Resources.CPULimit > 0 {
			shares := uint64(spec.Resources.CPULimit * 1024)
			quota := int64(spec.Resources.CPULimit * 100000)
			period := uint64(100000)
			opts = append(opts, oci.WithCPUShares(shares))
			opts = append(opts, oci.WithCPUCFS(quota, period))
		}
		if spec.Resources.MemoryLimit > 0 {
			opts = append(opts, oci.WithMemoryLimit(uint64(spec.Resources.MemoryLimit)))
		}
	}

	if len(spec.Mounts) > 0 {
		mounts := make([]specs.Mount, 0, len(spec.Mounts))
		for _, m := range spec.Mounts {
			opt := []string{"bind"}
			if m.ReadOnly {
				opt = append(opt, "ro")
			}
			mounts = append(mounts, specs.Mount{
				Source:      m.Source,
				Destination: m.Destination,
				Type:        "bind",
				Options:     opt,
			})
		}
		opts = append(opts, oci.WithMounts(mounts))
	}

	return opts
}

func (e *ContainerdEngine) CreateContainer(ctx context.Context, spec Spec) (string, error) {
	ctx = e.ns(ctx)

	image, err := e.client.GetImage(ctx, spec.Image)
	if err != nil {
		return "", fmt.Errorf("getting image %s: %w", spec.Image, err)
	}

	ctr, err := e.client.NewContainer(
		ctx,
		spec.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ID+"-snapshot", image),
		containerd.WithNewSpec(specOpts(spec, image)...),
		containerd.WithContainerLabels(spec.Labels),
	)
	if err != nil {
		return "", fmt.Errorf("creating container %s: %w", spec.ID, err)
	}

	return ctr.ID(), nil
}

func (e *ContainerdEngine) StartContainer(ctx context.Context, id string) error {
	ctx = e.ns(ctx)

	ctr, err := e.client.LoadContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("loading container %s: %w", id, err)
	}

	task, err := ctr.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("creating task for %s: %w", id, err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("starting task for %s: %w", id, err)
	}
	return nil
}

func (e *ContainerdEngine) StopContainer(ctx context.Context, id string, timeout time.Duration) error {
	ctx = e.ns(ctx)

	ctr, err := e.client.LoadContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("loading container %s: %w", id, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		// No task: container is already stopped.
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to %s: %w", id, err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("waiting for %s to exit: %w", id, err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("force-killing %s: %w", id, err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("deleting task for %s: %w", id, err)
	}
	return nil
}

func (e *ContainerdEngine) KillContainer(ctx context.Context, id string, signal string) error {
	ctx = e.ns(ctx)

	ctr, err := e.client.LoadContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("loading container %s: %w", id, err)
	}
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return nil
	}
	sig := syscall.SIGTERM
	if signal == "KILL" || signal == "SIGKILL" {
		sig = syscall.SIGKILL
	}
	if err := task.Kill(ctx, sig); err != nil {
		return fmt.Errorf("signalling %s: %w", id, err)
	}
	return nil
}

func (e *ContainerdEngine) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	if err := e.StopContainer(ctx, id, timeout); err != nil {
		return fmt.Errorf("stopping %s before restart: %w", id, err)
	}
	return e.StartContainer(ctx, id)
}

func (e *ContainerdEngine) RemoveContainer(ctx context.Context, id string) error {
	ctx = e.ns(ctx)

	ctr, err := e.client.LoadContainer(ctx, id)
	if err != nil {
		return nil
	}
	if err := ctr.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("deleting container %s: %w", id, err)
	}
	return nil
}

func (e *ContainerdEngine) InspectContainer(ctx context.Context, id string) (State, error) {
	ctx = e.ns(ctx)

	ctr, err := e.client.LoadContainer(ctx, id)
	if err != nil {
		return StateFailed, fmt.Errorf("loading container %s: %w", id, err)
	}

	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return StatePending, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return StateFailed, fmt.Errorf("getting task status for %s: %w", id, err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused:
		return StateRunning, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return StateComplete, nil
		}
		return StateFailed, nil
	default:
		return StatePending, nil
	}
}

func (e *ContainerdEngine) ContainerLogs(ctx context.Context, id string, w io.Writer) error {
	// containerd has no built-in log ring buffer; fleetd's cio setup
	// would need to be wired to a file-backed FIFO per container to
	// support this. Left unimplemented pending that wiring.
	return fmt.Errorf("container logs: not implemented for containerd engine")
}

func (e *ContainerdEngine) ExecCreate(ctx context.Context, id string, cmd []string) (string, error) {
	ctx = e.ns(ctx)

	ctr, err := e.client.LoadContainer(ctx, id)
	if err != nil {
		return "", fmt.Errorf("loading container %s: %w", id, err)
	}
	task, err := ctr.Task(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("loading task for %s: %w", id, err)
	}

	spec, err := ctr.Spec(ctx)
	if err != nil {
		return "", fmt.Errorf("loading spec for %s: %w", id, err)
	}
	pspec := *spec.Process
	pspec.Args = cmd

	execID := id + "-exec-" + fmt.Sprint(time.Now().UnixNano())
	proc, err := task.Exec(ctx, execID, &pspec, cio.NullIO)
	if err != nil {
		return "", fmt.Errorf("creating exec for %s: %w", id, err)
	}

	e.mu.Lock()
	e.execs[execID] = proc
	e.mu.Unlock()

	return execID, nil
}

func (e *ContainerdEngine) ExecStart(ctx context.Context, execID string) error {
	ctx = e.ns(ctx)
	e.mu.Lock()
	proc, ok := e.execs[execID]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("exec %s not found", execID)
	}
	if err := proc.Start(ctx); err != nil {
		return fmt.Errorf("starting exec %s: %w", execID, err)
	}
	return nil
}

func (e *ContainerdEngine) ExecInspect(ctx context.Context, execID string) (State, error) {
	ctx = e.ns(ctx)
	e.mu.Lock()
	proc, ok := e.execs[execID]
	e.mu.Unlock()
	if !ok {
		return StateFailed, fmt.Errorf("exec %s not found", execID)
	}
	status, err := proc.Status(ctx)
	if err != nil {
		return StateFailed, fmt.Errorf("inspecting exec %s: %w", execID, err)
	}
	switch status.Status {
	case containerd.Running:
		return StateRunning, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return StateComplete, nil
		}
		return StateFailed, nil
	default:
		return StatePending, nil
	}
}

func (e *ContainerdEngine) CreateNetwork(ctx context.Context, name string) error {
	// containerd has no native network object; fleetd relies on a CNI
	// plugin chain configured out of band. Recorded as a no-op so the
	// reconciler's algorithm does not need a conditional per engine.
	return nil
}

func (e *ContainerdEngine) InspectNetwork(ctx context.Context, name string) (bool, error) {
	return true, nil
}
