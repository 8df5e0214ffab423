// Package engine defines the container-engine contract the reconciler
// drives (pull/create/start/stop/kill/restart/remove/inspect/logs/exec/
// network) and a containerd-backed implementation.
package engine

import (
	"context"
	"io"
	"time"
)

// Resources caps CPU/memory for a created container.
type Resources struct {
	CPULimit    float64 // cores
	MemoryLimit int64   // bytes
}

// Mount describes a bind mount into the container.
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// Spec is everything needed to create a container instance.
type Spec struct {
	ID        string
	Image     string
	Env       []string
	Labels    map[string]string
	Resources *Resources
	Mounts    []Mount
}

// State is the observed lifecycle state of a container instance.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// Engine is the container-engine contract consumed by the reconciler.
// Operation names mirror the container lifecycle: inspect, create, start, stop,
// kill, restart, remove, logs, exec_create/start/inspect, pull_image,
// create_network, inspect_network.
type Engine interface {
	PullImage(ctx context.Context, ref string) error
	CreateContainer(ctx context.Context, spec Spec) (string, error)
	StartContainer(ctx context.Context, id string) error
	StopContainer(ctx context.Context, id string, timeout time.Duration) error
	KillContainer(ctx context.Context, id string, signal string) error
	RestartContainer(ctx context.Context, id string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, id string) error
	InspectContainer(ctx context.Context, id string) (State, error)
	ContainerLogs(ctx context.Context, id string, w io.Writer) error

	ExecCreate(ctx context.Context, id string, cmd []string) (string, error)
	ExecStart(ctx context.Context, execID string) error
	ExecInspect(ctx context.Context, execID string) (State, error)

	CreateNetwork(ctx context.Context, name string) error
	InspectNetwork(ctx context.Context, name string) (bool, error)

	Close() error
}
