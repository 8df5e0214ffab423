// Package types defines the domain entities shared across the daemon:
// namespaces, cargoes, jobs, virtual machines, resources, secrets, spec
// history rows, nodes, processes, metrics and events.
package types

import "time"

// Namespace is a logical partition for cargoes, jobs and vms.
type Namespace struct {
	Name      string    `json:"name" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
}

// Cargo is a declaratively managed long-running container service.
type Cargo struct {
	Key        string    `json:"key" gorm:"primaryKey"` // {name}.{namespace}
	Name       string    `json:"name"`
	Namespace  string    `json:"namespace"`
	SpecID     string    `json:"spec_id"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Job is a batch set of containers that run to completion.
type Job struct {
	Key       string    `json:"key" gorm:"primaryKey"` // name (jobs are not namespaced)
	Name      string    `json:"name"`
	SpecID    string    `json:"spec_id"`
	Schedule  string    `json:"schedule,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Vm is a virtual machine managed as a container-adjacent workload.
type Vm struct {
	Key       string    `json:"key" gorm:"primaryKey"` // {name}.{namespace}
	Name      string    `json:"name"`
	Namespace string    `json:"namespace"`
	SpecID    string    `json:"spec_id"`
	DiskImage string    `json:"disk_image"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResourceKind registers a schema and controller endpoints for a Resource type.
type ResourceKind struct {
	Key       string    `json:"key" gorm:"primaryKey"` // {domain}/{name}
	Domain    string    `json:"domain"`
	Name      string    `json:"name"`
	SpecID    string    `json:"spec_id"`
	Endpoint  string    `json:"endpoint,omitempty"` // controller webhook base URL
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Resource is a pluggable object (proxy rule, DNS rule, ...) validated
// against a ResourceKind schema and forwarded to the kind's controller.
type Resource struct {
	Key          string    `json:"key" gorm:"primaryKey"`
	Name         string    `json:"name"`
	KindKey      string    `json:"kind_key"`
	SpecID       string    `json:"spec_id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Secret stores opaque, encrypted sensitive data.
type Secret struct {
	Key       string    `json:"key" gorm:"primaryKey"`
	Kind      string    `json:"kind"`
	Data      []byte    `json:"-"` // never serialized back out by the API
	Metadata  map[string]string `json:"metadata,omitempty" gorm:"serializer:json"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Spec is an immutable versioned payload describing desired state for a
// kind_key. Rows are append-only; the newest row per kind_key is current.
type Spec struct {
	ID        string            `json:"id" gorm:"primaryKey"`
	KindName  string            `json:"kind_name"`
	KindKey   string            `json:"kind_key"`
	Version   string            `json:"version"`
	Data      map[string]any    `json:"data" gorm:"serializer:json"`
	Metadata  map[string]string `json:"metadata,omitempty" gorm:"serializer:json"`
	CreatedAt time.Time         `json:"created_at"`
}

// NodeRole distinguishes manager from worker peers. Single-node daemons
// register themselves with RoleManager; peer nodes are enumerable but not
// replicated via consensus (see DESIGN.md).
type NodeRole string

const (
	NodeRoleManager NodeRole = "manager"
	NodeRoleWorker  NodeRole = "worker"
)

// Node is a peer daemon registered for enumeration purposes.
type Node struct {
	Name          string            `json:"name" gorm:"primaryKey"`
	Role          NodeRole          `json:"role"`
	IPAddress     string            `json:"ip_address"`
	Endpoint      string            `json:"endpoint"`
	Version       string            `json:"version"`
	Labels        map[string]string `json:"labels,omitempty" gorm:"serializer:json"`
	LastHeartbeat time.Time         `json:"last_heartbeat"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ProcessKind identifies which top-level kind a Process belongs to.
type ProcessKind string

const (
	ProcessKindCargo ProcessKind = "Cargo"
	ProcessKindVm    ProcessKind = "Vm"
	ProcessKindJob   ProcessKind = "Job"
)

// Wanted is the desired lifecycle state of a Process, set by the API layer.
type Wanted string

const (
	WantedRunning Wanted = "running"
	WantedStopped Wanted = "stopped"
	WantedDeleted Wanted = "deleted"
)

// Current is the observed lifecycle state of a Process instance, set by
// the reconciler/observer only.
type Current string

const (
	CurrentPending  Current = "pending"
	CurrentRunning  Current = "running"
	CurrentStopping Current = "stopping"
	CurrentExited   Current = "exited"
	CurrentFailed   Current = "failed"
	CurrentRemoved  Current = "removed"
)

// ProcessStatus tracks the wanted/current/previous state of a Process.
type ProcessStatus struct {
	Key        string    `json:"key" gorm:"primaryKey"`
	Wanted     Wanted    `json:"wanted"`
	Current    Current   `json:"current"`
	Previous   Current   `json:"previous,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Process is an observed container/VM instance of a parent Cargo/Vm/Job.
type Process struct {
	Key         string            `json:"key" gorm:"primaryKey"`
	Kind        ProcessKind       `json:"kind"`
	KindKey     string            `json:"kind_key"`
	Node        string            `json:"node"`
	Name        string            `json:"name"` // {index}-{shortid}.{suffix}
	SpecVersion string            `json:"spec_version"`
	Data        map[string]any    `json:"data,omitempty" gorm:"serializer:json"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Metric is a periodically sampled host or external measurement.
type Metric struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	Node      string         `json:"node"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data" gorm:"serializer:json"`
	Note      string         `json:"note,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	ExpireAt  time.Time      `json:"expire_at"`
}

// EventKind is the severity of an Event.
type EventKind string

const (
	EventKindNormal  EventKind = "Normal"
	EventKindWarning EventKind = "Warning"
	EventKindError   EventKind = "Error"
)

// NativeEventAction enumerates the action labels events carry.
type NativeEventAction string

const (
	ActionCreate   NativeEventAction = "Create"
	ActionUpdating NativeEventAction = "Updating" // deferred: signals reconciliation should run
	ActionUpdated  NativeEventAction = "Updated"
	ActionStarted  NativeEventAction = "Started"
	ActionStopped  NativeEventAction = "Stopped"
	ActionDeleted  NativeEventAction = "Deleted"
	ActionErrored  NativeEventAction = "Errored"
	ActionDelete   NativeEventAction = "Delete"
)

// Actor identifies the object an Event is about.
type Actor struct {
	Kind string `json:"kind"`
	Key  string `json:"key"`
}

// Event is a structured record of a mutation or status transition,
// persisted and broadcast to subscribers.
type Event struct {
	ID                 string            `json:"id" gorm:"primaryKey"`
	ReportingController string           `json:"reporting_controller"`
	ReportingNode       string           `json:"reporting_node"`
	Kind                EventKind        `json:"kind"`
	Action              NativeEventAction `json:"action"`
	Actor               Actor            `json:"actor" gorm:"serializer:json"`
	Related             *Actor           `json:"related,omitempty" gorm:"serializer:json"`
	Reason              string           `json:"reason,omitempty"`
	Note                string           `json:"note,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty" gorm:"serializer:json"`
	CreatedAt           time.Time        `json:"created_at"`
}

// EventCondition is a composite-AND predicate used by subscribe_until;
// multiple conditions passed together are OR-ed.
type EventCondition struct {
	ActorKind string            `json:"actor_kind,omitempty"`
	ActorKey  string            `json:"actor_key,omitempty"`
	Action    NativeEventAction `json:"action,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Kind      EventKind         `json:"kind,omitempty"`
}

// Matches reports whether e satisfies every non-empty field of c.
func (c EventCondition) Matches(e *Event) bool {
	if c.ActorKind != "" && c.ActorKind != e.Actor.Kind {
		return false
	}
	if c.ActorKey != "" && c.ActorKey != e.Actor.Key {
		return false
	}
	if c.Action != "" && c.Action != e.Action {
		return false
	}
	if c.Reason != "" && c.Reason != e.Reason {
		return false
	}
	if c.Kind != "" && c.Kind != e.Kind {
		return false
	}
	return true
}
