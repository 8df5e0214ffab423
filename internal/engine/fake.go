package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// FakeEngine is an in-memory Engine used by unit tests that exercise the
// reconciler without a real container runtime.
type FakeEngine struct {
	mu         sync.Mutex
	containers map[string]State
	pulled     map[string]int
	Fail       map[string]error // id -> forced failure for CreateContainer/StartContainer
}

// NewFake returns an empty FakeEngine.
func NewFake() *FakeEngine {
	return &FakeEngine{
		containers: make(map[string]State),
		pulled:     make(map[string]int),
		Fail:       make(map[string]error),
	}
}

func (f *FakeEngine) Close() error { return nil }

func (f *FakeEngine) PullImage(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled[ref]++
	return nil
}

// PullCount returns how many times ref was pulled, for assertions.
func (f *FakeEngine) PullCount(ref string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pulled[ref]
}

func (f *FakeEngine) CreateContainer(_ context.Context, spec Spec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Fail[spec.ID]; err != nil {
		return "", err
	}
	f.containers[spec.ID] = StatePending
	return spec.ID, nil
}

func (f *FakeEngine) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.Fail[id]; err != nil {
		return err
	}
	if _, ok := f.containers[id]; !ok {
		return fmt.Errorf("container %s not found", id)
	}
	f.containers[id] = StateRunning
	return nil
}

func (f *FakeEngine) StopContainer(_ context.Context, id string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[id]; !ok {
		return nil
	}
	f.containers[id] = StateComplete
	return nil
}

func (f *FakeEngine) KillContainer(_ context.Context, id string, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[id] = StateComplete
	return nil
}

func (f *FakeEngine) RestartContainer(ctx context.Context, id string, timeout time.Duration) error {
	if err := f.StopContainer(ctx, id, timeout); err != nil {
		return err
	}
	return f.StartContainer(ctx, id)
}

func (f *FakeEngine) RemoveContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

func (f *FakeEngine) InspectContainer(_ context.Context, id string) (State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.containers[id]
	if !ok {
		return StateFailed, fmt.Errorf("container %s not found", id)
	}
	return st, nil
}

func (f *FakeEngine) ContainerLogs(_ context.Context, _ string, w io.Writer) error {
	_, err := w.Write([]byte(""))
	return err
}

func (f *FakeEngine) ExecCreate(_ context.Context, id string, _ []string) (string, error) {
	return id + "-exec", nil
}

func (f *FakeEngine) ExecStart(_ context.Context, _ string) error { return nil }

func (f *FakeEngine) ExecInspect(_ context.Context, _ string) (State, error) {
	return StateComplete, nil
}

func (f *FakeEngine) CreateNetwork(_ context.Context, _ string) error { return nil }

func (f *FakeEngine) InspectNetwork(_ context.Context, _ string) (bool, error) { return true, nil }

// Containers returns a snapshot of container id -> state, for assertions.
func (f *FakeEngine) Containers() map[string]State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]State, len(f.containers))
	for k, v := range f.containers {
		out[k] = v
	}
	return out
}
