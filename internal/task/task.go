// Package task implements the keyed concurrency registry: at most one
// task runs per object key, a new enqueue for the same key cancels and
// supersedes whatever is running, and the worker pool is bounded.
package task

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/cuemby/fleetd/internal/log"
	"github.com/cuemby/fleetd/internal/types"
)

// Func is a unit of reconciliation work. It must honor ctx cancellation
// at every suspension point and leave no partial side effects per step.
type Func func(ctx context.Context) error

type entry struct {
	action types.NativeEventAction
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is the keyed task registry: at most one in-flight task per key,
// enqueue-cancels-prior, wait-for-completion, and a bounded worker pool.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	sem     chan struct{}
}

// NewManager returns a Manager whose worker pool is sized to poolSize.
// poolSize <= 0 defaults to runtime.NumCPU().
func NewManager(poolSize int) *Manager {
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}
	return &Manager{
		entries: make(map[string]*entry),
		sem:     make(chan struct{}, poolSize),
	}
}

// Enqueue installs fn as the active task for key. If a task is already
// running for key it is cancelled and awaited before the new one starts;
// an Update supersedes a prior Update, and a Delete supersedes any prior
// task (Delete is expected to be cancel-safe and idempotent). A Delete in
// progress is never cancelled by any subsequent enqueue for the same key,
// Delete included: that enqueue is tombstoned, i.e. it waits for teardown
// to finish before its task is installed, rather than racing the teardown.
func (m *Manager) Enqueue(key string, action types.NativeEventAction, fn Func) {
	m.mu.Lock()
	if prev, ok := m.entries[key]; ok {
		done := prev.done
		if prev.action == types.ActionDelete {
			m.mu.Unlock()
			<-done
			m.mu.Lock()
		} else {
			prev.cancel()
			m.mu.Unlock()
			<-done
			m.mu.Lock()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &entry{action: action, cancel: cancel, done: make(chan struct{})}
	m.entries[key] = e
	m.mu.Unlock()

	go m.run(key, e, ctx, fn)
}

func (m *Manager) run(key string, e *entry, ctx context.Context, fn Func) {
	defer close(e.done)
	defer m.complete(key, e)

	select {
	case m.sem <- struct{}{}:
		defer func() { <-m.sem }()
	case <-ctx.Done():
		return
	}

	if err := fn(ctx); err != nil {
		if ctx.Err() != nil {
			log.Debug(fmt.Sprintf("task %s cancelled: %v", key, err))
			return
		}
		log.Errorf(fmt.Sprintf("task %s failed", key), err)
	}
}

// complete removes key's entry, but only if it is still e — a superseding
// Enqueue may already have installed a new entry by the time this runs.
func (m *Manager) complete(key string, e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.entries[key]; ok && cur == e {
		delete(m.entries, key)
	}
}

// Wait blocks until the currently active task for key (if any) completes.
func (m *Manager) Wait(key string) {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return
	}
	<-e.done
}

// Active reports whether a task is currently registered for key.
func (m *Manager) Active(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[key]
	return ok
}

// Len returns the number of currently active keys, for metrics.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
