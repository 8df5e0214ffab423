// Package eventbus is the pub/sub backbone used to fan out lifecycle
// events to HTTP watchers and to persist them through the store.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/fleetd/internal/log"
	"github.com/cuemby/fleetd/internal/store"
	"github.com/cuemby/fleetd/internal/types"
	"github.com/google/uuid"
)

// Subscriber is a channel that receives events.
type Subscriber chan *types.Event

// Bus manages event subscriptions, distribution and durable persistence.
type Bus struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *types.Event
	stopCh      chan struct{}

	store            store.Store
	reportingNode    string
	reportingControl string
}

// New creates a Bus that persists every published event through s using
// reportingNode/reportingController as the Event's origin fields.
func New(s store.Store, reportingNode, reportingController string) *Bus {
	return &Bus{
		subscribers:      make(map[Subscriber]bool),
		eventCh:          make(chan *types.Event, 100),
		stopCh:           make(chan struct{}),
		store:            s,
		reportingNode:    reportingNode,
		reportingControl: reportingController,
	}
}

// Start begins the bus's distribution loop.
func (b *Bus) Start() {
	go b.run()
}

// Stop stops the bus.
func (b *Bus) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a buffered channel.
func (b *Bus) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; !ok {
		return
	}
	delete(b.subscribers, sub)
	close(sub)
}

// Emit constructs and publishes an event asynchronously; persistence and
// broadcast happen on the bus goroutine.
func (b *Bus) Emit(kind types.EventKind, action types.NativeEventAction, actor types.Actor, reason, note string) {
	e := &types.Event{
		ID:                   uuid.NewString(),
		ReportingController:  b.reportingControl,
		ReportingNode:        b.reportingNode,
		Kind:                 kind,
		Action:               action,
		Actor:                actor,
		Reason:               reason,
		Note:                 note,
		CreatedAt:            time.Now(),
	}
	select {
	case b.eventCh <- e:
	case <-b.stopCh:
	}
}

// EmitSync persists and broadcasts an event inline, for callers on the
// request path that must surface a persistence failure.
func (b *Bus) EmitSync(ctx context.Context, kind types.EventKind, action types.NativeEventAction, actor types.Actor, reason, note string) error {
	e := &types.Event{
		ID:                   uuid.NewString(),
		ReportingController:  b.reportingControl,
		ReportingNode:        b.reportingNode,
		Kind:                 kind,
		Action:               action,
		Actor:                actor,
		Reason:               reason,
		Note:                 note,
		CreatedAt:            time.Now(),
	}
	if err := b.persist(ctx, e); err != nil {
		return err
	}
	b.broadcast(e)
	return nil
}

func (b *Bus) run() {
	for {
		select {
		case e := <-b.eventCh:
			if err := b.persist(context.Background(), e); err != nil {
				log.Errorf("persisting event %s", err)
			}
			b.broadcast(e)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Bus) persist(ctx context.Context, e *types.Event) error {
	if b.store == nil {
		return nil
	}
	return b.store.AppendEvent(ctx, e)
}

// laggedSignal builds the synthetic event sent to a subscriber whose
// buffer is full, just before it is disconnected.
// It carries no event-table row of its own; the subscriber sees it as a
// Warning event with ActionErrored and reason "lagged".
func laggedSignal() *types.Event {
	return &types.Event{
		Kind:   types.EventKindWarning,
		Action: types.ActionErrored,
		Reason: "lagged",
	}
}

func (b *Bus) broadcast(e *types.Event) {
	b.mu.RLock()
	toDrop := make([]Subscriber, 0)
	for sub := range b.subscribers {
		select {
		case sub <- e:
		default:
			toDrop = append(toDrop, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range toDrop {
		log.Warn("subscriber buffer full, sending lagged signal and disconnecting")
		select {
		case <-sub: // make room for the lagged signal by dropping the oldest queued event
		default:
		}
		select {
		case sub <- laggedSignal():
		default:
		}
		b.Unsubscribe(sub)
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// WaitFor blocks until an event matching any of conds arrives, ctx is
// cancelled, or timeout elapses. It is the backing for subscribe_until
// semantics: multiple conditions are OR-ed together.
func (b *Bus) WaitFor(ctx context.Context, timeout time.Duration, conds ...types.EventCondition) (*types.Event, error) {
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return nil, context.Canceled
			}
			for _, c := range conds {
				if c.Matches(e) {
					return e, nil
				}
			}
		case <-timeoutCh:
			return nil, context.DeadlineExceeded
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
