// Package subscription serves the HTTP streaming endpoint backing
// events/watch: a line-delimited JSON feed of events, optionally
// closed early when a condition matches.
package subscription

import (
	"context"
	"encoding/json"
	"io"

	"github.com/cuemby/fleetd/internal/eventbus"
	"github.com/cuemby/fleetd/internal/types"
)

// Service streams events from the bus to HTTP watchers.
type Service struct {
	bus *eventbus.Bus
}

// New builds a subscription service over bus.
func New(bus *eventbus.Bus) *Service {
	return &Service{bus: bus}
}

// Flusher is implemented by response writers that can push buffered
// bytes to the client immediately, e.g. echo's http.Flusher-backed
// response writer.
type Flusher interface {
	Flush()
}

// Watch subscribes to the bus and writes each event as one JSON object
// per line to w, flushing after every write when w supports it. It
// returns when ctx is cancelled (client disconnect), when an event
// matches any of conds (subscribe_until), or when the subscription is
// dropped for lagging.
//
// An empty conds list never matches, so Watch runs until ctx is done.
func (svc *Service) Watch(ctx context.Context, conds []types.EventCondition, w io.Writer) error {
	sub := svc.bus.Subscribe()
	defer svc.bus.Unsubscribe(sub)

	enc := json.NewEncoder(w)
	flush, _ := w.(Flusher)

	for {
		select {
		case e, ok := <-sub:
			if !ok {
				return nil
			}
			if e.Reason == "lagged" && e.Action == types.ActionErrored {
				_ = enc.Encode(e)
				return nil
			}
			if err := enc.Encode(e); err != nil {
				return err
			}
			if flush != nil {
				flush.Flush()
			}
			for _, c := range conds {
				if c.Matches(e) {
					return nil
				}
			}
		case <-ctx.Done():
			return nil
		}
	}
}
