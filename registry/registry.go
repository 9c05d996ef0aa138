// Package registry owns the lifecycle of alert publishers. It maps every
// enabled subscription-destination pair to one live publisher attached to the
// event bus, and rebuilds those pairs when subscriptions change.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"

	"github.com/opencatalyst/catalyst/alert"
	"github.com/opencatalyst/catalyst/alert/destination"
	"github.com/opencatalyst/catalyst/bus"
	"github.com/opencatalyst/catalyst/rules"
	"github.com/opencatalyst/catalyst/telemetry"
)

// live is one running subscription-destination pair.
type live struct {
	subID  string
	pub    *alert.Publisher
	handle *bus.Handle
	dest   destination.Config

	// haltOnce makes halting idempotent: a disabled pair stays in the map
	// for Status reporting and must not be torn down twice.
	haltOnce sync.Once
}

// Registry tracks live publishers keyed by subscription id, then destination
// id. Reads are lock-free; structural changes for one subscription are
// serialized by the caller-facing operations themselves.
type Registry struct {
	bus  *bus.Bus
	eval *rules.Evaluator

	// Rungs overrides the backoff ladder for every publisher. nil selects
	// the default ladder. Set before the first Upsert.
	Rungs []time.Duration

	subs *xsync.MapOf[string, *xsync.MapOf[string, *live]]

	// byDest is the relationship index for destination-wide operations:
	// destination id to the running pairs referencing it, keyed by
	// subscription id. Pairs leave the index when they are halted.
	byDest *xsync.MapOf[string, *xsync.MapOf[string, *live]]
}

// New creates an empty registry bound to the bus and rule evaluator.
func New(b *bus.Bus, eval *rules.Evaluator) *Registry {
	return &Registry{
		bus:    b,
		eval:   eval,
		subs:   xsync.NewMapOf[string, *xsync.MapOf[string, *live]](),
		byDest: xsync.NewMapOf[string, *xsync.MapOf[string, *live]](),
	}
}

// Upsert applies a subscription create or update. Existing publishers for the
// subscription are halted and drained first, then one new publisher per
// enabled destination is built and attached to the bus. A disabled
// subscription keeps its entry with no live pairs so Status can report it.
func (r *Registry) Upsert(sub alert.Subscription) error {
	if err := sub.Validate(); err != nil {
		return fmt.Errorf("invalid subscription %s: %w", sub.ID, err)
	}

	r.teardown(sub.ID)

	pairs := xsync.NewMapOf[string, *live]()
	r.subs.Store(sub.ID, pairs)

	if !sub.Enabled {
		log.Info().Str("subscription", sub.ID).Msg("Subscription disabled, no publishers started")
		return nil
	}

	var started []*live
	for _, dc := range sub.Destinations {
		if !dc.Enabled {
			continue
		}

		pub, err := alert.NewPublisher(alert.PublisherConfig{
			Subscription: sub,
			Destination:  dc,
			Evaluator:    r.eval,
			Rungs:        r.Rungs,
		})
		if err != nil {
			r.haltAll(started)
			r.subs.Delete(sub.ID)
			return fmt.Errorf("failed to build publisher for %s/%s: %w", sub.ID, dc.ID, err)
		}

		handle, err := r.bus.Subscribe(sub.ID+"/"+dc.ID, pub)
		if err != nil {
			pub.Halt()
			pub.Drain()
			r.haltAll(started)
			r.subs.Delete(sub.ID)
			return fmt.Errorf("failed to attach publisher for %s/%s: %w", sub.ID, dc.ID, err)
		}

		l := &live{subID: sub.ID, pub: pub, handle: handle, dest: dc}
		pairs.Store(dc.ID, l)
		byDest, _ := r.byDest.LoadOrStore(dc.ID, xsync.NewMapOf[string, *live]())
		byDest.Store(sub.ID, l)
		started = append(started, l)
		telemetry.PublishersLive.Inc()

		log.Info().
			Str("subscription", sub.ID).
			Str("destination", dc.ID).
			Str("type", string(dc.Type)).
			Msg("Publisher started")
	}
	return nil
}

// Delete removes a subscription and stops all of its publishers.
func (r *Registry) Delete(subID string) {
	r.teardown(subID)
	r.subs.Delete(subID)
	log.Info().Str("subscription", subID).Msg("Subscription removed")
}

// DisableDestination stops the single publisher for one pair and marks it
// disabled. The rest of the subscription keeps running.
func (r *Registry) DisableDestination(subID, destID string) error {
	pairs, ok := r.subs.Load(subID)
	if !ok {
		return fmt.Errorf("unknown subscription %s", subID)
	}
	l, ok := pairs.Load(destID)
	if !ok {
		return fmt.Errorf("unknown destination %s for subscription %s", destID, subID)
	}

	r.halt(l)
	l.pub.MarkDisabled()
	log.Info().
		Str("subscription", subID).
		Str("destination", destID).
		Msg("Destination disabled")
	return nil
}

// DisableDestinationGlobally stops every running publisher referencing the
// destination id, across all subscriptions, and marks each disabled. The
// lookup goes through the relationship index, not the subscription map, so an
// operator needs only the destination id. Returns how many publishers were
// stopped.
func (r *Registry) DisableDestinationGlobally(destID string) (int, error) {
	byDest, ok := r.byDest.Load(destID)
	if !ok {
		return 0, fmt.Errorf("no running publisher references destination %s", destID)
	}

	var lives []*live
	byDest.Range(func(_ string, l *live) bool {
		lives = append(lives, l)
		return true
	})
	if len(lives) == 0 {
		return 0, fmt.Errorf("no running publisher references destination %s", destID)
	}

	r.haltAll(lives)
	for _, l := range lives {
		l.pub.MarkDisabled()
		log.Info().
			Str("subscription", l.subID).
			Str("destination", destID).
			Msg("Destination disabled globally")
	}
	return len(lives), nil
}

// Status reports the delivery status of every destination of a subscription.
func (r *Registry) Status(subID string) (map[string]alert.DeliveryStatus, bool) {
	pairs, ok := r.subs.Load(subID)
	if !ok {
		return nil, false
	}
	out := make(map[string]alert.DeliveryStatus)
	pairs.Range(func(destID string, l *live) bool {
		out[destID] = l.pub.Status()
		return true
	})
	return out, true
}

// Subscriptions lists the ids of all registered subscriptions.
func (r *Registry) Subscriptions() []string {
	var ids []string
	r.subs.Range(func(id string, _ *xsync.MapOf[string, *live]) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}

// Close stops every publisher. The bus itself is closed by the caller.
func (r *Registry) Close() {
	r.subs.Range(func(subID string, _ *xsync.MapOf[string, *live]) bool {
		r.teardown(subID)
		r.subs.Delete(subID)
		return true
	})
}

// teardown halts and drains all live pairs of one subscription concurrently.
// Halt ordering per pair: stop accepting and interrupt any backoff sleep,
// detach from the bus so the cursor stops gating the ring, then drain.
func (r *Registry) teardown(subID string) {
	pairs, ok := r.subs.Load(subID)
	if !ok {
		return
	}

	var lives []*live
	pairs.Range(func(destID string, l *live) bool {
		pairs.Delete(destID)
		lives = append(lives, l)
		return true
	})
	r.haltAll(lives)
}

// haltAll stops pairs in parallel and waits for all of them. A pair stuck in
// a long delivery call delays only its own future.
func (r *Registry) haltAll(lives []*live) {
	futs := make([]*future.Future[struct{}], 0, len(lives))
	for _, l := range lives {
		l := l
		p := future.NewPromise[struct{}]()
		futs = append(futs, p.Future())
		go func() {
			r.halt(l)
			p.Set(struct{}{}, nil)
		}()
	}
	for _, f := range futs {
		_, _ = f.Get()
	}
}

func (r *Registry) halt(l *live) {
	l.haltOnce.Do(func() {
		l.pub.Halt()
		r.bus.Unsubscribe(l.handle)
		l.pub.Drain()
		if byDest, ok := r.byDest.Load(l.dest.ID); ok {
			byDest.Delete(l.subID)
		}
		telemetry.PublishersLive.Dec()
	})
}
