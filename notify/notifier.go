// Package notify fans change events out to in-process subscribers, typically
// websocket sessions pushing activity feeds to the UI. Delivery is best
// effort: a subscriber that cannot keep up loses signals, never slows the
// bus.
package notify

import (
	"sync"
	"sync/atomic"

	"github.com/opencatalyst/catalyst/event"
	"github.com/opencatalyst/catalyst/telemetry"
)

// defaultBufferSize is the buffer size for subscriber channels. Sized for
// typical burst rates; slower subscribers have events dropped by the
// non-blocking send.
const defaultBufferSize = 16

// Filter restricts which events a subscriber receives. Empty means all
// entity types.
type Filter struct {
	EntityTypes []string
}

// subscription is a single subscriber.
type subscription struct {
	id     uint64
	filter Filter
	ch     chan *event.ChangeEvent
	closed atomic.Bool
}

func (s *subscription) matches(entityType string) bool {
	if len(s.filter.EntityTypes) == 0 {
		return true
	}
	for _, t := range s.filter.EntityTypes {
		if t == entityType {
			return true
		}
	}
	return false
}

func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe notification fan-out.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Signal sends the event to all matching subscribers without blocking. Full
// buffers drop the event for that subscriber.
func (h *Hub) Signal(ev *event.ChangeEvent) {
	if ev == nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(ev.EntityType) {
			continue
		}

		select {
		case sub.ch <- ev:
		default:
			telemetry.NotifyDroppedTotal.Inc()
		}
	}
}

// Subscribe registers a subscriber and returns its channel plus an
// idempotent cancel function. The channel is buffered; Signal drops events
// for subscribers that fall behind.
func (h *Hub) Subscribe(filter Filter) (<-chan *event.ChangeEvent, func()) {
	sub := &subscription{
		id:     h.nextID.Add(1),
		filter: filter,
		ch:     make(chan *event.ChangeEvent, defaultBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}
	return sub.ch, cancel
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// OnEvent implements the bus consumer contract so the hub can attach to the
// bus directly.
func (h *Hub) OnEvent(ev *event.ChangeEvent, _ uint64, _ bool) {
	h.Signal(ev)
}
