package bus

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/opencatalyst/catalyst/event"
	"github.com/opencatalyst/catalyst/telemetry"
)

// DefaultCapacity is the ring size used when the configuration leaves it unset.
const DefaultCapacity = 1024

// Consumer receives change events strictly in publish order. endOfBatch is
// true when the event is the last one currently available to this consumer,
// which is the flush signal for batching consumers. OnEvent runs on the
// consumer's dedicated goroutine; blocking inside it stalls only this
// consumer's cursor (and, once the ring fills, the producer).
type Consumer interface {
	OnEvent(ev *event.ChangeEvent, seq uint64, endOfBatch bool)
}

// Handle identifies an attached consumer. It is returned by Subscribe and
// required to detach.
type Handle struct {
	name     string
	consumer Consumer

	// cursor is the next sequence this consumer will read. Guarded by the
	// bus mutex; it is the consumer's gating sequence for slot reuse.
	cursor uint64

	stopped bool // guarded by the bus mutex
	done    chan struct{}
}

// Name returns the consumer name the handle was registered under.
func (h *Handle) Name() string { return h.name }

// Bus is a bounded single-process ring buffer with one producer side and any
// number of independently paced consumers. Publish blocks when the slowest
// attached consumer still gates the slot the producer needs; that is the
// backpressure contract, trading throughput for bounded memory. The bus
// delivers each event once per consumer and has no retry concept of its own.
type Bus struct {
	mask  uint64
	slots []*event.ChangeEvent

	mu         sync.Mutex
	canPublish *sync.Cond // producer waits for slot reuse
	canConsume *sync.Cond // consumers wait for new events

	published uint64 // next sequence to be written
	consumers map[*Handle]struct{}
	closed    bool
}

// New creates a bus with the given capacity. Capacity must be a power of two.
func New(capacity int) (*Bus, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if capacity&(capacity-1) != 0 {
		return nil, fmt.Errorf("bus capacity must be a power of two, got %d", capacity)
	}
	b := &Bus{
		mask:      uint64(capacity - 1),
		slots:     make([]*event.ChangeEvent, capacity),
		consumers: make(map[*Handle]struct{}),
	}
	b.canPublish = sync.NewCond(&b.mu)
	b.canConsume = sync.NewCond(&b.mu)
	return b, nil
}

// Capacity returns the fixed ring size.
func (b *Bus) Capacity() int { return len(b.slots) }

// gated reports whether writing sequence seq would overwrite a slot some
// consumer has not read yet. Callers must hold b.mu.
func (b *Bus) gated(seq uint64) bool {
	capacity := uint64(len(b.slots))
	for h := range b.consumers {
		if h.stopped {
			continue
		}
		if seq-h.cursor >= capacity {
			return true
		}
	}
	return false
}

// Publish appends an event to the ring. It blocks while the slowest consumer
// gates the target slot and returns an error only once the bus is closed.
// Events are never dropped or overwritten before every consumer has seen them.
func (b *Bus) Publish(ev *event.ChangeEvent) error {
	b.mu.Lock()
	for !b.closed && b.gated(b.published) {
		telemetry.BusProducerWaits.Inc()
		b.canPublish.Wait()
	}
	if b.closed {
		b.mu.Unlock()
		return fmt.Errorf("bus is closed")
	}
	b.slots[b.published&b.mask] = ev
	b.published++
	b.canConsume.Broadcast()
	b.mu.Unlock()

	telemetry.BusEventsPublished.Inc()
	return nil
}

// Subscribe attaches a consumer starting at the current tail and returns its
// handle. The consumer runs on its own goroutine until Unsubscribe or Close.
func (b *Bus) Subscribe(name string, c Consumer) (*Handle, error) {
	if c == nil {
		return nil, fmt.Errorf("consumer is required")
	}

	h := &Handle{
		name:     name,
		consumer: c,
		done:     make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("bus is closed")
	}
	// Names key the per-consumer metric series and must stay unique while
	// the consumer is attached.
	for existing := range b.consumers {
		if existing.name == name && !existing.stopped {
			b.mu.Unlock()
			return nil, fmt.Errorf("consumer name %s is already in use", name)
		}
	}
	h.cursor = b.published
	b.consumers[h] = struct{}{}
	b.mu.Unlock()

	log.Debug().Str("consumer", name).Msg("Attached bus consumer")
	go b.consumeLoop(h)
	return h, nil
}

// Unsubscribe detaches a consumer and waits until its goroutine has finished
// the current unit of work and stopped. Detaching releases the consumer's
// gating constraint, which may unblock the producer.
func (b *Bus) Unsubscribe(h *Handle) {
	if h == nil {
		return
	}

	b.mu.Lock()
	if _, ok := b.consumers[h]; !ok {
		b.mu.Unlock()
		return
	}
	h.stopped = true
	b.canConsume.Broadcast()
	b.canPublish.Broadcast()
	b.mu.Unlock()

	<-h.done

	b.mu.Lock()
	delete(b.consumers, h)
	b.canPublish.Broadcast()
	b.mu.Unlock()

	log.Debug().Str("consumer", h.name).Msg("Detached bus consumer")
}

// Lag returns how many published events the consumer has not read yet.
func (b *Bus) Lag(h *Handle) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.published - h.cursor
}

// Close shuts the bus down. Consumers drain events already published, then
// their goroutines exit. Publish fails afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	handles := make([]*Handle, 0, len(b.consumers))
	for h := range b.consumers {
		handles = append(handles, h)
	}
	b.canConsume.Broadcast()
	b.canPublish.Broadcast()
	b.mu.Unlock()

	for _, h := range handles {
		<-h.done
	}

	b.mu.Lock()
	for h := range b.consumers {
		delete(b.consumers, h)
	}
	b.mu.Unlock()
}

// consumeLoop reads available events and hands them to the consumer. The
// consumer's cursor advances only after OnEvent returns, so a blocked handler
// keeps gating the ring.
func (b *Bus) consumeLoop(h *Handle) {
	defer close(h.done)

	for {
		b.mu.Lock()
		for h.cursor == b.published && !h.stopped && !b.closed {
			b.canConsume.Wait()
		}
		if h.stopped || (b.closed && h.cursor == b.published) {
			b.mu.Unlock()
			return
		}
		upper := b.published
		b.mu.Unlock()

		for seq := h.cursor; seq < upper; seq++ {
			// The slot cannot be reused while this cursor still gates it,
			// so the read is safe outside the lock.
			ev := b.slots[seq&b.mask]
			b.invoke(h, ev, seq, seq == upper-1)

			b.mu.Lock()
			h.cursor = seq + 1
			b.canPublish.Broadcast()
			stopped := h.stopped
			b.mu.Unlock()

			telemetry.BusConsumerLag.With(h.name).Set(float64(b.Lag(h)))
			if stopped {
				return
			}
		}
	}
}

// invoke isolates consumer panics: a handler failure must never reach the
// producer or any other consumer.
func (b *Bus) invoke(h *Handle, ev *event.ChangeEvent, seq uint64, endOfBatch bool) {
	defer func() {
		if r := recover(); r != nil {
			telemetry.BusConsumerPanics.With(h.name).Inc()
			log.Error().
				Str("consumer", h.name).
				Uint64("seq", seq).
				Interface("panic", r).
				Msg("Bus consumer panicked, event skipped for this consumer")
		}
	}()
	h.consumer.OnEvent(ev, seq, endOfBatch)
}
