package destination

import (
	"context"
	"sync"

	"github.com/opencatalyst/catalyst/event"
)

// Mock is an in-memory Destination for testing publishers and the registry.
type Mock struct {
	mu       sync.Mutex
	batches  [][]*event.ChangeEvent
	failures []error // errors returned in order before succeeding
	closed   bool
}

// FailWith queues errors to return on the next Deliver calls, in order.
func (m *Mock) FailWith(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, errs...)
}

// Deliver records the batch, or returns the next queued failure.
func (m *Mock) Deliver(_ context.Context, batch []*event.ChangeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return err
	}

	copied := make([]*event.ChangeEvent, len(batch))
	copy(copied, batch)
	m.batches = append(m.batches, copied)
	return nil
}

// Close marks the mock closed.
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Batches returns a copy of all delivered batches.
func (m *Mock) Batches() [][]*event.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*event.ChangeEvent, len(m.batches))
	copy(out, m.batches)
	return out
}

// BatchCount returns how many batches were delivered.
func (m *Mock) BatchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

// Events returns all delivered events flattened in order.
func (m *Mock) Events() []*event.ChangeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.ChangeEvent
	for _, b := range m.batches {
		out = append(out, b...)
	}
	return out
}

// Closed reports whether Close was called.
func (m *Mock) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
