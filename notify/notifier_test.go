package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencatalyst/catalyst/event"
)

func tableEvent(id string) *event.ChangeEvent {
	return &event.ChangeEvent{ID: id, EventType: event.TypeCreated, EntityType: "table", EntityID: "e-" + id}
}

func TestHubSignalReachesMatchingSubscribers(t *testing.T) {
	h := NewHub()

	all, cancelAll := h.Subscribe(Filter{})
	defer cancelAll()
	tables, cancelTables := h.Subscribe(Filter{EntityTypes: []string{"table"}})
	defer cancelTables()
	dashboards, cancelDash := h.Subscribe(Filter{EntityTypes: []string{"dashboard"}})
	defer cancelDash()

	h.Signal(tableEvent("1"))

	require.Len(t, all, 1)
	require.Len(t, tables, 1)
	assert.Len(t, dashboards, 0)

	got := <-tables
	assert.Equal(t, "1", got.ID)
}

func TestHubDropsWhenSubscriberLags(t *testing.T) {
	h := NewHub()

	ch, cancel := h.Subscribe(Filter{})
	defer cancel()

	// Overfill the buffer; the excess is dropped, Signal never blocks
	for i := 0; i < defaultBufferSize+5; i++ {
		h.Signal(tableEvent("x"))
	}
	assert.Len(t, ch, defaultBufferSize)
}

func TestHubCancelClosesChannel(t *testing.T) {
	h := NewHub()

	ch, cancel := h.Subscribe(Filter{})
	cancel()
	cancel() // idempotent

	_, open := <-ch
	assert.False(t, open)

	// Signalling after cancel reaches nobody and must not panic
	h.Signal(tableEvent("1"))
}

func TestHubIgnoresNilEvents(t *testing.T) {
	h := NewHub()
	ch, cancel := h.Subscribe(Filter{})
	defer cancel()

	h.Signal(nil)
	h.OnEvent(tableEvent("1"), 0, true)
	assert.Len(t, ch, 1)
}
