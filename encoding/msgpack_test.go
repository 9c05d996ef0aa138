package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencatalyst/catalyst/event"
)

func TestRoundTripPreservesStringsInUntypedFields(t *testing.T) {
	ev := &event.ChangeEvent{
		ID:         "ev-1",
		EventType:  event.TypeUpdated,
		EntityType: "table",
		EntityID:   "e-1",
		Entity:     map[string]any{"name": "orders", "rowCount": int64(42)},
		Description: &event.ChangeDescription{
			FieldsUpdated: []event.FieldChange{
				{Name: "description", OldValue: "a", NewValue: "b"},
			},
		},
	}

	data, err := Marshal(ev)
	require.NoError(t, err)

	var got event.ChangeEvent
	require.NoError(t, Unmarshal(data, &got))

	assert.Equal(t, "ev-1", got.ID)
	// Untyped values come back as strings, not []byte
	assert.Equal(t, "orders", got.Entity["name"])
	assert.Equal(t, "b", got.Description.FieldsUpdated[0].NewValue)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var out map[string]any
	assert.Error(t, Unmarshal([]byte{0xc1}, &out))
}
