package audit

import (
	"github.com/rs/zerolog/log"

	"github.com/opencatalyst/catalyst/event"
)

// Consumer adapts the log to the bus consumer contract. Append failures are
// logged and skipped; the bus isolates them from other consumers either way,
// but a persistent store error must not wedge the cursor.
type Consumer struct {
	log *Log
}

// NewConsumer wraps the log for bus attachment.
func NewConsumer(l *Log) *Consumer {
	return &Consumer{log: l}
}

// OnEvent persists one event.
func (c *Consumer) OnEvent(ev *event.ChangeEvent, seq uint64, _ bool) {
	if _, err := c.log.Append(ev); err != nil {
		log.Error().
			Err(err).
			Uint64("seq", seq).
			Msg("Failed to persist audit event")
	}
}
