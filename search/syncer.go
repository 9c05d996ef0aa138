package search

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/opencatalyst/catalyst/event"
)

const syncTimeout = 30 * time.Second

// Syncer is the live index-sync bus consumer. It converts snapshot-bearing
// change events into write operations and pushes them through the bulk sink,
// so the search index follows entity mutations without a full reindex.
type Syncer struct {
	sink  *Sink
	stats *StepStats

	pending []WriteOp
}

// NewSyncer creates a syncer writing through the sink. Stats accumulate for
// the life of the syncer and back the reindex progress endpoint.
func NewSyncer(sink *Sink) *Syncer {
	return &Syncer{sink: sink, stats: &StepStats{}}
}

// Stats exposes the accumulated indexing outcomes.
func (s *Syncer) Stats() *StepStats { return s.stats }

// OnEvent implements the bus consumer contract. Operations accumulate per
// run of available events and flush at end of batch; indexing failures are
// surfaced through stats and logs, never propagated to the bus.
func (s *Syncer) OnEvent(ev *event.ChangeEvent, _ uint64, endOfBatch bool) {
	if op, ok := opFor(ev); ok {
		s.pending = append(s.pending, op)
	}

	if endOfBatch && len(s.pending) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		err := s.sink.Write(ctx, s.pending, s.stats)
		cancel()
		if err != nil {
			log.Warn().Err(err).Int("records", len(s.pending)).Msg("Index sync pass had failures")
		}
		s.pending = s.pending[:0]
	}
}

// opFor maps one change event to an index write. Deletes drop the document,
// soft deletes and restores update the existing one, everything else indexes
// the post-mutation snapshot.
func opFor(ev *event.ChangeEvent) (WriteOp, bool) {
	if ev == nil || ev.EntityID == "" {
		return WriteOp{}, false
	}

	switch ev.EventType {
	case event.TypeDeleted:
		return WriteOp{ID: ev.EntityID, EntityType: ev.EntityType, Action: ActionDelete}, true
	case event.TypeSoftDeleted, event.TypeRestored:
		// Copy the snapshot; the event is shared with every other consumer
		doc := make(map[string]any, len(ev.Entity)+1)
		for k, v := range ev.Entity {
			doc[k] = v
		}
		doc["deleted"] = ev.EventType == event.TypeSoftDeleted
		return WriteOp{ID: ev.EntityID, EntityType: ev.EntityType, Action: ActionUpdate, Document: doc}, true
	default:
		if ev.Entity == nil {
			// No snapshot to index; live sync skips, reindex picks it up
			return WriteOp{}, false
		}
		return WriteOp{ID: ev.EntityID, EntityType: ev.EntityType, Action: ActionIndex, Document: ev.Entity}, true
	}
}
