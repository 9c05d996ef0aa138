// Package search maintains the search index: a payload-bounded bulk sink
// shared by the reindex workflow and the live index-sync bus consumer.
package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/opencatalyst/catalyst/telemetry"
)

// Action selects the bulk operation applied to one document.
type Action string

const (
	ActionIndex  Action = "index"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// WriteOp is one pending write against the search index.
type WriteOp struct {
	ID         string
	EntityType string
	Action     Action
	Document   map[string]any
}

// ItemResult is the per-record outcome of a bulk call, positionally aligned
// with the submitted operations.
type ItemResult struct {
	Failed  bool
	Message string
}

// BulkResult carries the per-item outcomes of one bulk call.
type BulkResult struct {
	Items []ItemResult
}

// BulkTransport submits one bulk call. A returned error means the whole call
// failed and no per-item outcomes exist.
type BulkTransport interface {
	Bulk(ctx context.Context, ops []WriteOp) (*BulkResult, error)
}

// DefaultMaxPayloadBytes bounds one bulk call's estimated request size.
const DefaultMaxPayloadBytes = 10 * 1024 * 1024

// Sink groups write operations into payload-bounded bulk calls and attributes
// per-record outcomes back to the caller's stats object.
type Sink struct {
	transport  BulkTransport
	maxPayload int
}

// NewSink creates a bulk sink over the transport. maxPayload <= 0 selects the
// default ceiling.
func NewSink(transport BulkTransport, maxPayload int) *Sink {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayloadBytes
	}
	return &Sink{transport: transport, maxPayload: maxPayload}
}

// estimateSize returns the serialized size one operation contributes to a
// bulk request body.
func estimateSize(op WriteOp) (int, error) {
	size := len(op.ID) + len(op.Action) + 32 // action line overhead
	if op.Action != ActionDelete {
		doc, err := json.Marshal(op.Document)
		if err != nil {
			return 0, fmt.Errorf("failed to encode document %s: %w", op.ID, err)
		}
		size += len(doc) + 1
	}
	return size, nil
}

// Write processes all operations. A record whose estimated size alone exceeds
// the ceiling fails immediately without an attempted call. Otherwise records
// accumulate into a buffer that is flushed before adding a record would push
// it over the ceiling; a flush is never issued above the ceiling. After every
// record was processed, a nonzero failure count raises one aggregated
// IndexingError carrying the full error list.
func (s *Sink) Write(ctx context.Context, ops []WriteOp, stats *StepStats) error {
	stats.addSubmitted(len(ops))

	// The stats object accumulates for the life of the sink; the raised
	// error covers only this pass.
	failedBefore := stats.Failed()
	succeededBefore := stats.Succeeded()
	errorsBefore := len(stats.Errors())

	var pending []WriteOp
	var pendingSize int

	for _, op := range ops {
		size, err := estimateSize(op)
		if err != nil {
			stats.recordFailure(op.ID, err.Error())
			telemetry.BulkRecordsTotal.With("failed").Inc()
			continue
		}
		if size > s.maxPayload {
			stats.recordFailure(op.ID, fmt.Sprintf("entity too large: %d bytes exceeds %d byte limit", size, s.maxPayload))
			telemetry.BulkRecordsTotal.With("oversized").Inc()
			continue
		}

		if pendingSize+size > s.maxPayload {
			s.flush(ctx, pending, pendingSize, stats)
			pending = pending[:0]
			pendingSize = 0
		}
		pending = append(pending, op)
		pendingSize += size
	}
	if len(pending) > 0 {
		s.flush(ctx, pending, pendingSize, stats)
	}

	if failed := stats.Failed() - failedBefore; failed > 0 {
		return &IndexingError{
			Succeeded: stats.Succeeded() - succeededBefore,
			Failed:    failed,
			Errors:    stats.Errors()[errorsBefore:],
		}
	}
	return nil
}

// flush submits one bulk call and attributes outcomes by position. A
// transport-level failure marks every record in the batch failed.
func (s *Sink) flush(ctx context.Context, batch []WriteOp, size int, stats *StepStats) {
	telemetry.BulkPayloadBytes.Observe(float64(size))

	result, err := s.transport.Bulk(ctx, batch)
	if err != nil {
		telemetry.BulkRequestsTotal.With("failed").Inc()
		log.Warn().
			Err(err).
			Int("records", len(batch)).
			Msg("Bulk index call failed")
		for _, op := range batch {
			stats.recordFailure(op.ID, err.Error())
			telemetry.BulkRecordsTotal.With("failed").Inc()
		}
		return
	}

	partial := false
	for i, op := range batch {
		if i < len(result.Items) && result.Items[i].Failed {
			stats.recordFailure(op.ID, result.Items[i].Message)
			telemetry.BulkRecordsTotal.With("failed").Inc()
			partial = true
			continue
		}
		stats.recordSuccess()
		telemetry.BulkRecordsTotal.With("succeeded").Inc()
	}

	if partial {
		telemetry.BulkRequestsTotal.With("partial").Inc()
	} else {
		telemetry.BulkRequestsTotal.With("success").Inc()
	}
}
