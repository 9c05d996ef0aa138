package search

import (
	"fmt"
	"sync"
)

// RecordError is one failed record: its identifier plus the failure message
// reported by the search engine (or produced locally for oversized records).
type RecordError struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// StepStats accumulates indexing outcomes across the life of a sink. Counters
// only ever grow; a reindex progress endpoint reads them while the job runs.
type StepStats struct {
	mu        sync.Mutex
	submitted int64
	succeeded int64
	failed    int64
	errors    []RecordError
}

func (s *StepStats) addSubmitted(n int) {
	s.mu.Lock()
	s.submitted += int64(n)
	s.mu.Unlock()
}

func (s *StepStats) recordSuccess() {
	s.mu.Lock()
	s.succeeded++
	s.mu.Unlock()
}

func (s *StepStats) recordFailure(id, message string) {
	s.mu.Lock()
	s.failed++
	s.errors = append(s.errors, RecordError{ID: id, Message: message})
	s.mu.Unlock()
}

// Submitted returns how many records entered the sink.
func (s *StepStats) Submitted() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// Succeeded returns how many records the search engine accepted.
func (s *StepStats) Succeeded() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.succeeded
}

// Failed returns how many records failed, including oversized ones.
func (s *StepStats) Failed() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Errors returns a copy of the accumulated per-record errors.
func (s *StepStats) Errors() []RecordError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecordError, len(s.errors))
	copy(out, s.errors)
	return out
}

// IndexingError aggregates a pass with at least one failed record. The sink
// raises it as a signal after all input was processed; the stats object still
// carries the true counts.
type IndexingError struct {
	Succeeded int64
	Failed    int64
	Errors    []RecordError
}

func (e *IndexingError) Error() string {
	return fmt.Sprintf("indexing finished with %d failed records (%d succeeded)", e.Failed, e.Succeeded)
}
