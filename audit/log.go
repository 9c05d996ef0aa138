// Package audit persists change events durably. The bus itself is in-memory
// only; this log is the downstream consumer that gives operators a replayable
// history, with redaction of configured fields and dedupe of redelivered
// event ids.
package audit

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"github.com/opencatalyst/catalyst/encoding"
	"github.com/opencatalyst/catalyst/event"
	"github.com/opencatalyst/catalyst/telemetry"
)

// Key prefixes for Pebble storage
const (
	prefixEntry  = "/audit/"       // /audit/{16-digit-zero-padded-seq}
	prefixCursor = "/auditcursor/" // /auditcursor/{readerName}
	prefixSeq    = "/auditseq"     // /auditseq -> uint64 (last assigned sequence)
)

// Pebble configuration constants
const (
	memTableSize                = 64 << 20
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	lBaseMaxBytes               = 256 << 20
	maxConcurrentCompactions    = 3
)

const (
	defaultReadLimit    = 100
	cleanupIntervalMask = 0x7F // cleanup every 128 cursor advances
)

// Entry is one persisted audit record.
type Entry struct {
	Seq   uint64             `msgpack:"seq"`
	Event *event.ChangeEvent `msgpack:"event"`
}

// Log is a Pebble-backed append-only store of change events with monotonic
// sequence keys and per-reader cursors.
type Log struct {
	db   *pebble.DB
	path string

	// masked field names are blanked out of snapshots and diffs before
	// the event is persisted
	masked map[string]struct{}

	dedupe *dedupeFilter

	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	lastSeq atomic.Uint64

	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	closed atomic.Bool
}

// Open creates or reopens the audit log under dataDir. maskedFields lists
// field names to redact from persisted events.
func Open(dataDir string, maskedFields []string) (*Log, error) {
	path := filepath.Join(dataDir, "audit_log")

	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		LBaseMaxBytes:               lBaseMaxBytes,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
		DisableWAL:                  false,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log at %s: %w", path, err)
	}

	masked := make(map[string]struct{}, len(maskedFields))
	for _, f := range maskedFields {
		masked[f] = struct{}{}
	}

	l := &Log{
		db:      db,
		path:    path,
		masked:  masked,
		dedupe:  newDedupeFilter(),
		cursors: make(map[string]uint64),
	}

	if err := l.loadLastSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load sequence number: %w", err)
	}
	if err := l.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load cursors: %w", err)
	}
	return l, nil
}

func (l *Log) loadLastSeq() error {
	val, closer, err := l.db.Get([]byte(prefixSeq))
	if err == pebble.ErrNotFound {
		l.lastSeq.Store(0)
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}
	l.lastSeq.Store(binary.LittleEndian.Uint64(val))
	return nil
}

func (l *Log) loadCursors() error {
	prefix := []byte(prefixCursor)
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	count := 0
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		key := string(iter.Key()[len(prefixCursor):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor data for reader %s: invalid length %d", key, len(val))
		}
		l.cursors[key] = binary.LittleEndian.Uint64(val)
		count++
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if count > 0 {
		log.Info().Int("cursors", count).Msg("Loaded audit log cursors")
	}
	return nil
}

// Append persists one event, redacting masked fields first. Redelivered
// event ids are dropped silently; delivery into the log is at-least-once.
// Returns the assigned sequence, or 0 for a duplicate.
func (l *Log) Append(ev *event.ChangeEvent) (uint64, error) {
	if l.closed.Load() {
		return 0, fmt.Errorf("audit log is closed")
	}
	if ev == nil || ev.ID == "" {
		return 0, fmt.Errorf("event id is required")
	}

	if l.dedupe.seen(ev.ID) {
		telemetry.AuditDuplicatesTotal.Inc()
		log.Debug().Str("event", ev.ID).Msg("Dropped redelivered audit event")
		return 0, nil
	}

	seq := l.lastSeq.Load() + 1
	entry := Entry{Seq: seq, Event: l.redact(ev)}

	val, err := encoding.Marshal(&entry)
	if err != nil {
		return 0, fmt.Errorf("failed to encode audit entry: %w", err)
	}

	batch := l.db.NewBatch()
	defer batch.Close()

	if err := batch.Set([]byte(formatEntryKey(seq)), val, pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to write audit entry: %w", err)
	}
	seqBuf := make([]byte, 8)
	binary.LittleEndian.PutUint64(seqBuf, seq)
	if err := batch.Set([]byte(prefixSeq), seqBuf, pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to update sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit audit entry: %w", err)
	}

	l.lastSeq.Store(seq)
	l.dedupe.add(ev.ID)
	telemetry.AuditAppendedTotal.Inc()
	return seq, nil
}

// redact blanks masked fields out of a clone; the caller's event is shared
// with every other bus consumer and must not change.
func (l *Log) redact(ev *event.ChangeEvent) *event.ChangeEvent {
	if len(l.masked) == 0 {
		return ev
	}

	c := ev.Clone()
	for name := range l.masked {
		delete(c.Entity, name)
	}
	c.Description = redactDescription(c.Description, l.masked)
	return c
}

func redactDescription(d *event.ChangeDescription, masked map[string]struct{}) *event.ChangeDescription {
	if d == nil {
		return nil
	}
	d.FieldsAdded = redactChanges(d.FieldsAdded, masked)
	d.FieldsUpdated = redactChanges(d.FieldsUpdated, masked)
	d.FieldsDeleted = redactChanges(d.FieldsDeleted, masked)
	return d
}

func redactChanges(changes []event.FieldChange, masked map[string]struct{}) []event.FieldChange {
	for i := range changes {
		if _, ok := masked[changes[i].Name]; ok {
			changes[i].OldValue = nil
			changes[i].NewValue = nil
		}
	}
	return changes
}

// ReadFrom returns up to limit entries with sequence greater than cursor.
func (l *Log) ReadFrom(cursor uint64, limit int) ([]Entry, error) {
	if l.closed.Load() {
		return nil, fmt.Errorf("audit log is closed")
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	startKey := formatEntryKey(cursor + 1)
	prefix := []byte(prefixEntry)

	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(startKey),
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	entries := make([]Entry, 0, limit)
	for iter.SeekGE([]byte(startKey)); iter.Valid() && len(entries) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}

		var entry Entry
		if err := encoding.Unmarshal(val, &entry); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Failed to decode audit entry")
			continue
		}
		entries = append(entries, entry)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return entries, nil
}

// LastSeq returns the highest assigned sequence number.
func (l *Log) LastSeq() uint64 { return l.lastSeq.Load() }

// GetCursor returns the last acknowledged sequence for a reader. New readers
// start at 0.
func (l *Log) GetCursor(reader string) (uint64, error) {
	if l.closed.Load() {
		return 0, fmt.Errorf("audit log is closed")
	}

	l.cursorsMu.RLock()
	cursor, exists := l.cursors[reader]
	l.cursorsMu.RUnlock()
	if exists {
		return cursor, nil
	}

	val, closer, err := l.db.Get([]byte(prefixCursor + reader))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) != 8 {
		return 0, fmt.Errorf("invalid cursor value length: %d", len(val))
	}
	cursor = binary.LittleEndian.Uint64(val)

	l.cursorsMu.Lock()
	if existing, ok := l.cursors[reader]; ok {
		l.cursorsMu.Unlock()
		return existing, nil
	}
	l.cursors[reader] = cursor
	l.cursorsMu.Unlock()
	return cursor, nil
}

// AdvanceCursor acknowledges entries up to seq for a reader and triggers
// retention cleanup periodically.
func (l *Log) AdvanceCursor(reader string, seq uint64) error {
	if l.closed.Load() {
		return fmt.Errorf("audit log is closed")
	}

	l.cursorsMu.Lock()
	l.cursors[reader] = seq
	l.cursorsMu.Unlock()

	val := make([]byte, 8)
	binary.LittleEndian.PutUint64(val, seq)
	if err := l.db.Set([]byte(prefixCursor+reader), val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	if seq&cleanupIntervalMask == 0 {
		if l.cleanupRunning.CompareAndSwap(false, true) {
			l.cleanupWg.Add(1)
			go l.cleanupAsync()
		}
	}
	return nil
}

// cleanup deletes entries below the minimum reader cursor. Safe to call
// directly from tests.
func (l *Log) cleanup() {
	l.cleanupMu.Lock()
	defer l.cleanupMu.Unlock()

	if l.closed.Load() {
		return
	}

	l.cursorsMu.RLock()
	if len(l.cursors) == 0 {
		l.cursorsMu.RUnlock()
		return
	}
	minCursor := uint64(^uint64(0))
	for _, cursor := range l.cursors {
		if cursor < minCursor {
			minCursor = cursor
		}
	}
	l.cursorsMu.RUnlock()

	if minCursor == 0 {
		return
	}

	startKey := []byte(prefixEntry)
	endKey := []byte(formatEntryKey(minCursor))
	if err := l.db.DeleteRange(startKey, endKey, pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", minCursor).Msg("Failed to clean up audit log")
		return
	}
	log.Debug().Uint64("min_cursor", minCursor).Msg("Cleaned up audit log entries")
}

func (l *Log) cleanupAsync() {
	defer l.cleanupWg.Done()
	defer l.cleanupRunning.Store(false)
	l.cleanup()
}

// Close waits for in-flight cleanup and closes the store.
func (l *Log) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("audit log already closed")
	}
	l.cleanupWg.Wait()
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// formatEntryKey formats a sequence number as a 16-digit zero-padded key so
// lexical iteration order matches numeric order.
func formatEntryKey(seq uint64) string {
	return fmt.Sprintf("%s%016x", prefixEntry, seq)
}

// prefixUpperBound returns the upper bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end
		}
	}
	return nil
}
