package audit

import (
	"encoding/binary"
	"sync"

	"github.com/cespare/xxhash/v2"
	cuckoo "github.com/linvon/cuckoo-filter"
)

const (
	// capacity = bucketSize × numBuckets = 4 × 250000 = 1M event ids
	cuckooBucketSize      = 4
	cuckooFingerprintSize = 32
	cuckooNumBuckets      = 250000

	// rotation bound: with two generations the filter remembers between 1M
	// and 2M of the most recent ids
	maxGenerationSize = 1 << 20
)

// dedupeFilter drops redelivered event ids. A cuckoo filter over XXH64(id)
// gives a compact membership test; a false positive drops a genuinely new
// event, which at this fingerprint size is rarer than losing one to a crash.
// Two rotating generations bound memory while keeping recent history.
type dedupeFilter struct {
	mu      sync.Mutex
	current *cuckoo.Filter
	prev    *cuckoo.Filter
	count   int
}

func newDedupeFilter() *dedupeFilter {
	return &dedupeFilter{
		current: newGeneration(),
	}
}

func newGeneration() *cuckoo.Filter {
	return cuckoo.NewFilter(cuckooBucketSize, cuckooFingerprintSize,
		cuckooNumBuckets, cuckoo.TableTypePacked)
}

func hashID(id string) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, xxhash.Sum64String(id))
	return buf
}

// seen reports whether the id was added in the current or previous
// generation.
func (f *dedupeFilter) seen(id string) bool {
	h := hashID(id)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current.Contain(h) {
		return true
	}
	return f.prev != nil && f.prev.Contain(h)
}

// add records the id, rotating generations when the current one fills up.
func (f *dedupeFilter) add(id string) {
	h := hashID(id)
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.count >= maxGenerationSize {
		f.prev = f.current
		f.current = newGeneration()
		f.count = 0
	}
	f.current.Add(h)
	f.count++
}
