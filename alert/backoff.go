package alert

import "time"

// DefaultRungs is the fixed backoff ladder applied after consecutive
// retriable delivery failures. The first rung is the healthy state
// (no wait); repeated failures climb monotonically and saturate at the top.
var DefaultRungs = []time.Duration{
	0,
	3 * time.Second,
	30 * time.Second,
	5 * time.Minute,
	time.Hour,
	24 * time.Hour,
}

// Backoff tracks the current rung on the ladder. It is owned by a single
// publisher goroutine and is not safe for concurrent use.
type Backoff struct {
	rungs []time.Duration
	level int
}

// NewBackoff creates a ladder. nil rungs selects DefaultRungs.
func NewBackoff(rungs []time.Duration) *Backoff {
	if len(rungs) == 0 {
		rungs = DefaultRungs
	}
	return &Backoff{rungs: rungs}
}

// Advance climbs one rung, saturating at the top, and returns the wait for
// the new rung.
func (b *Backoff) Advance() time.Duration {
	if b.level < len(b.rungs)-1 {
		b.level++
	}
	return b.rungs[b.level]
}

// Current returns the wait at the current rung.
func (b *Backoff) Current() time.Duration {
	return b.rungs[b.level]
}

// Level returns the current rung index.
func (b *Backoff) Level() int {
	return b.level
}

// Reset drops back to the first rung after a successful delivery.
func (b *Backoff) Reset() {
	b.level = 0
}
