package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_MonotonicLadder(t *testing.T) {
	b := NewBackoff(nil)

	assert.Equal(t, time.Duration(0), b.Current())

	// Three consecutive failures climb exactly 3s, 30s, 5m
	assert.Equal(t, 3*time.Second, b.Advance())
	assert.Equal(t, 30*time.Second, b.Advance())
	assert.Equal(t, 5*time.Minute, b.Advance())
}

func TestBackoff_SaturatesAtCeiling(t *testing.T) {
	b := NewBackoff(nil)

	for i := 0; i < 50; i++ {
		b.Advance()
	}
	assert.Equal(t, 24*time.Hour, b.Current())
	assert.Equal(t, 24*time.Hour, b.Advance())
	assert.Equal(t, len(DefaultRungs)-1, b.Level())
}

func TestBackoff_ResetOnSuccess(t *testing.T) {
	b := NewBackoff(nil)
	b.Advance()
	b.Advance()

	b.Reset()
	assert.Equal(t, 0, b.Level())
	assert.Equal(t, time.Duration(0), b.Current())
	// Climbing again starts from the bottom of the ladder
	assert.Equal(t, 3*time.Second, b.Advance())
}

func TestBackoff_CustomRungs(t *testing.T) {
	b := NewBackoff([]time.Duration{0, time.Millisecond, 2 * time.Millisecond})
	assert.Equal(t, time.Millisecond, b.Advance())
	assert.Equal(t, 2*time.Millisecond, b.Advance())
	assert.Equal(t, 2*time.Millisecond, b.Advance())
}
