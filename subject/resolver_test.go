package subject

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDirectory struct {
	inner   Directory
	lookups atomic.Int32
	err     error
}

func (d *countingDirectory) Lookup(ctx context.Context, kind Kind, ref string) (Subject, error) {
	d.lookups.Add(1)
	if d.err != nil {
		return Subject{}, d.err
	}
	return d.inner.Lookup(ctx, kind, ref)
}

func TestResolver_ReadThroughCaching(t *testing.T) {
	dir := &countingDirectory{inner: NewStaticDirectory([]Subject{
		{ID: "t-1", Name: "Data", Kind: KindTeam},
	})}
	r := NewResolver(dir, 16, time.Minute)

	sub, ok := r.Resolve(context.Background(), KindTeam, "Data")
	require.True(t, ok)
	assert.Equal(t, "t-1", sub.ID)

	// Second hit must come from the cache
	_, ok = r.Resolve(context.Background(), KindTeam, "Data")
	require.True(t, ok)
	assert.Equal(t, int32(1), dir.lookups.Load())

	// Lookup by id is a distinct cache key
	_, ok = r.Resolve(context.Background(), KindTeam, "t-1")
	require.True(t, ok)
	assert.Equal(t, int32(2), dir.lookups.Load())
}

func TestResolver_MissAndErrorAreNegative(t *testing.T) {
	dir := &countingDirectory{inner: NewStaticDirectory(nil)}
	r := NewResolver(dir, 16, time.Minute)

	_, ok := r.Resolve(context.Background(), KindUser, "ghost")
	assert.False(t, ok)

	// Negative result is cached too
	_, ok = r.Resolve(context.Background(), KindUser, "ghost")
	assert.False(t, ok)
	assert.Equal(t, int32(1), dir.lookups.Load())

	failing := &countingDirectory{err: errors.New("directory down")}
	r2 := NewResolver(failing, 16, time.Minute)
	_, ok = r2.Resolve(context.Background(), KindUser, "alice")
	assert.False(t, ok)
}

func TestResolver_EmptyRef(t *testing.T) {
	r := NewResolver(NewStaticDirectory(nil), 16, time.Minute)
	_, ok := r.Resolve(context.Background(), KindUser, "")
	assert.False(t, ok)
}
