package subject

import (
	"context"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
)

// Kind selects which part of the directory a lookup targets.
type Kind string

const (
	KindUser Kind = "user"
	KindTeam Kind = "team"
)

// Subject is a resolved user or team record.
type Subject struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName,omitempty"`
	Kind        Kind   `json:"kind"`
}

// ErrNotFound is returned by directories when no record matches the reference.
var ErrNotFound = errors.New("subject not found")

// Directory is the external user/team store. ref may be an id or a name.
type Directory interface {
	Lookup(ctx context.Context, kind Kind, ref string) (Subject, error)
}

const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 5 * time.Minute
)

type cached struct {
	subject Subject
	ok      bool
}

// Resolver is a read-through cache over a Directory. Misses and directory
// errors are cached as negative entries so rule evaluation never turns a
// resolution failure into an error.
type Resolver struct {
	dir   Directory
	cache *expirable.LRU[string, cached]
}

// NewResolver creates a resolver with a TTL and size bounded cache.
// Zero values fall back to the package defaults.
func NewResolver(dir Directory, size int, ttl time.Duration) *Resolver {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Resolver{
		dir:   dir,
		cache: expirable.NewLRU[string, cached](size, nil, ttl),
	}
}

// Resolve looks up a subject by id or name. The boolean is false on a miss
// or directory error; callers treat that as "does not match", never as a
// failure to surface.
func (r *Resolver) Resolve(ctx context.Context, kind Kind, ref string) (Subject, bool) {
	if r == nil || r.dir == nil || ref == "" {
		return Subject{}, false
	}

	key := string(kind) + "/" + ref
	if hit, ok := r.cache.Get(key); ok {
		return hit.subject, hit.ok
	}

	sub, err := r.dir.Lookup(ctx, kind, ref)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Debug().Err(err).Str("kind", string(kind)).Str("ref", ref).Msg("Subject lookup failed")
		}
		r.cache.Add(key, cached{})
		return Subject{}, false
	}

	r.cache.Add(key, cached{subject: sub, ok: true})
	return sub, true
}

// Invalidate drops all cached entries, e.g. after a directory import.
func (r *Resolver) Invalidate() {
	r.cache.Purge()
}
