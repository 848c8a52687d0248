// internal/registry/registry.go
package registry

import (
	"sync"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"go.uber.org/atomic"
)

/*
 * Reference-counted find-or-create registry.
 *
 * Entries are published in a sharded map (xxh3 picks the shard) and carry
 * an atomic reference count. The rules:
 *
 *   - A lookup acquires a reference only while the count is non-zero. An
 *     entry whose count already dropped to zero is being torn down and is
 *     treated as absent; FindOrCreate replaces it.
 *   - The Release that takes the count to zero unpublishes the entry
 *     before returning, so no later lookup can observe it, then runs the
 *     teardown hook. Because a count never rises from zero, exactly one
 *     Release runs teardown.
 *   - Unpublishing removes the map slot only if it still holds this entry;
 *     a replacement published in the meantime stays.
 *
 * Creation runs under the shard lock, so concurrent FindOrCreate calls for
 * one key construct a single value. create must not call back into the
 * registry.
 */

const defaultShards = 16

// Registry maps keys to reference-counted values.
type Registry[K comparable, V any] struct {
	shards   []shard[K, V]
	hash     func(K) uint64
	teardown func(K, V)
}

type shard[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*Entry[K, V]
}

// Entry is a published value. Holders of a reference must Release it.
type Entry[K comparable, V any] struct {
	key   K
	value V
	refs  atomic.Int64
	reg   *Registry[K, V]
}

// New returns an empty registry. hash spreads keys over shards; teardown,
// if non-nil, runs once per entry after it is unpublished.
func New[K comparable, V any](hash func(K) uint64, teardown func(K, V)) *Registry[K, V] {
	r := &Registry[K, V]{
		shards:   make([]shard[K, V], defaultShards),
		hash:     hash,
		teardown: teardown,
	}
	for i := range r.shards {
		r.shards[i].m = make(map[K]*Entry[K, V])
	}
	return r
}

// HashString hashes string keys.
func HashString(s string) uint64 { return xxh3.HashString(s) }

// HashUUID hashes UUID keys.
func HashUUID(id uuid.UUID) uint64 { return xxh3.Hash(id[:]) }

func (r *Registry[K, V]) shardFor(key K) *shard[K, V] {
	return &r.shards[r.hash(key)%uint64(len(r.shards))]
}

// Key returns the entry's key.
func (e *Entry[K, V]) Key() K { return e.key }

// Value returns the entry's value.
func (e *Entry[K, V]) Value() V { return e.value }

// Refs returns the current reference count.
func (e *Entry[K, V]) Refs() int64 { return e.refs.Load() }

// tryGet acquires a reference unless the count already reached zero.
func (e *Entry[K, V]) tryGet() bool {
	for {
		n := e.refs.Load()
		if n <= 0 {
			return false
		}
		if e.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Get acquires an additional reference on a live entry the caller already
// holds.
func (e *Entry[K, V]) Get() *Entry[K, V] {
	if !e.tryGet() {
		panic("registry: Get on a released entry")
	}
	return e
}

// Release drops one reference. The last release unpublishes the entry and
// runs teardown. It reports whether this call was the last.
func (e *Entry[K, V]) Release() bool {
	n := e.refs.Dec()
	if n > 0 {
		return false
	}
	if n < 0 {
		panic("registry: reference count underflow")
	}

	s := e.reg.shardFor(e.key)
	s.mu.Lock()
	if s.m[e.key] == e {
		delete(s.m, e.key)
	}
	s.mu.Unlock()

	if e.reg.teardown != nil {
		e.reg.teardown(e.key, e.value)
	}
	return true
}

// Find returns the live entry for key with a new reference.
func (r *Registry[K, V]) Find(key K) (*Entry[K, V], bool) {
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[key]
	if !ok || !e.tryGet() {
		return nil, false
	}
	return e, true
}

// FindOrCreate returns the live entry for key with a new reference,
// creating and publishing one with a single reference when none exists.
// created reports which happened.
func (r *Registry[K, V]) FindOrCreate(key K, create func() (V, error)) (e *Entry[K, V], created bool, err error) {
	s := r.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.m[key]; ok && e.tryGet() {
		return e, false, nil
	}

	v, err := create()
	if err != nil {
		return nil, false, err
	}
	e = &Entry[K, V]{key: key, value: v, reg: r}
	e.refs.Store(1)
	s.m[key] = e
	return e, true, nil
}

// Len returns the number of published entries, including any whose last
// reference is being released.
func (r *Registry[K, V]) Len() int {
	n := 0
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		n += len(s.m)
		s.mu.Unlock()
	}
	return n
}

// Each calls fn for every live entry. fn must not call back into the
// registry.
func (r *Registry[K, V]) Each(fn func(K, V)) {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for k, e := range s.m {
			if e.refs.Load() > 0 {
				fn(k, e.value)
			}
		}
		s.mu.Unlock()
	}
}
