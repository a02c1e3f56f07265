// Package keyed provides a sharded, concurrency-safe map used for per-tenant
// and per-unit engine state.
//
// Each key hashes to one shard with its own lock, so updates for unrelated
// tenants never contend. Entries remember when they were last touched and
// can be evicted once idle.
package keyed

import (
	"hash/maphash"
	"sync"
	"time"
)

const defaultShards = 32

type entry[V any] struct {
	value   V
	touched time.Time
}

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]*entry[V]
}

// Store is a sharded map from string keys to V.
type Store[V any] struct {
	seed   maphash.Seed
	shards []*shard[V]
	now    func() time.Time
}

// Option configures a Store.
type Option func(*options)

type options struct {
	shards int
	now    func() time.Time
}

// WithShards sets the shard count.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.shards = n
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New creates an empty store.
func New[V any](opts ...Option) *Store[V] {
	o := options{shards: defaultShards, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store[V]{
		seed:   maphash.MakeSeed(),
		shards: make([]*shard[V], o.shards),
		now:    o.now,
	}
	for i := range s.shards {
		s.shards[i] = &shard[V]{items: make(map[string]*entry[V])}
	}
	return s
}

func (s *Store[V]) shardFor(key string) *shard[V] {
	return s.shards[maphash.String(s.seed, key)%uint64(len(s.shards))]
}

// Get returns the value for key.
func (s *Store[V]) Get(key string) (V, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Update atomically replaces the value for key with fn(old, found).
// When fn returns keep=false the key is removed.
func (s *Store[V]) Update(key string, fn func(old V, found bool) (next V, keep bool)) V {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var old V
	e, found := sh.items[key]
	if found {
		old = e.value
	}

	next, keep := fn(old, found)
	if !keep {
		delete(sh.items, key)
		return next
	}
	sh.items[key] = &entry[V]{value: next, touched: s.now()}
	return next
}

// Delete removes key.
func (s *Store[V]) Delete(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	delete(sh.items, key)
	sh.mu.Unlock()
}

// Len returns the number of entries.
func (s *Store[V]) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.items)
		sh.mu.Unlock()
	}
	return n
}

// Range calls fn for every entry until fn returns false.
// fn must not call back into the store.
func (s *Store[V]) Range(fn func(key string, value V) bool) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.items {
			if !fn(k, e.value) {
				sh.mu.Unlock()
				return
			}
		}
		sh.mu.Unlock()
	}
}

// EvictIdle removes entries not updated for longer than ttl and returns their keys.
func (s *Store[V]) EvictIdle(ttl time.Duration) []string {
	cutoff := s.now().Add(-ttl)
	var evicted []string
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, e := range sh.items {
			if e.touched.Before(cutoff) {
				delete(sh.items, k)
				evicted = append(evicted, k)
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}
