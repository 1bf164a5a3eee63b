/*
Package chat contains the real-time presence and session engine.

This file defines shardedMap, the generic map split over independently locked
shards that backs the Registry and the SessionTracker.
*/
package chat

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

// shardedMap spreads keys over fixed shards so unrelated keys never contend.
type shardedMap[V any] struct {
	shards [shardCount]*mapShard[V]
}

type mapShard[V any] struct {
	mu    sync.RWMutex
	items map[string]V
}

func newShardedMap[V any]() *shardedMap[V] {
	m := &shardedMap[V]{}
	for i := range m.shards {
		m.shards[i] = &mapShard[V]{items: make(map[string]V)}
	}
	return m
}

func (m *shardedMap[V]) shard(key string) *mapShard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

func (m *shardedMap[V]) get(key string) (V, bool) {
	s := m.shard(key)
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.items[key]
	return v, ok
}

// update runs fn with the shard of key write-locked. fn receives the current
// value and whether it exists; returning keep=false deletes the entry.
func (m *shardedMap[V]) update(key string, fn func(cur V, ok bool) (next V, keep bool)) {
	s := m.shard(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.items[key]
	next, keep := fn(cur, ok)
	if keep {
		s.items[key] = next
	} else if ok {
		delete(s.items, key)
	}
}

// rangeAll calls fn for every entry, one shard read-lock at a time.
// fn must not call back into the map.
func (m *shardedMap[V]) rangeAll(fn func(key string, v V)) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.items {
			fn(k, v)
		}
		s.mu.RUnlock()
	}
}

func (m *shardedMap[V]) len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.RLock()
		n += len(s.items)
		s.mu.RUnlock()
	}
	return n
}
