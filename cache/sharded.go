// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cache

import (
	"sync"
	"sync/atomic"
)

type charged[V any] struct {
	value  V
	charge int64
}

type shard[K comparable, V any] struct {
	mu       sync.Mutex
	lru      *LRU[K, charged[V]]
	size     int64
	capacity int64
}

func (s *shard[K, V]) evict() {
	for s.size > s.capacity {
		_, v, ok := s.lru.PopLRU()
		if !ok {
			break
		}
		s.size -= v.charge
	}
}

// Metrics holds counters of a Sharded cache.
type Metrics struct {
	Size   int64
	Count  int64
	Hits   int64
	Misses int64
}

// Sharded is a byte-capacity bounded LRU split into independently locked
// shards. It is safe for concurrent use.
type Sharded[K comparable, V any] struct {
	shards []shard[K, V]
	hash   func(K) uint64
	hits   atomic.Int64
	misses atomic.Int64
}

// NewSharded returns a cache holding up to capacity bytes of charged entries
// across numShards shards. hash maps keys to shards.
func NewSharded[K comparable, V any](capacity int64, numShards int, hash func(K) uint64) *Sharded[K, V] {
	numShards = max(numShards, 1)
	c := &Sharded[K, V]{shards: make([]shard[K, V], numShards), hash: hash}
	for i := range c.shards {
		c.shards[i].lru = NewLRU[K, charged[V]]()
		c.shards[i].capacity = capacity / int64(numShards)
	}
	return c
}

func (c *Sharded[K, V]) getShard(k K) *shard[K, V] {
	return &c.shards[c.hash(k)%uint64(len(c.shards))]
}

// Get returns the cached value of k.
func (c *Sharded[K, V]) Get(k K) (v V, ok bool) {
	if c == nil {
		return v, false
	}
	s := c.getShard(k)
	s.mu.Lock()
	e, ok := s.lru.Get(k)
	s.mu.Unlock()
	if !ok {
		c.misses.Add(1)
		return v, false
	}
	c.hits.Add(1)
	return e.value, true
}

// Insert caches v under k with the given charge, evicting least recently
// used entries of the shard until it fits. An entry larger than the shard
// capacity is not cached.
func (c *Sharded[K, V]) Insert(k K, v V, charge int64) {
	if c == nil {
		return
	}
	s := c.getShard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if charge > s.capacity {
		if old, ok := s.lru.Remove(k); ok {
			s.size -= old.charge
		}
		return
	}
	if old, replaced := s.lru.Put(k, charged[V]{value: v, charge: charge}); replaced {
		s.size -= old.charge
	}
	s.size += charge
	s.evict()
}

// Delete removes k.
func (c *Sharded[K, V]) Delete(k K) {
	if c == nil {
		return
	}
	s := c.getShard(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.lru.Remove(k); ok {
		s.size -= old.charge
	}
}

// Metrics returns the current metrics of the cache.
func (c *Sharded[K, V]) Metrics() Metrics {
	if c == nil {
		return Metrics{}
	}
	m := Metrics{Hits: c.hits.Load(), Misses: c.misses.Load()}
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		m.Size += s.size
		m.Count += int64(s.lru.Len())
		s.mu.Unlock()
	}
	return m
}
