// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cache

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock/internal/base"
	"github.com/prometheus/client_golang/prometheus"
)

// reportSizeThreshold is the drift of the heap size estimate from its last
// reported value that triggers a new report.
const reportSizeThreshold = 4096 << 10

// ErrStaleGuard is returned when a detached guard is used after the cache was
// structurally modified.
var ErrStaleGuard = errors.New("cache: stale mutation guard")

// ManagedOptions configures a ManagedLRU.
type ManagedOptions[K comparable, V any] struct {
	// Watermark is the shared watermark epoch. Entries last touched before it
	// are evicted by Evict.
	Watermark *atomic.Uint64
	// KeySize and ValueSize estimate the heap size of keys and values.
	KeySize   func(K) int
	ValueSize func(V) int
	// MemoryUsage, if set, receives the heap size estimate.
	MemoryUsage prometheus.Gauge
	// EvictedWatermarkTimeDiff, if set, receives the distance in milliseconds
	// between the watermark and the epoch used by the last eviction.
	EvictedWatermarkTimeDiff prometheus.Gauge
}

// ManagedLRU is an LRU whose eviction is driven by a watermark epoch rather
// than by capacity, and which tracks the heap size of its entries. It is not
// safe for concurrent use: callers serialize access, typically one cache per
// goroutine or behind a lock.
type ManagedLRU[K comparable, V any] struct {
	inner *LRU[K, V]
	opts  ManagedOptions[K, V]

	kvHeapSize       atomic.Int64
	lastReportedSize atomic.Int64
	// generation is bumped by every structural modification and invalidates
	// outstanding detached guards.
	generation atomic.Uint64
	detached   atomic.Bool
}

// NewManagedLRU returns an empty cache.
func NewManagedLRU[K comparable, V any](opts ManagedOptions[K, V]) *ManagedLRU[K, V] {
	if opts.Watermark == nil {
		opts.Watermark = new(atomic.Uint64)
	}
	if opts.KeySize == nil {
		opts.KeySize = func(K) int { return 0 }
	}
	if opts.ValueSize == nil {
		opts.ValueSize = func(V) int { return 0 }
	}
	c := &ManagedLRU[K, V]{inner: NewLRU[K, V](), opts: opts}
	if opts.MemoryUsage != nil {
		opts.MemoryUsage.Set(0)
	}
	return c
}

// Evict removes every entry last touched before the watermark epoch,
// regardless of recency.
func (c *ManagedLRU[K, V]) Evict() {
	c.evictByEpoch(c.opts.Watermark.Load())
}

// EvictExceptCurEpoch is like Evict but keeps entries touched in the current
// epoch.
func (c *ManagedLRU[K, V]) EvictExceptCurEpoch() {
	c.evictByEpoch(min(c.opts.Watermark.Load(), c.inner.CurrentEpoch()))
}

func (c *ManagedLRU[K, V]) evictByEpoch(epoch uint64) {
	for {
		k, v, ok := c.inner.PopLRUByEpoch(epoch)
		if !ok {
			break
		}
		c.generation.Add(1)
		c.heapSizeAdd(-int64(c.opts.KeySize(k) + c.opts.ValueSize(v)))
	}
	if g := c.opts.EvictedWatermarkTimeDiff; g != nil {
		wm := base.Epoch(c.opts.Watermark.Load()).PhysicalTime()
		g.Set(float64(wm) - float64(base.Epoch(epoch).PhysicalTime()))
	}
}

// UpdateEpoch advances the epoch assigned to touched entries.
func (c *ManagedLRU[K, V]) UpdateEpoch(epoch uint64) {
	c.inner.UpdateEpoch(epoch)
}

// CurrentEpoch returns the epoch assigned to touched entries.
func (c *ManagedLRU[K, V]) CurrentEpoch() uint64 {
	return c.inner.CurrentEpoch()
}

// Put inserts or replaces the value of k, returning the replaced value.
func (c *ManagedLRU[K, V]) Put(k K, v V) (old V, replaced bool) {
	keySize := c.opts.KeySize(k)
	c.heapSizeAdd(int64(keySize + c.opts.ValueSize(v)))
	old, replaced = c.inner.Put(k, v)
	if replaced {
		c.heapSizeAdd(-int64(keySize + c.opts.ValueSize(old)))
	} else {
		c.generation.Add(1)
	}
	return old, replaced
}

// Push is like Put but returns the replaced key and value.
func (c *ManagedLRU[K, V]) Push(k K, v V) (oldKey K, oldValue V, replaced bool) {
	oldValue, replaced = c.Put(k, v)
	if replaced {
		oldKey = k
	}
	return oldKey, oldValue, replaced
}

// Get returns the value of k, touching it.
func (c *ManagedLRU[K, V]) Get(k K) (V, bool) {
	return c.inner.Get(k)
}

// Contains returns true if k is cached.
func (c *ManagedLRU[K, V]) Contains(k K) bool {
	return c.inner.Contains(k)
}

// Remove removes k, returning its value.
func (c *ManagedLRU[K, V]) Remove(k K) (V, bool) {
	v, ok := c.inner.Remove(k)
	if ok {
		c.generation.Add(1)
		c.heapSizeAdd(-int64(c.opts.KeySize(k) + c.opts.ValueSize(v)))
	}
	return v, ok
}

// GetMut touches k and returns a guard through which its value can be
// mutated in place. The guard must be released before the cache is used
// again.
func (c *ManagedLRU[K, V]) GetMut(k K) (*MutGuard[K, V], bool) {
	p, ok := c.inner.GetMut(k)
	if !ok {
		return nil, false
	}
	return c.newGuard(p), true
}

// PeekMut is like GetMut without touching the entry.
func (c *ManagedLRU[K, V]) PeekMut(k K) (*MutGuard[K, V], bool) {
	p, ok := c.inner.PeekMut(k)
	if !ok {
		return nil, false
	}
	return c.newGuard(p), true
}

func (c *ManagedLRU[K, V]) newGuard(p *V) *MutGuard[K, V] {
	return &MutGuard[K, V]{cache: c, value: p, before: c.opts.ValueSize(*p)}
}

// Len returns the number of entries.
func (c *ManagedLRU[K, V]) Len() int {
	return c.inner.Len()
}

// Clear removes every entry.
func (c *ManagedLRU[K, V]) Clear() {
	c.inner.Clear()
	c.generation.Add(1)
	c.heapSizeAdd(-c.kvHeapSize.Load())
}

// KVHeapSize returns the heap size estimate of the cached entries.
func (c *ManagedLRU[K, V]) KVHeapSize() int64 {
	return c.kvHeapSize.Load()
}

func (c *ManagedLRU[K, V]) heapSizeAdd(delta int64) {
	size := c.kvHeapSize.Add(delta)
	if size < 0 {
		c.kvHeapSize.Store(0)
		size = 0
	}
	c.maybeReport(size)
}

// maybeReport publishes the heap size when it drifted far enough from the
// last published value.
func (c *ManagedLRU[K, V]) maybeReport(size int64) bool {
	last := c.lastReportedSize.Load()
	diff := size - last
	if diff < 0 {
		diff = -diff
	}
	if diff <= reportSizeThreshold {
		return false
	}
	if !c.lastReportedSize.CompareAndSwap(last, size) {
		return false
	}
	if c.opts.MemoryUsage != nil {
		c.opts.MemoryUsage.Set(float64(size))
	}
	return true
}

// MutGuard gives in-place access to a cached value. Release accounts for the
// change in the value's heap size.
type MutGuard[K comparable, V any] struct {
	cache  *ManagedLRU[K, V]
	value  *V
	before int
}

// Value returns the guarded value.
func (g *MutGuard[K, V]) Value() *V {
	return g.value
}

// Release recomputes the heap size of the value. The guard must not be used
// afterwards.
func (g *MutGuard[K, V]) Release() {
	if g.cache == nil {
		return
	}
	after := g.cache.opts.ValueSize(*g.value)
	g.cache.heapSizeAdd(int64(after - g.before))
	g.cache, g.value = nil, nil
}

// DetachedMutGuard is a handle allowing exactly one in-place mutation of a
// cached value from outside the cache's synchronization. At most one detached
// guard per cache is outstanding; a guard whose cache was structurally
// modified since its creation refuses to mutate.
type DetachedMutGuard[K comparable, V any] struct {
	cache      *ManagedLRU[K, V]
	value      *V
	generation uint64
	used       bool
}

// GetMutDetached returns a detached guard for k. It returns false if k is not
// cached or another detached guard is outstanding.
func (c *ManagedLRU[K, V]) GetMutDetached(k K) (*DetachedMutGuard[K, V], bool) {
	p, ok := c.inner.GetMut(k)
	if !ok {
		return nil, false
	}
	if !c.detached.CompareAndSwap(false, true) {
		return nil, false
	}
	return &DetachedMutGuard[K, V]{cache: c, value: p, generation: c.generation.Load()}, true
}

// Mutate applies fn to the guarded value and accounts for its change in heap
// size. It may be called once.
func (g *DetachedMutGuard[K, V]) Mutate(fn func(v *V)) error {
	switch {
	case g.used || g.cache == nil:
		return errors.AssertionFailedf("detached guard used twice")
	case g.cache.generation.Load() != g.generation:
		return ErrStaleGuard
	}
	g.used = true
	before := g.cache.opts.ValueSize(*g.value)
	fn(g.value)
	g.cache.heapSizeAdd(int64(g.cache.opts.ValueSize(*g.value) - before))
	return nil
}

// Release gives up the guard, allowing another detached guard to be taken.
func (g *DetachedMutGuard[K, V]) Release() {
	if g.cache == nil {
		return
	}
	g.cache.detached.Store(false)
	g.cache, g.value = nil, nil
}
