// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cache

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestLRU(t *testing.T) {
	c := NewLRU[int, string]()
	for i := 0; i < 5; i++ {
		_, replaced := c.Put(i, fmt.Sprint(i))
		require.False(t, replaced)
	}
	require.Equal(t, 5, c.Len())

	old, replaced := c.Put(2, "two")
	require.True(t, replaced)
	require.Equal(t, "2", old)

	// Touch 0 so that 1 becomes the least recently used entry.
	v, ok := c.Get(0)
	require.True(t, ok)
	require.Equal(t, "0", v)

	k, _, ok := c.PopLRU()
	require.True(t, ok)
	require.Equal(t, 1, k)

	p, ok := c.GetMut(3)
	require.True(t, ok)
	*p = "three"
	v, _ = c.Peek(3)
	require.Equal(t, "three", v)

	require.True(t, c.Contains(4))
	_, ok = c.Remove(4)
	require.True(t, ok)
	require.False(t, c.Contains(4))

	c.Clear()
	require.Equal(t, 0, c.Len())
	_, _, ok = c.PopLRU()
	require.False(t, ok)
}

func TestLRUPopByEpoch(t *testing.T) {
	c := NewLRU[int, int]()
	c.UpdateEpoch(1)
	c.Put(1, 1)
	c.Put(2, 2)
	c.UpdateEpoch(3)
	c.Put(3, 3)
	// Epochs never move backwards.
	c.UpdateEpoch(2)
	require.Equal(t, uint64(3), c.CurrentEpoch())

	var popped []int
	for {
		k, _, ok := c.PopLRUByEpoch(3)
		if !ok {
			break
		}
		popped = append(popped, k)
	}
	require.Equal(t, []int{1, 2}, popped)
	require.Equal(t, 1, c.Len())
}

func intSize(int) int { return 8 }

func TestManagedLRUEvict(t *testing.T) {
	var watermark atomic.Uint64
	c := NewManagedLRU(ManagedOptions[int, int]{
		Watermark: &watermark,
		KeySize:   intSize,
		ValueSize: intSize,
	})
	const n = 100
	c.UpdateEpoch(10)
	for i := 0; i < n; i++ {
		c.Put(i, i)
	}
	// Access in an arbitrary order: recency does not protect stale entries.
	for i := n - 1; i >= 0; i -= 3 {
		_, ok := c.Get(i)
		require.True(t, ok)
	}
	require.Equal(t, int64(16*n), c.KVHeapSize())

	watermark.Store(10)
	c.Evict()
	require.Equal(t, n, c.Len())

	watermark.Store(11)
	c.Evict()
	require.Equal(t, 0, c.Len())
	require.Equal(t, int64(0), c.KVHeapSize())
}

func TestManagedLRUEvictExceptCurEpoch(t *testing.T) {
	var watermark atomic.Uint64
	c := NewManagedLRU(ManagedOptions[int, int]{Watermark: &watermark})
	c.UpdateEpoch(5)
	c.Put(1, 1)
	c.Put(2, 2)
	c.UpdateEpoch(7)
	c.Put(3, 3)
	// Touching 1 in the current epoch protects it.
	c.Get(1)

	watermark.Store(100)
	c.EvictExceptCurEpoch()
	require.Equal(t, 2, c.Len())
	require.True(t, c.Contains(1))
	require.True(t, c.Contains(3))
	require.False(t, c.Contains(2))

	c.Evict()
	require.Equal(t, 0, c.Len())
}

func TestManagedLRUHeapSize(t *testing.T) {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_cache_memory_usage"})
	c := NewManagedLRU(ManagedOptions[string, []byte]{
		KeySize:     func(k string) int { return len(k) },
		ValueSize:   func(v []byte) int { return cap(v) },
		MemoryUsage: gauge,
	})
	c.Put("a", make([]byte, 10))
	require.Equal(t, int64(11), c.KVHeapSize())
	// Small changes are not reported.
	require.Equal(t, float64(0), testutil.ToFloat64(gauge))

	g, ok := c.GetMut("a")
	require.True(t, ok)
	*g.Value() = make([]byte, 8<<20)
	g.Release()
	require.Equal(t, int64(1+8<<20), c.KVHeapSize())
	require.Equal(t, float64(1+8<<20), testutil.ToFloat64(gauge))

	old, replaced := c.Put("a", make([]byte, 4))
	require.True(t, replaced)
	require.Len(t, old, 8<<20)
	require.Equal(t, int64(5), c.KVHeapSize())
	require.Equal(t, float64(5), testutil.ToFloat64(gauge))

	g, ok = c.PeekMut("a")
	require.True(t, ok)
	*g.Value() = append(*g.Value(), 1)
	g.Release()
	g.Release()

	k, _, replaced := c.Push("a", nil)
	require.True(t, replaced)
	require.Equal(t, "a", k)
	require.Equal(t, int64(1), c.KVHeapSize())

	c.Clear()
	require.Equal(t, int64(0), c.KVHeapSize())
}

func TestDetachedMutGuard(t *testing.T) {
	c := NewManagedLRU(ManagedOptions[int, []int]{
		ValueSize: func(v []int) int { return 8 * len(v) },
	})
	c.Put(1, nil)
	c.Put(2, nil)

	g, ok := c.GetMutDetached(1)
	require.True(t, ok)
	// Only one detached guard at a time.
	_, ok = c.GetMutDetached(2)
	require.False(t, ok)

	errCh := make(chan error, 1)
	go func() {
		errCh <- g.Mutate(func(v *[]int) { *v = append(*v, 1, 2) })
	}()
	require.NoError(t, <-errCh)
	require.Error(t, g.Mutate(func(v *[]int) {}))
	g.Release()

	v, _ := c.Get(1)
	require.Equal(t, []int{1, 2}, v)
	require.Equal(t, int64(16), c.KVHeapSize())

	// A structural change invalidates the guard.
	g, ok = c.GetMutDetached(2)
	require.True(t, ok)
	c.Remove(1)
	require.ErrorIs(t, g.Mutate(func(v *[]int) {}), ErrStaleGuard)
	g.Release()

	_, ok = c.GetMutDetached(3)
	require.False(t, ok)
}

func TestSharded(t *testing.T) {
	c := NewSharded[uint64, string](100, 2, func(k uint64) uint64 { return k })
	c.Insert(0, "a", 20)
	c.Insert(2, "b", 20)
	c.Insert(4, "c", 20)
	// Shard 0 holds 50 bytes: inserting the third entry evicted the first.
	_, ok := c.Get(0)
	require.False(t, ok)
	v, ok := c.Get(4)
	require.True(t, ok)
	require.Equal(t, "c", v)

	// Too large for a shard.
	c.Insert(1, "big", 60)
	_, ok = c.Get(1)
	require.False(t, ok)

	c.Insert(4, "d", 10)
	m := c.Metrics()
	require.Equal(t, int64(30), m.Size)
	require.Equal(t, int64(2), m.Count)
	require.Equal(t, int64(1), m.Hits)
	require.Equal(t, int64(2), m.Misses)

	c.Delete(4)
	require.Equal(t, int64(20), c.Metrics().Size)

	var nilCache *Sharded[uint64, string]
	nilCache.Insert(1, "x", 1)
	_, ok = nilCache.Get(1)
	require.False(t, ok)
}
