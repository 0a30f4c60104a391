// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package sstable

import (
	"context"
	"fmt"
	"testing"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/objstorage"
	"github.com/stretchr/testify/require"
)

func newTestStore() *Store {
	return NewStore(objstorage.NewInMemory(), StoreOptions{
		DataDirectory:      "hummock_001/data",
		BlockCacheCapacity: 1 << 20,
		MetaCacheCapacity:  1 << 20,
		CacheShards:        2,
	})
}

func testBuilderOptions() BuilderOptions {
	opts := DefaultBuilderOptions()
	opts.BlockCapacity = 256
	opts.Compression = LZ4Compression
	return opts
}

type testFactory struct {
	store *Store
	opts  BuilderOptions
	next  uint64
}

func (f *testFactory) OpenBuilder(ctx context.Context) (*Builder, error) {
	f.next++
	w := NewUploadWriter(f.store, f.next, CachePolicyFill, 0)
	return NewBuilder(f.next, w, f.opts, FullKeyExtractor{}), nil
}

func testKey(i int) []byte {
	return []byte(fmt.Sprintf("key-%03d", i))
}

// collect returns every version of a table, formatted.
func collect(t *testing.T, store *Store, sst *Sstable) []string {
	var res []string
	it := NewIterator(context.Background(), store, sst, CachePolicyFill)
	for it.Rewind(); it.Valid(); it.Next() {
		v, err := it.Value()
		require.NoError(t, err)
		res = append(res, fmt.Sprintf("%s=%s", it.FullKey(), v))
	}
	require.NoError(t, it.Close())
	return res
}

func TestBuilder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	b := NewBuilder(7, NewUploadWriter(store, 7, CachePolicyNotFill, 0), testBuilderOptions(), FullKeyExtractor{})
	require.True(t, b.Empty())

	var want []string
	for i := 0; i < 50; i++ {
		tableID := base.TableID(1)
		if i >= 25 {
			tableID = 2
		}
		newer := base.PutValue([]byte(fmt.Sprintf("v%d", i)))
		if i%5 == 0 {
			newer = base.DeleteValue()
		}
		k20 := base.MakeFullKey(tableID, testKey(i), 20)
		k10 := base.MakeFullKey(tableID, testKey(i), 10)
		require.NoError(t, b.Add(k20, newer, true))
		require.NoError(t, b.Add(k10, base.PutValue([]byte("old")), false))
		want = append(want, fmt.Sprintf("%s=%s", k20, newer), fmt.Sprintf("%s=%s", k10, base.PutValue([]byte("old"))))
	}
	out, err := b.Finish(ctx)
	require.NoError(t, err)

	info := out.Info
	require.Equal(t, uint64(7), info.ObjectID)
	require.Equal(t, uint64(100), info.TotalKeyCount)
	require.Equal(t, uint64(60), info.StaleKeyCount)
	require.Equal(t, []base.TableID{1, 2}, info.TableIDs)
	require.Equal(t, base.MakeFullKey(1, testKey(0), 20).Encode(nil), info.KeyRange.Left)
	require.Equal(t, base.MakeFullKey(2, testKey(49), 10).Encode(nil), info.KeyRange.Right)
	require.False(t, info.KeyRange.RightExclusive)
	require.Equal(t, base.Epoch(10), info.MinEpoch)
	require.Equal(t, base.Epoch(20), info.MaxEpoch)
	require.Equal(t, int64(50), out.TableStats[1].TotalKeyCount)
	require.Equal(t, int64(50), out.TableStats[2].TotalKeyCount)

	md, err := store.ObjectStore().Metadata(ctx, store.ObjectPath(7))
	require.NoError(t, err)
	require.Equal(t, int64(info.FileSize), md.Size)

	// The meta is not cached with CachePolicyNotFill: open from the trailer.
	sst, err := store.OpenSstable(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, info.MetaOffset, sst.Meta.MetaOffset)
	require.Equal(t, uint32(100), sst.Meta.KeyCount)
	require.Greater(t, len(sst.Meta.BlockMetas), 1)
	require.Equal(t, want, collect(t, store, sst))

	for i := 0; i < 50; i++ {
		tableID := base.TableID(1)
		if i >= 25 {
			tableID = 2
		}
		require.True(t, sst.MayMatchHash(FilterHash(testKey(i), tableID)))
	}

	it := NewIterator(ctx, store, sst, CachePolicyFill)
	it.SeekGE(base.MakeFullKey(2, testKey(30), 15).Encode(nil))
	require.True(t, it.Valid())
	require.Equal(t, base.MakeFullKey(2, testKey(30), 10), it.FullKey())
	it.SeekGE(base.MakeFullKey(3, nil, base.EpochMax).Encode(nil))
	require.False(t, it.Valid())
	require.NoError(t, it.Close())

	_, blockMetrics := store.CacheMetrics()
	require.Greater(t, blockMetrics.Count, int64(0))
}

func TestBuilderOutOfOrder(t *testing.T) {
	store := newTestStore()
	opts := testBuilderOptions()
	opts.BlockCapacity = 1
	b := NewBuilder(1, NewUploadWriter(store, 1, CachePolicyFill, 0), opts, nil)
	require.NoError(t, b.Add(base.MakeFullKey(1, []byte("b"), 1), base.PutValue([]byte("x")), true))
	// The block holding "b" is full, so "a" would start a new block.
	require.Panics(t, func() {
		_ = b.Add(base.MakeFullKey(1, []byte("a"), 1), base.PutValue([]byte("x")), true)
	})
	// A newer version sorts before an older one of the same user key.
	b = NewBuilder(2, NewUploadWriter(store, 2, CachePolicyFill, 0), opts, nil)
	require.NoError(t, b.Add(base.MakeFullKey(1, []byte("b"), 1), base.PutValue([]byte("x")), true))
	require.Panics(t, func() {
		_ = b.Add(base.MakeFullKey(1, []byte("b"), 2), base.PutValue([]byte("x")), false)
	})
}

func TestIteratorCancelled(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	b := NewBuilder(1, NewUploadWriter(store, 1, CachePolicyFill, 0), testBuilderOptions(), nil)
	require.NoError(t, b.Add(base.MakeFullKey(1, []byte("a"), 1), base.PutValue([]byte("x")), true))
	out, err := b.Finish(ctx)
	require.NoError(t, err)
	sst, err := store.Sstable(ctx, &out.Info)
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	it := NewIterator(cctx, store, sst, CachePolicyDisable)
	it.Rewind()
	require.False(t, it.Valid())
	require.ErrorIs(t, it.Error(), context.Canceled)
}

func TestCapacitySplitTableBuilder(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	opts := testBuilderOptions()
	opts.Capacity = 2048
	opts.Compression = NoCompression
	f := &testFactory{store: store, opts: opts}
	w := NewCapacitySplitTableBuilder(f, nil, false)

	const n = 200
	for i := 0; i < n; i++ {
		for _, e := range []base.Epoch{30, 20, 10} {
			require.NoError(t, w.Add(ctx, base.MakeFullKey(1, testKey(i), e), base.PutValue([]byte("value"))))
		}
	}
	outs, err := w.Finish(ctx)
	require.NoError(t, err)
	require.Greater(t, len(outs), 1)

	var total uint64
	var prevRight []byte
	for _, out := range outs {
		total += out.Info.TotalKeyCount
		require.Zero(t, out.Info.TotalKeyCount%3, "versions of a user key split across tables")
		if prevRight != nil {
			prev := base.MustDecodeFullKey(prevRight).UserKey
			cur := base.MustDecodeFullKey(out.Info.KeyRange.Left).UserKey
			require.Negative(t, base.CompareUserKeys(prev, cur))
		}
		prevRight = out.Info.KeyRange.Right
	}
	require.Equal(t, uint64(3*n), total)
}

func TestCapacitySplitTableBuilderByTable(t *testing.T) {
	ctx := context.Background()
	f := &testFactory{store: newTestStore(), opts: testBuilderOptions()}
	w := NewCapacitySplitTableBuilder(f, nil, true)
	for _, id := range []base.TableID{1, 2, 3} {
		for i := 0; i < 10; i++ {
			require.NoError(t, w.Add(ctx, base.MakeFullKey(id, testKey(i), 5), base.PutValue(nil)))
		}
	}
	outs, err := w.Finish(ctx)
	require.NoError(t, err)
	require.Len(t, outs, 3)
	for i, out := range outs {
		require.Equal(t, []base.TableID{base.TableID(i + 1)}, out.Info.TableIDs)
	}
}

func TestCapacitySplitTableBuilderDeleteRanges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	opts := testBuilderOptions()
	opts.Capacity = 512
	opts.Compression = NoCompression
	f := &testFactory{store: store, opts: opts}

	var drb CompactionDeleteRangesBuilder
	drb.AddTombstones(MakeDeleteRangeTombstone(1, testKey(50), false, testKey(150), false, 15))
	w := NewCapacitySplitTableBuilder(f, drb.Build(0, false), false)
	for i := 0; i < 200; i++ {
		require.NoError(t, w.Add(ctx, base.MakeFullKey(1, testKey(i), 20), base.PutValue([]byte("v"))))
	}
	outs, err := w.Finish(ctx)
	require.NoError(t, err)
	require.Greater(t, len(outs), 2)

	var tombstones uint64
	for _, out := range outs {
		tombstones += out.Info.RangeTombstoneCount
		sst, err := store.Sstable(ctx, &out.Info)
		require.NoError(t, err)
		it := NewIterator(ctx, store, sst, CachePolicyFill)
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.FullKey().UserKey
			var i int
			_, err := fmt.Sscanf(string(k.TableKey), "key-%03d", &i)
			require.NoError(t, err)
			want := base.EpochMax
			if i >= 50 && i < 150 {
				want = 15
			}
			require.Equal(t, want, MinDeleteEpoch(sst.Meta.MonotonicEvents, k), "key %d", i)
		}
		require.NoError(t, it.Close())
	}
	require.GreaterOrEqual(t, tombstones, uint64(1))
}

func TestCapacitySplitTableBuilderEventsOnly(t *testing.T) {
	ctx := context.Background()
	store := newTestStore()
	f := &testFactory{store: store, opts: testBuilderOptions()}
	var drb CompactionDeleteRangesBuilder
	drb.AddTombstones(MakeDeleteRangeTombstone(4, []byte("a"), false, []byte("m"), false, 9))
	w := NewCapacitySplitTableBuilder(f, drb.Build(0, false), false)
	outs, err := w.Finish(ctx)
	require.NoError(t, err)
	require.Len(t, outs, 1)

	info := outs[0].Info
	require.Zero(t, info.TotalKeyCount)
	require.Equal(t, []base.TableID{4}, info.TableIDs)
	require.Equal(t, base.MakeFullKey(4, []byte("a"), base.EpochMax).Encode(nil), info.KeyRange.Left)
	require.Equal(t, base.MakeFullKey(4, []byte("m"), base.EpochMax).Encode(nil), info.KeyRange.Right)
	require.True(t, info.KeyRange.RightExclusive)

	sst, err := store.OpenSstable(ctx, info.ObjectID)
	require.NoError(t, err)
	require.Equal(t, []MonotonicDeleteEvent{
		MakeMonotonicDeleteEvent(4, []byte("a"), 9),
		MakeMonotonicDeleteEvent(4, []byte("m"), base.EpochMax),
	}, sst.Meta.MonotonicEvents)
	require.Empty(t, collect(t, store, sst))
}
