// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStateCleanCompactionFilter(t *testing.T) {
	f := NewStateCleanCompactionFilter([]TableID{1, 3, 1 << 20})
	for _, tc := range []struct {
		id     TableID
		delete bool
	}{
		{1, false}, {1, false}, {2, true}, {2, true}, {3, false}, {4, true}, {1 << 20, false},
	} {
		require.Equal(t, tc.delete, f.ShouldDelete(MakeFullKey(tc.id, []byte("k"), 1)), "table %d", tc.id)
	}
}

func TestTTLCompactionFilter(t *testing.T) {
	now := EpochFromPhysicalTime(10_000)
	f := NewTTLCompactionFilter(map[TableID]TableOption{
		1: {RetentionSeconds: 3},
		2: {RetentionSeconds: 0},
		3: {RetentionSeconds: 60},
	}, now)

	require.True(t, f.ShouldDelete(MakeFullKey(1, nil, EpochFromPhysicalTime(6_000))))
	require.True(t, f.ShouldDelete(MakeFullKey(1, nil, EpochFromPhysicalTime(7_000))))
	require.False(t, f.ShouldDelete(MakeFullKey(1, nil, EpochFromPhysicalTime(7_000)+1)))
	// No retention: kept forever.
	require.False(t, f.ShouldDelete(MakeFullKey(2, nil, 0)))
	// Retention reaching before epoch zero.
	require.False(t, f.ShouldDelete(MakeFullKey(3, nil, 1)))
	require.True(t, f.ShouldDelete(MakeFullKey(3, nil, 0)))
	// Tables without options.
	require.False(t, f.ShouldDelete(MakeFullKey(4, nil, 0)))
}

func TestBuildCompactionFilter(t *testing.T) {
	task := &CompactTask{
		ExistingTableIDs: []TableID{1, 2},
		TableOptions:     map[TableID]TableOption{2: {RetentionSeconds: 1}},
		CurrentEpochTime: EpochFromPhysicalTime(5_000),
	}
	require.Zero(t, buildCompactionFilter(task).Len())

	task.CompactionFilterMask = CompactionFilterStateClean | CompactionFilterTTL
	f := buildCompactionFilter(task)
	require.Equal(t, 2, f.Len())
	require.True(t, f.ShouldDelete(MakeFullKey(3, nil, EpochFromPhysicalTime(5_000))))
	require.True(t, f.ShouldDelete(MakeFullKey(2, nil, EpochFromPhysicalTime(3_000))))
	require.False(t, f.ShouldDelete(MakeFullKey(2, nil, EpochFromPhysicalTime(4_500))))
	require.False(t, f.ShouldDelete(MakeFullKey(1, nil, 0)))
}
