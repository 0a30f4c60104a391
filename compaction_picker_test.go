// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"testing"

	"github.com/cockroachdb/hummock/sstable"
	"github.com/stretchr/testify/require"
)

func makeLevels(counts ...int) [][]*sstable.SstableInfo {
	levels := make([][]*sstable.SstableInfo, len(counts))
	var id uint64
	for i, n := range counts {
		for j := 0; j < n; j++ {
			id++
			levels[i] = append(levels[i], &sstable.SstableInfo{ObjectID: id})
		}
	}
	return levels
}

func TestLevelTaskSelector(t *testing.T) {
	s := LevelTaskSelector{L0FileThreshold: 2, LevelFileThreshold: 3}
	testCases := []struct {
		counts []int
		ok     bool
		input  []int
		target int
	}{
		{counts: nil},
		{counts: []int{0, 0, 0}},
		{counts: []int{1, 3, 0}},
		{counts: []int{2, 5, 0}, ok: true, input: []int{0, 1}, target: 1},
		{counts: []int{1, 4, 0}, ok: true, input: []int{1, 2}, target: 2},
		{counts: []int{0, 3, 1, 9}},
		{counts: []int{0, 3, 4, 9}, ok: true, input: []int{2, 3}, target: 3},
		// The bottom level is never picked by size.
		{counts: []int{0, 0, 9}},
	}
	for _, tc := range testCases {
		inputs, target, ok := s.SelectTask(makeLevels(tc.counts...))
		require.Equal(t, tc.ok, ok, "counts %v", tc.counts)
		if !ok {
			continue
		}
		require.Equal(t, tc.target, target)
		var levels []int
		for _, in := range inputs {
			levels = append(levels, in.LevelIdx)
			require.Len(t, in.Tables, tc.counts[in.LevelIdx])
		}
		require.Equal(t, tc.input, levels)
	}
}

func TestManualTaskSelector(t *testing.T) {
	levels := makeLevels(0, 2, 1)
	_, _, ok := ManualTaskSelector{Level: 0}.SelectTask(levels)
	require.False(t, ok)
	_, _, ok = ManualTaskSelector{Level: 5}.SelectTask(levels)
	require.False(t, ok)

	inputs, target, ok := ManualTaskSelector{Level: 1}.SelectTask(levels)
	require.True(t, ok)
	require.Equal(t, 2, target)
	require.Len(t, inputs, 2)

	// The bottom level compacts into itself.
	inputs, target, ok = ManualTaskSelector{Level: 2}.SelectTask(levels)
	require.True(t, ok)
	require.Equal(t, 2, target)
	require.Equal(t, []InputLevel{{LevelIdx: 2, Tables: levels[2]}}, inputs)
}
