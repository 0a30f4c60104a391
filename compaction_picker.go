// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import "github.com/cockroachdb/hummock/sstable"

// LevelTaskSelector picks level 0 once it holds L0FileThreshold tables, and
// otherwise the first intermediate level holding more than
// LevelFileThreshold tables. The chosen level is compacted into the next one.
type LevelTaskSelector struct {
	L0FileThreshold    int
	LevelFileThreshold int
}

// DefaultTaskSelector returns the selector used by the compactor loop.
func DefaultTaskSelector() LevelTaskSelector {
	return LevelTaskSelector{L0FileThreshold: 1, LevelFileThreshold: 8}
}

var _ TaskSelector = LevelTaskSelector{}

// SelectTask implements TaskSelector.
func (s LevelTaskSelector) SelectTask(
	levels [][]*sstable.SstableInfo,
) (inputs []InputLevel, targetLevel int, ok bool) {
	if len(levels) == 0 {
		return nil, 0, false
	}
	if len(levels[0]) > 0 && len(levels[0]) >= s.L0FileThreshold {
		return pickLevel(levels, 0)
	}
	for i := 1; i < len(levels)-1; i++ {
		if len(levels[i]) > s.LevelFileThreshold {
			return pickLevel(levels, i)
		}
	}
	return nil, 0, false
}

// ManualTaskSelector compacts every table of Level into the next level. The
// bottom level is compacted into itself.
type ManualTaskSelector struct {
	Level int
}

var _ TaskSelector = ManualTaskSelector{}

// SelectTask implements TaskSelector.
func (s ManualTaskSelector) SelectTask(
	levels [][]*sstable.SstableInfo,
) (inputs []InputLevel, targetLevel int, ok bool) {
	if s.Level < 0 || s.Level >= len(levels) || len(levels[s.Level]) == 0 {
		return nil, 0, false
	}
	return pickLevel(levels, s.Level)
}

func pickLevel(levels [][]*sstable.SstableInfo, level int) ([]InputLevel, int, bool) {
	inputs := []InputLevel{{LevelIdx: level, Tables: levels[level]}}
	target := level
	if level+1 < len(levels) {
		target = level + 1
		inputs = append(inputs, InputLevel{LevelIdx: target, Tables: levels[target]})
	}
	return inputs, target, true
}
