// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"github.com/RoaringBitmap/roaring"
)

// CompactionFilter decides whether a compaction drops a version regardless
// of the versions around it.
type CompactionFilter interface {
	ShouldDelete(key FullKey) bool
}

// StateCleanCompactionFilter drops the keys of tables that are no longer
// registered with the compaction group.
type StateCleanCompactionFilter struct {
	existing *roaring.Bitmap
	// Keys arrive sorted, so the verdict for the previous table id is
	// usually the one needed next.
	lastTable   TableID
	lastDelete  bool
	lastIsValid bool
}

// NewStateCleanCompactionFilter returns a filter keeping the keys of the
// given tables only.
func NewStateCleanCompactionFilter(existing []TableID) *StateCleanCompactionFilter {
	bm := roaring.New()
	for _, id := range existing {
		bm.Add(uint32(id))
	}
	return &StateCleanCompactionFilter{existing: bm}
}

// ShouldDelete implements CompactionFilter.
func (f *StateCleanCompactionFilter) ShouldDelete(key FullKey) bool {
	id := key.UserKey.TableID
	if !f.lastIsValid || f.lastTable != id {
		f.lastTable = id
		f.lastDelete = !f.existing.Contains(uint32(id))
		f.lastIsValid = true
	}
	return f.lastDelete
}

// TTLCompactionFilter drops the versions older than the retention of their
// table, measured back from the current epoch time of the task.
type TTLCompactionFilter struct {
	retentionSeconds map[TableID]uint32
	currentEpochTime Epoch

	lastTable   TableID
	lastMin     Epoch
	lastHasTTL  bool
	lastIsValid bool
}

// NewTTLCompactionFilter returns a filter for the given table options. Tables
// with a zero retention are kept forever.
func NewTTLCompactionFilter(opts map[TableID]TableOption, currentEpochTime Epoch) *TTLCompactionFilter {
	f := &TTLCompactionFilter{
		retentionSeconds: make(map[TableID]uint32, len(opts)),
		currentEpochTime: currentEpochTime,
	}
	for id, o := range opts {
		if o.RetentionSeconds > 0 {
			f.retentionSeconds[id] = o.RetentionSeconds
		}
	}
	return f
}

// ShouldDelete implements CompactionFilter. A version is expired when its
// epoch is at or below the current epoch time minus the retention.
func (f *TTLCompactionFilter) ShouldDelete(key FullKey) bool {
	id := key.UserKey.TableID
	if !f.lastIsValid || f.lastTable != id {
		f.lastTable = id
		f.lastIsValid = true
		var ttl uint32
		ttl, f.lastHasTTL = f.retentionSeconds[id]
		if f.lastHasTTL {
			f.lastMin = f.currentEpochTime.SubtractMs(uint64(ttl) * 1000)
		}
	}
	return f.lastHasTTL && key.Epoch <= f.lastMin
}

// MultiCompactionFilter drops a version if any of its filters does.
type MultiCompactionFilter struct {
	filters []CompactionFilter
}

// Register adds a filter.
func (f *MultiCompactionFilter) Register(filter CompactionFilter) {
	f.filters = append(f.filters, filter)
}

// Len returns the number of registered filters.
func (f *MultiCompactionFilter) Len() int {
	return len(f.filters)
}

// ShouldDelete implements CompactionFilter.
func (f *MultiCompactionFilter) ShouldDelete(key FullKey) bool {
	for _, filter := range f.filters {
		if filter.ShouldDelete(key) {
			return true
		}
	}
	return false
}

// buildCompactionFilter returns the filters selected by the mask of a task.
func buildCompactionFilter(task *CompactTask) *MultiCompactionFilter {
	f := &MultiCompactionFilter{}
	if task.CompactionFilterMask.Contains(CompactionFilterStateClean) {
		f.Register(NewStateCleanCompactionFilter(task.ExistingTableIDs))
	}
	if task.CompactionFilterMask.Contains(CompactionFilterTTL) {
		f.Register(NewTTLCompactionFilter(task.TableOptions, task.CurrentEpochTime))
	}
	return f
}
