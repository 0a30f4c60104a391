// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"context"

	"github.com/cockroachdb/hummock/sstable"
	"github.com/cockroachdb/redact"
)

// CompactionGroupID identifies a compaction group: a set of state tables
// sharing one LSM tree.
type CompactionGroupID uint64

// StateDefaultCompactionGroup is the group state tables join unless placed
// elsewhere.
const StateDefaultCompactionGroup CompactionGroupID = 2

// TaskStatus is the state of a compaction task.
type TaskStatus uint8

const (
	TaskPending TaskStatus = iota
	TaskRunning
	TaskSuccess
	TaskFailed
	TaskCancelled
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskSuccess:
		return "success"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// SafeFormat implements redact.SafeFormatter.
func (s TaskStatus) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Print(redact.SafeString(s.String()))
}

// CompactionFilterMask selects the compaction filters of a task.
type CompactionFilterMask uint32

const (
	// CompactionFilterNone disables the compaction filters.
	CompactionFilterNone CompactionFilterMask = 0
	// CompactionFilterStateClean drops the keys of tables unregistered from
	// the compaction group.
	CompactionFilterStateClean CompactionFilterMask = 1 << 0
	// CompactionFilterTTL drops the keys whose table retention elapsed.
	CompactionFilterTTL CompactionFilterMask = 1 << 1
)

// Contains returns true if every filter of o is in m.
func (m CompactionFilterMask) Contains(o CompactionFilterMask) bool {
	return m&o == o
}

// TableOption are the per-table options a compaction honours.
type TableOption struct {
	// RetentionSeconds is the time-to-live of the table's versions. Zero
	// keeps versions forever.
	RetentionSeconds uint32
}

// InputLevel is the set of input tables of a task taken from one level.
type InputLevel struct {
	LevelIdx int
	Tables   []*sstable.SstableInfo
}

// CompactTask is a compaction assigned by the metadata service.
type CompactTask struct {
	TaskID            uint64
	CompactionGroupID CompactionGroupID
	InputSsts         []InputLevel
	TargetLevel       int
	// Watermark is the epoch below which versions of a key that are not the
	// newest one visible at the watermark may be dropped.
	Watermark Epoch
	// GCDeleteKeys is set when the target level is the bottom level: deletes
	// at or below the watermark have nothing left to shadow.
	GCDeleteKeys         bool
	CompactionFilterMask CompactionFilterMask
	TableOptions         map[TableID]TableOption
	// CurrentEpochTime is the epoch the TTL filter measures retention from.
	CurrentEpochTime Epoch
	// ExistingTableIDs are the tables registered with the compaction group.
	// The state-clean filter drops the keys of any other table.
	ExistingTableIDs []TableID
	// TargetFileSize overrides the configured output table size when
	// non-zero.
	TargetFileSize int64
}

// InputObjectIDs returns the object ids of every input table.
func (t *CompactTask) InputObjectIDs() []uint64 {
	var ids []uint64
	for _, l := range t.InputSsts {
		for _, sst := range l.Tables {
			ids = append(ids, sst.ObjectID)
		}
	}
	return ids
}

// inputTables returns every input table.
func (t *CompactTask) inputTables() []*sstable.SstableInfo {
	var res []*sstable.SstableInfo
	for _, l := range t.InputSsts {
		res = append(res, l.Tables...)
	}
	return res
}

// SafeFormat implements redact.SafeFormatter.
func (t *CompactTask) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("task %d group %d:", redact.SafeUint(t.TaskID), redact.SafeUint(t.CompactionGroupID))
	for _, l := range t.InputSsts {
		w.Printf(" L%d[%d]", redact.SafeInt(l.LevelIdx), redact.SafeInt(len(l.Tables)))
	}
	w.Printf(" -> L%d watermark=%s", redact.SafeInt(t.TargetLevel), t.Watermark)
}

func (t *CompactTask) String() string {
	return redact.StringWithoutMarkers(t)
}

// CompactTaskResult is the outcome of a task, reported to the metadata
// service.
type CompactTaskResult struct {
	TaskID            uint64
	CompactionGroupID CompactionGroupID
	Status            TaskStatus
	// OutputSsts are the tables written, sorted by key range. Only a
	// successful task has outputs.
	OutputSsts []sstable.SstableInfo
	// InputObjectIDs are the tables superseded by the outputs.
	InputObjectIDs []uint64
	// Err is the cause of a failed or cancelled task. It is not reported.
	Err error
}

// SstIDRange is the half-open range of object ids [Start, End).
type SstIDRange struct {
	Start, End uint64
}

// Len returns the number of ids in the range.
func (r SstIDRange) Len() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// TaskSelector chooses the input of the next task of a compaction group from
// its levels. Level 0 is first.
type TaskSelector interface {
	SelectTask(levels [][]*sstable.SstableInfo) (inputs []InputLevel, targetLevel int, ok bool)
}

// HummockMetaClient is the interface of the metadata service a compactor
// depends on.
type HummockMetaClient interface {
	// CompactionGroupIDs returns the compaction groups to poll for tasks.
	CompactionGroupIDs(ctx context.Context) ([]CompactionGroupID, error)
	// GetCompactTask assigns the next task of a group, or returns nil if the
	// group needs no compaction.
	GetCompactTask(ctx context.Context, group CompactionGroupID, selector TaskSelector) (*CompactTask, error)
	// ReportCompactTask reports the result of a task exactly once. A
	// successful result atomically replaces the inputs with the outputs.
	ReportCompactTask(ctx context.Context, result *CompactTaskResult, stats sstable.TableStatsMap) error
	// GetNewSstIDs allocates count globally unique object ids.
	GetNewSstIDs(ctx context.Context, count uint32) (SstIDRange, error)
}
