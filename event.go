// Copyright 2018 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"time"

	"github.com/cockroachdb/hummock/sstable"
	"github.com/cockroachdb/redact"
)

// CompactionInfo contains the info for a compaction event.
type CompactionInfo struct {
	TaskID            uint64
	CompactionGroupID CompactionGroupID
	// Input are the levels and object ids of the input tables.
	Input       []LevelObjects
	TargetLevel int
	// Output is populated for a successful compaction only.
	Output   []sstable.SstableInfo
	Status   TaskStatus
	Duration time.Duration
	Err      error
}

// LevelObjects lists the object ids of the tables of one level.
type LevelObjects struct {
	Level     int
	ObjectIDs []uint64
}

func makeCompactionInfo(task *CompactTask) CompactionInfo {
	info := CompactionInfo{
		TaskID:            task.TaskID,
		CompactionGroupID: task.CompactionGroupID,
		TargetLevel:       task.TargetLevel,
		Status:            TaskRunning,
	}
	for _, l := range task.InputSsts {
		lo := LevelObjects{Level: l.LevelIdx}
		for _, sst := range l.Tables {
			lo.ObjectIDs = append(lo.ObjectIDs, sst.ObjectID)
		}
		info.Input = append(info.Input, lo)
	}
	return info
}

func (i CompactionInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i CompactionInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("[JOB %d] compaction %s: %s", redact.SafeUint(i.TaskID), i.Status, i.Err)
		return
	}
	if i.Status == TaskRunning {
		w.Printf("[JOB %d] compacting(group %d)", redact.SafeUint(i.TaskID),
			redact.SafeUint(i.CompactionGroupID))
		for _, l := range i.Input {
			w.Printf(" L%d %v", redact.SafeInt(l.Level), redact.Safe(l.ObjectIDs))
		}
		w.Printf(" -> L%d", redact.SafeInt(i.TargetLevel))
		return
	}
	var size uint64
	for j := range i.Output {
		size += i.Output[j].FileSize
	}
	w.Printf("[JOB %d] compacted(group %d) -> L%d [%d tables, %d bytes] in %.1fs",
		redact.SafeUint(i.TaskID), redact.SafeUint(i.CompactionGroupID),
		redact.SafeInt(i.TargetLevel), redact.SafeInt(len(i.Output)), redact.SafeUint(size),
		redact.Safe(i.Duration.Seconds()))
}

// TableCreateInfo contains the info for a table created event.
type TableCreateInfo struct {
	TaskID   uint64
	ObjectID uint64
	FileSize uint64
}

func (i TableCreateInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i TableCreateInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	w.Printf("[JOB %d] table created %d (%d bytes)", redact.SafeUint(i.TaskID),
		redact.SafeUint(i.ObjectID), redact.SafeUint(i.FileSize))
}

// TableDeleteInfo contains the info for a table deleted event.
type TableDeleteInfo struct {
	ObjectID uint64
	Err      error
}

func (i TableDeleteInfo) String() string {
	return redact.StringWithoutMarkers(i)
}

// SafeFormat implements redact.SafeFormatter.
func (i TableDeleteInfo) SafeFormat(w redact.SafePrinter, _ rune) {
	if i.Err != nil {
		w.Printf("table delete %d error: %s", redact.SafeUint(i.ObjectID), i.Err)
		return
	}
	w.Printf("table deleted %d", redact.SafeUint(i.ObjectID))
}

// EventListener contains a set of functions that will be invoked when various
// significant compactor events occur. Note that the functions should not run
// for an excessive amount of time as they are invoked synchronously by the
// compactor and may block continued progress.
type EventListener struct {
	// BackgroundError is invoked whenever an error occurs during a background
	// operation such as polling for or reporting a task.
	BackgroundError func(error)

	// CompactionBegin is invoked after the inputs to a compaction have been
	// determined, but before the compaction has produced any output.
	CompactionBegin func(CompactionInfo)

	// CompactionEnd is invoked after a compaction has completed, whatever
	// its status.
	CompactionEnd func(CompactionInfo)

	// TableCreated is invoked when an output table has been uploaded.
	TableCreated func(TableCreateInfo)

	// TableDeleted is invoked after a table object has been deleted by
	// garbage collection.
	TableDeleted func(TableDeleteInfo)
}

// EnsureDefaults ensures that background error events are logged to the
// specified logger if a handler for those events hasn't been otherwise
// specified. Ensure all handlers are non-nil so that we don't have to check
// for nil-ness before invoking.
func (l *EventListener) EnsureDefaults(logger Logger) {
	if l.BackgroundError == nil {
		if logger != nil {
			l.BackgroundError = func(err error) {
				logger.Errorf("background error: %s", err)
			}
		} else {
			l.BackgroundError = func(error) {}
		}
	}
	if l.CompactionBegin == nil {
		l.CompactionBegin = func(info CompactionInfo) {}
	}
	if l.CompactionEnd == nil {
		l.CompactionEnd = func(info CompactionInfo) {}
	}
	if l.TableCreated == nil {
		l.TableCreated = func(info TableCreateInfo) {}
	}
	if l.TableDeleted == nil {
		l.TableDeleted = func(info TableDeleteInfo) {}
	}
}

// MakeLoggingEventListener creates an EventListener that logs all events to the
// specified logger.
func MakeLoggingEventListener(logger Logger) EventListener {
	if logger == nil {
		logger = DefaultLogger
	}

	return EventListener{
		BackgroundError: func(err error) {
			logger.Errorf("background error: %s", err)
		},
		CompactionBegin: func(info CompactionInfo) {
			logger.Infof("%s", info)
		},
		CompactionEnd: func(info CompactionInfo) {
			if info.Err != nil {
				logger.Errorf("%s", info)
				return
			}
			logger.Infof("%s", info)
		},
		TableCreated: func(info TableCreateInfo) {
			logger.Infof("%s", info)
		},
		TableDeleted: func(info TableDeleteInfo) {
			logger.Infof("%s", info)
		},
	}
}

// TeeEventListener wraps two EventListeners, forwarding all events to both.
func TeeEventListener(a, b EventListener) EventListener {
	a.EnsureDefaults(nil)
	b.EnsureDefaults(nil)
	return EventListener{
		BackgroundError: func(err error) {
			a.BackgroundError(err)
			b.BackgroundError(err)
		},
		CompactionBegin: func(info CompactionInfo) {
			a.CompactionBegin(info)
			b.CompactionBegin(info)
		},
		CompactionEnd: func(info CompactionInfo) {
			a.CompactionEnd(info)
			b.CompactionEnd(info)
		},
		TableCreated: func(info TableCreateInfo) {
			a.TableCreated(info)
			b.TableCreated(info)
		},
		TableDeleted: func(info TableDeleteInfo) {
			a.TableDeleted(info)
			b.TableDeleted(info)
		},
	}
}
